package bookmarks

import (
	"sort"
	"sync"

	"eventfeed/internal/model"
)

// Changed is published after a toggle has been persisted.
type Changed struct {
	Mark Mark
	Kind model.Kind
	ID   string
	On   bool
}

// Key is the composite "<kind>-<id>" key of the toggled event.
func (c Changed) Key() string { return model.Key(c.Kind, c.ID) }

type subscription struct {
	key string // empty matches every event
	fn  func(Changed)
}

// Bus delivers Changed notifications synchronously, in publish order, to
// subscribers in the order they subscribed.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers fn for changes to one event. The returned func removes
// the subscription.
func (b *Bus) Subscribe(kind model.Kind, id string, fn func(Changed)) func() {
	return b.add(model.Key(kind, id), fn)
}

// SubscribeAll registers fn for every change.
func (b *Bus) SubscribeAll(fn func(Changed)) func() {
	return b.add("", fn)
}

func (b *Bus) add(key string, fn func(Changed)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscription{key: key, fn: fn}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish calls every matching subscriber before returning.
func (b *Bus) Publish(c Changed) {
	key := c.Key()

	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id, s := range b.subs {
		if s.key == "" || s.key == key {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	fns := make([]func(Changed), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id].fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}
