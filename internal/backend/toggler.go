package backend

import (
	"context"
	"sync"

	appLog "eventfeed/internal/log"
	"eventfeed/internal/model"
)

type remoteState struct {
	id string // backend bookmark ID, empty until known
	on bool
}

// Toggler mirrors one user's remote bookmarks. State flips immediately and
// is reverted if the backend call fails. Backend requests for one event are
// never in flight at the same time.
type Toggler struct {
	client *Client
	userID string

	keyLocks sync.Map // key -> *sync.Mutex

	mu      sync.Mutex
	state   map[string]remoteState
	gen     uint64
	touched map[string]uint64 // key -> gen of its last Set
}

func NewToggler(client *Client, userID string) *Toggler {
	return &Toggler{
		client:  client,
		userID:  userID,
		state:   make(map[string]remoteState),
		touched: make(map[string]uint64),
	}
}

// Load replaces the local mirror with the user's current remote bookmarks.
// Keys set while the listing was in flight keep their newer state.
func (t *Toggler) Load(ctx context.Context) error {
	t.mu.Lock()
	startGen := t.gen
	t.mu.Unlock()

	list, err := t.client.ListFor(ctx, t.userID, t.userID, "")
	if err != nil {
		return err
	}
	state := make(map[string]remoteState, len(list))
	for _, b := range list {
		kind, ok := model.KindFromSource(b.Source)
		if !ok {
			continue
		}
		state[model.Key(kind, b.EventID)] = remoteState{id: b.ID, on: true}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for key, g := range t.touched {
		if g <= startGen {
			continue
		}
		if cur, ok := t.state[key]; ok {
			state[key] = cur
		} else {
			delete(state, key)
		}
	}
	t.state = state
	return nil
}

func (t *Toggler) keyLock(key string) *sync.Mutex {
	l, _ := t.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// touchLocked records a state change of key. t.mu must be held.
func (t *Toggler) touchLocked(key string) {
	t.gen++
	t.touched[key] = t.gen
}

// IsOn reports the mirrored state of one event.
func (t *Toggler) IsOn(kind model.Kind, eventID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state[model.Key(kind, eventID)].on
}

// Toggle flips the remote bookmark and returns the new state.
func (t *Toggler) Toggle(ctx context.Context, kind model.Kind, eventID string) (bool, error) {
	on := !t.IsOn(kind, eventID)
	if err := t.Set(ctx, kind, eventID, on); err != nil {
		return !on, err
	}
	return on, nil
}

// Set drives the remote bookmark to on. The mirror changes before the
// request is sent; on failure it is restored and the error returned.
func (t *Toggler) Set(ctx context.Context, kind model.Kind, eventID string, on bool) error {
	if t.userID == "" || eventID == "" {
		return ErrInvalidArgument
	}
	key := model.Key(kind, eventID)

	kl := t.keyLock(key)
	kl.Lock()
	defer kl.Unlock()

	t.mu.Lock()
	prev := t.state[key]
	if prev.on == on {
		t.mu.Unlock()
		return nil
	}
	t.state[key] = remoteState{id: prev.id, on: on}
	t.touchLocked(key)
	t.mu.Unlock()

	var (
		next remoteState
		err  error
	)
	if on {
		var b Bookmark
		b, err = t.client.Create(ctx, t.userID, string(kind), eventID)
		next = remoteState{id: b.ID, on: true}
	} else {
		id := prev.id
		if id == "" {
			id, err = t.lookup(ctx, kind, eventID)
		}
		if err == nil && id != "" {
			err = t.client.Remove(ctx, id, t.userID, string(kind), eventID)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		appLog.Warn("remote bookmark update failed, reverting", "key", key, "on", on, "err", err)
		if prev.on {
			t.state[key] = prev
		} else {
			delete(t.state, key)
		}
		t.touchLocked(key)
		return err
	}
	t.touchLocked(key)
	if next.on {
		t.state[key] = next
	} else {
		delete(t.state, key)
	}
	return nil
}

// lookup finds the backend ID of one of the user's bookmarks. An empty ID
// with a nil error means the backend has no such bookmark.
func (t *Toggler) lookup(ctx context.Context, kind model.Kind, eventID string) (string, error) {
	list, err := t.client.ListFor(ctx, t.userID, t.userID, string(kind))
	if err != nil {
		return "", err
	}
	for _, b := range list {
		if b.EventID == eventID {
			return b.ID, nil
		}
	}
	return "", nil
}
