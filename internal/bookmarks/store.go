// Package bookmarks persists the user's per-event "bookmark" and "going"
// marks and broadcasts every change on a typed bus.
package bookmarks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"eventfeed/internal/kv"
	appLog "eventfeed/internal/log"
	"eventfeed/internal/model"
	"eventfeed/internal/reminder"
)

// DefaultCacheTTL bounds how long GetAll serves its aggregated result.
const DefaultCacheTTL = 5 * time.Minute

// ErrUnknownKind is returned when toggling an event of an unsupported kind.
var ErrUnknownKind = errors.New("bookmarks: unknown event kind")

// PrimarySource refetches the primary catalog. Bookmarked primary events are
// resolved against it on read.
type PrimarySource interface {
	FetchPrimary(ctx context.Context) []model.PrimaryEvent
}

// Reminders is the part of the reminder scheduler the store drives.
type Reminders interface {
	ScheduleStartsSoon(ctx context.Context, ev model.Tagged, lead time.Duration) (reminder.Reminder, error)
	Cancel(key string) bool
}

type Options struct {
	KV           kv.Store
	Primary      PrimarySource
	Reminders    Reminders
	ReminderLead time.Duration
	CacheTTL     time.Duration
	Now          func() time.Time
}

type Store struct {
	kv        kv.Store
	primary   PrimarySource
	reminders Reminders
	lead      time.Duration
	ttl       time.Duration
	now       func() time.Time
	bus       *Bus

	// Serializes toggles so two toggles of one event cannot lose updates.
	mu          sync.Mutex
	gen         uint64 // bumped by every toggle; guards cache writes
	collections map[Mark]map[model.Kind]collection
}

func New(opts Options) *Store {
	if opts.KV == nil {
		opts.KV = kv.NewMemory()
	}
	if opts.ReminderLead <= 0 {
		opts.ReminderLead = reminder.DefaultLead
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		kv:          opts.KV,
		primary:     opts.Primary,
		reminders:   opts.Reminders,
		lead:        opts.ReminderLead,
		ttl:         opts.CacheTTL,
		now:         opts.Now,
		bus:         NewBus(),
		collections: make(map[Mark]map[model.Kind]collection, len(Marks)),
	}
	for _, m := range Marks {
		s.collections[m] = newCollections(opts.KV, m)
	}
	return s
}

// Bus returns the change bus.
func (s *Store) Bus() *Bus { return s.bus }

func (s *Store) collection(mark Mark, kind model.Kind) (collection, bool) {
	byKind, ok := s.collections[mark]
	if !ok {
		return nil, false
	}
	c, ok := byKind[kind]
	return c, ok
}

// IsMarked reports whether ev currently carries mark. Read failures count as
// not marked.
func (s *Store) IsMarked(ctx context.Context, mark Mark, ev model.Tagged) bool {
	c, ok := s.collection(mark, ev.Kind)
	if !ok {
		return false
	}
	id := ev.ID()
	if id == "" {
		return false
	}
	return c.isOn(ctx, id)
}

// IsMarkedKey is IsMarked for callers that only hold the event's kind and ID.
func (s *Store) IsMarkedKey(ctx context.Context, mark Mark, kind model.Kind, id string) bool {
	c, ok := s.collection(mark, kind)
	if !ok || id == "" {
		return false
	}
	return c.isOn(ctx, id)
}

func (s *Store) IsBookmarked(ctx context.Context, ev model.Tagged) bool {
	return s.IsMarked(ctx, MarkBookmark, ev)
}

func (s *Store) IsGoing(ctx context.Context, ev model.Tagged) bool {
	return s.IsMarked(ctx, MarkGoing, ev)
}

// Toggle flips mark on ev and returns the new state. The change is persisted,
// the reminder is scheduled or cancelled, and the aggregate cache is dropped
// before subscribers are notified. Subscribers have all been called when
// Toggle returns.
func (s *Store) Toggle(ctx context.Context, mark Mark, ev model.Tagged) (bool, error) {
	c, ok := s.collection(mark, ev.Kind)
	if !ok {
		if _, known := s.collections[mark]; !known {
			return false, fmt.Errorf("bookmarks: unknown mark %q", mark)
		}
		return false, fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}

	s.mu.Lock()
	on, err := c.toggle(ctx, ev.Event)
	if err != nil {
		s.mu.Unlock()
		return on, err
	}
	s.gen++
	s.updateReminder(ctx, ev, on)
	s.invalidate(ctx, mark)
	s.mu.Unlock()

	appLog.Debug("bookmark toggled", "mark", mark.String(), "key", ev.Key(), "on", on)
	s.bus.Publish(Changed{Mark: mark, Kind: ev.Kind, ID: ev.ID(), On: on})
	return on, nil
}

func (s *Store) ToggleBookmark(ctx context.Context, ev model.Tagged) (bool, error) {
	return s.Toggle(ctx, MarkBookmark, ev)
}

func (s *Store) ToggleGoing(ctx context.Context, ev model.Tagged) (bool, error) {
	return s.Toggle(ctx, MarkGoing, ev)
}

// updateReminder schedules a reminder when a mark turns on for a future
// event and cancels it once neither mark is set.
func (s *Store) updateReminder(ctx context.Context, ev model.Tagged, on bool) {
	if s.reminders == nil {
		return
	}
	if !on {
		if !s.IsBookmarked(ctx, ev) && !s.IsGoing(ctx, ev) {
			s.reminders.Cancel(ev.Key())
		}
		return
	}
	start, ok := ev.Start()
	if !ok || !start.After(s.now()) {
		return
	}
	if _, err := s.reminders.ScheduleStartsSoon(ctx, ev, s.lead); err != nil {
		if errors.Is(err, reminder.ErrInPast) {
			appLog.Debug("reminder skipped, event starts too soon", "key", ev.Key())
			return
		}
		appLog.Error("reminder schedule failed", err, "key", ev.Key())
	}
}

func (s *Store) invalidate(ctx context.Context, mark Mark) {
	for _, key := range []string{mark.cacheKey(), mark.cacheTimestampKey()} {
		if err := s.kv.Delete(ctx, key); err != nil {
			appLog.Error("bookmark cache invalidate failed", err, "key", key)
		}
	}
}

// GetAll returns every event carrying mark, sorted by start. Marked primary
// events are resolved against a fresh primary fetch and omitted when they
// cannot be resolved. With useCache, a result younger than the cache TTL is
// returned without touching any source. A result computed while a toggle
// landed is returned but not cached.
func (s *Store) GetAll(ctx context.Context, mark Mark, useCache bool) ([]model.Tagged, error) {
	if _, ok := s.collections[mark]; !ok {
		return nil, fmt.Errorf("bookmarks: unknown mark %q", mark)
	}
	if useCache {
		if events, ok := s.cached(ctx, mark); ok {
			return events, nil
		}
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	out := s.resolvePrimary(ctx, mark)
	for _, kind := range model.Kinds {
		if kind == model.KindPrimary {
			continue
		}
		out = append(out, s.Stored(ctx, mark, kind)...)
	}
	model.SortByStart(out, false)

	s.mu.Lock()
	if s.gen == gen {
		s.storeCache(ctx, mark, out)
	} else {
		appLog.Debug("bookmark cache write skipped, marks changed during read", "mark", mark.String())
	}
	s.mu.Unlock()
	return out, nil
}

// GetAllBookmarked is GetAll for the bookmark mark.
func (s *Store) GetAllBookmarked(ctx context.Context, useCache bool) ([]model.Tagged, error) {
	return s.GetAll(ctx, MarkBookmark, useCache)
}

func (s *Store) resolvePrimary(ctx context.Context, mark Mark) []model.Tagged {
	ids := s.PrimaryIDs(ctx, mark)
	if len(ids) == 0 || s.primary == nil {
		return []model.Tagged{}
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := []model.Tagged{}
	for _, ev := range s.primary.FetchPrimary(ctx) {
		if want[model.IDOf(model.KindPrimary, ev)] {
			out = append(out, model.Tag(model.KindPrimary, ev))
		}
	}
	return out
}

// PrimaryIDs returns the IDs of marked primary events.
func (s *Store) PrimaryIDs(ctx context.Context, mark Mark) []string {
	c, ok := s.collection(mark, model.KindPrimary)
	if !ok {
		return nil
	}
	return c.ids(ctx)
}

// Stored returns the locally stored objects of one non-primary kind.
func (s *Store) Stored(ctx context.Context, mark Mark, kind model.Kind) []model.Tagged {
	c, ok := s.collection(mark, kind)
	if !ok {
		return nil
	}
	return c.stored(ctx)
}

// MarkedKeys returns the "<kind>-<id>" keys of every event carrying mark.
func (s *Store) MarkedKeys(ctx context.Context, mark Mark) map[string]bool {
	out := make(map[string]bool)
	for _, kind := range model.Kinds {
		c, ok := s.collection(mark, kind)
		if !ok {
			continue
		}
		for _, id := range c.ids(ctx) {
			out[model.Key(kind, id)] = true
		}
	}
	return out
}

func (s *Store) cached(ctx context.Context, mark Mark) ([]model.Tagged, bool) {
	rawTS, ok, err := s.kv.Get(ctx, mark.cacheTimestampKey())
	if err != nil || !ok {
		return nil, false
	}
	ts, err := strconv.ParseInt(string(rawTS), 10, 64)
	if err != nil {
		return nil, false
	}
	if s.now().Sub(time.UnixMilli(ts)) >= s.ttl {
		return nil, false
	}
	raw, ok, err := s.kv.Get(ctx, mark.cacheKey())
	if err != nil || !ok {
		return nil, false
	}
	var events []model.Tagged
	if err := json.Unmarshal(raw, &events); err != nil {
		appLog.Error("bookmark cache decode failed", err, "key", mark.cacheKey())
		return nil, false
	}
	return events, true
}

func (s *Store) storeCache(ctx context.Context, mark Mark, events []model.Tagged) {
	raw, err := json.Marshal(events)
	if err != nil {
		appLog.Error("bookmark cache encode failed", err)
		return
	}
	if err := s.kv.Set(ctx, mark.cacheKey(), raw); err != nil {
		appLog.Error("bookmark cache write failed", err, "key", mark.cacheKey())
		return
	}
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.kv.Set(ctx, mark.cacheTimestampKey(), []byte(ts)); err != nil {
		appLog.Error("bookmark cache write failed", err, "key", mark.cacheTimestampKey())
	}
}
