// Package feed aggregates every source into one snapshot and keeps it fresh
// with a stale-while-revalidate policy and a periodic poll.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"eventfeed/internal/cache"
	appLog "eventfeed/internal/log"
	"eventfeed/internal/model"
	"eventfeed/internal/sources"
)

const (
	// DefaultSchedule polls every 30 minutes.
	DefaultSchedule = "*/30 * * * *"

	cacheKey          = "all_events"
	backgroundTimeout = 60 * time.Second
)

// ErrNoData is returned by GetAll when the refresh failed and nothing was
// cached to fall back on.
var ErrNoData = errors.New("feed: no data available")

// Source is what the aggregator needs from the adapters.
type Source interface {
	FetchKind(ctx context.Context, kind model.Kind) []model.Tagged
	FetchCombined(ctx context.Context) (sources.Combined, error)
	HasCombined() bool
}

// Snapshot is one aggregate of every source.
type Snapshot struct {
	ByKind    map[model.Kind][]model.Tagged `json:"byKind"`
	Timestamp int64                         `json:"timestamp"` // epoch ms
}

// All flattens the snapshot in the fixed kind order.
func (s Snapshot) All() []model.Tagged {
	n := 0
	for _, evs := range s.ByKind {
		n += len(evs)
	}
	out := make([]model.Tagged, 0, n)
	for _, kind := range model.Kinds {
		out = append(out, s.ByKind[kind]...)
	}
	return out
}

// Count returns the number of events across all kinds.
func (s Snapshot) Count() int {
	n := 0
	for _, evs := range s.ByKind {
		n += len(evs)
	}
	return n
}

// Options configures an Aggregator.
type Options struct {
	Source Source
	Cache  *cache.Cache
	// Schedule is a cron expression for the periodic refresh.
	Schedule string
	Location *time.Location
	Now      func() time.Time
}

// Aggregator serves the last known snapshot immediately and refreshes in the
// background. Concurrent refreshes, whether from the timer or from Refresh,
// join the same in-flight fetch.
type Aggregator struct {
	src      Source
	cache    *cache.Cache
	schedule string
	location *time.Location
	now      func() time.Time

	mu      sync.RWMutex
	current *Snapshot

	flight singleflight.Group
	bg     sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New builds an Aggregator.
func New(opts Options) *Aggregator {
	schedule := opts.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		src:      opts.Source,
		cache:    opts.Cache,
		schedule: schedule,
		location: loc,
		now:      now,
		subs:     make(map[int]func(Snapshot)),
	}
}

// GetAll returns the current aggregate. When anything is in memory or in the
// cache it is returned at once and a refresh starts in the background. With
// nothing cached it waits for the fetch and returns ErrNoData on failure.
func (a *Aggregator) GetAll(ctx context.Context) (Snapshot, error) {
	if snap, ok := a.stale(ctx); ok {
		a.refreshInBackground()
		return snap, nil
	}

	snap, err := a.Refresh(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrNoData, err)
	}
	return snap, nil
}

// Current returns the in-memory snapshot without touching cache or network.
func (a *Aggregator) Current() (Snapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.current == nil {
		return Snapshot{}, false
	}
	return *a.current, true
}

// stale returns the in-memory snapshot, loading it from the cache layer on
// first use.
func (a *Aggregator) stale(ctx context.Context) (Snapshot, bool) {
	if snap, ok := a.Current(); ok {
		return snap, true
	}
	entry, ok := cache.Get[Snapshot](ctx, a.cache, cacheKey)
	if !ok {
		return Snapshot{}, false
	}

	a.mu.Lock()
	if a.current == nil {
		a.current = &entry.Data
	}
	snap := *a.current
	a.mu.Unlock()

	appLog.Info("feed served from cache", "cached_at", entry.Time().Format(time.RFC3339), "events", snap.Count())
	return snap, true
}

// Refresh fetches every source, and on success replaces the in-memory
// snapshot, writes the cache and notifies subscribers. On failure the
// previous snapshot is kept.
func (a *Aggregator) Refresh(ctx context.Context) (Snapshot, error) {
	v, err, shared := a.flight.Do(cacheKey, func() (any, error) {
		return a.fetch(ctx)
	})
	if err != nil {
		return Snapshot{}, err
	}
	if shared {
		appLog.Debug("feed refresh joined in-flight fetch")
	}
	return v.(Snapshot), nil
}

func (a *Aggregator) refreshInBackground() {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if _, err := a.Refresh(ctx); err != nil {
			appLog.Error("feed background refresh failed; serving stale data", err)
		}
	}()
}

func (a *Aggregator) fetch(ctx context.Context) (Snapshot, error) {
	start := a.now()

	var byKind map[model.Kind][]model.Tagged
	stamp := start
	if a.src.HasCombined() {
		combined, err := a.src.FetchCombined(ctx)
		if err != nil {
			appLog.Error("feed combined fetch failed", err)
			return Snapshot{}, err
		}
		byKind = combined.ByKind
		if !combined.Timestamp.IsZero() {
			stamp = combined.Timestamp
		}
	} else {
		byKind = a.fanOut(ctx)
	}

	snap := Snapshot{ByKind: byKind, Timestamp: stamp.UnixMilli()}

	a.mu.Lock()
	a.current = &snap
	a.mu.Unlock()

	cache.Set(ctx, a.cache, cacheKey, snap)

	appLog.Info("feed refreshed", "events", snap.Count(), "took", a.now().Sub(start).String())
	a.publish(snap)
	return snap, nil
}

// fanOut runs every adapter concurrently. Adapters never fail, so one
// broken source only leaves its own kind empty.
func (a *Aggregator) fanOut(ctx context.Context) map[model.Kind][]model.Tagged {
	results := make([][]model.Tagged, len(model.Kinds))

	var wg sync.WaitGroup
	for i, kind := range model.Kinds {
		wg.Add(1)
		go func(i int, kind model.Kind) {
			defer wg.Done()
			results[i] = a.src.FetchKind(ctx, kind)
		}(i, kind)
	}
	wg.Wait()

	out := make(map[model.Kind][]model.Tagged, len(model.Kinds))
	for i, kind := range model.Kinds {
		out[kind] = results[i]
	}
	return out
}

// Subscribe registers fn to receive every new snapshot. The returned func
// removes the subscription.
func (a *Aggregator) Subscribe(fn func(Snapshot)) func() {
	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.subMu.Unlock()

	return func() {
		a.subMu.Lock()
		delete(a.subs, id)
		a.subMu.Unlock()
	}
}

func (a *Aggregator) publish(snap Snapshot) {
	a.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Start installs the periodic refresh and kicks off an initial one.
func (a *Aggregator) Start(ctx context.Context) error {
	a.cronMu.Lock()
	defer a.cronMu.Unlock()
	if a.cron != nil {
		return errors.New("feed: already started")
	}

	c := cron.New(cron.WithLocation(a.location))
	if _, err := c.AddFunc(a.schedule, func() {
		if _, err := a.Refresh(ctx); err != nil {
			appLog.Error("feed scheduled refresh failed", err)
		}
	}); err != nil {
		return fmt.Errorf("feed: invalid schedule %q: %w", a.schedule, err)
	}
	c.Start()
	a.cron = c

	appLog.Info("feed poller started", "schedule", a.schedule)
	a.refreshInBackground()
	return nil
}

// Stop halts the poller and waits for running refreshes.
func (a *Aggregator) Stop() {
	a.cronMu.Lock()
	c := a.cron
	a.cron = nil
	a.cronMu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	a.bg.Wait()
}
