package backend

import (
	"context"
	"sync"
	"time"

	appLog "eventfeed/internal/log"
	"eventfeed/internal/model"
)

// WantFunc reports whether an event is currently bookmarked locally.
type WantFunc func(ctx context.Context, kind model.Kind, eventID string) bool

type mirrorKey struct {
	kind model.Kind
	id   string
}

// Mirror pushes local bookmark changes to a Toggler from a single worker.
// Queued events are processed in the order they were queued, and each one
// drives the remote side to the local state read at processing time, so a
// late or reordered notification cannot leave the two sides apart.
type Mirror struct {
	toggler *Toggler
	want    WantFunc
	timeout time.Duration

	mu      sync.Mutex
	queue   []mirrorKey
	pending map[mirrorKey]bool
	wake    chan struct{}
	idle    chan struct{} // closed while the queue is empty and nothing runs
	busy    bool
}

func NewMirror(toggler *Toggler, want WantFunc, timeout time.Duration) *Mirror {
	idle := make(chan struct{})
	close(idle)
	return &Mirror{
		toggler: toggler,
		want:    want,
		timeout: timeout,
		pending: make(map[mirrorKey]bool),
		wake:    make(chan struct{}, 1),
		idle:    idle,
	}
}

// Enqueue schedules one event for reconciliation. It never blocks.
func (m *Mirror) Enqueue(kind model.Kind, eventID string) {
	k := mirrorKey{kind: kind, id: eventID}
	m.mu.Lock()
	if !m.pending[k] {
		m.pending[k] = true
		m.queue = append(m.queue, k)
	}
	if !m.busy {
		m.busy = true
		m.idle = make(chan struct{})
	}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Idle returns a channel that is closed once every queued event has been
// processed.
func (m *Mirror) Idle() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idle
}

// Run loads the remote state and then drains the queue until ctx is done.
func (m *Mirror) Run(ctx context.Context) {
	loadCtx, cancel := m.requestContext(ctx)
	if err := m.toggler.Load(loadCtx); err != nil {
		appLog.Error("remote bookmark load failed", err)
	}
	cancel()

	for {
		k, ok := m.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
				continue
			}
		}
		m.apply(ctx, k)
	}
}

func (m *Mirror) next() (mirrorKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		if m.busy {
			m.busy = false
			close(m.idle)
		}
		return mirrorKey{}, false
	}
	k := m.queue[0]
	m.queue = m.queue[1:]
	delete(m.pending, k)
	return k, true
}

func (m *Mirror) apply(ctx context.Context, k mirrorKey) {
	reqCtx, cancel := m.requestContext(ctx)
	defer cancel()
	on := m.want(reqCtx, k.kind, k.id)
	if err := m.toggler.Set(reqCtx, k.kind, k.id, on); err != nil {
		appLog.Error("remote bookmark sync failed", err, "key", model.Key(k.kind, k.id), "on", on)
	}
}

func (m *Mirror) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}
