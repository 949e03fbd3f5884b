package backend

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"eventfeed/internal/model"
)

// localMarks stands in for the local bookmark store.
type localMarks struct {
	mu sync.Mutex
	on map[string]bool
}

func (l *localMarks) set(kind model.Kind, id string, on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on[model.Key(kind, id)] = on
}

func (l *localMarks) want(_ context.Context, kind model.Kind, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on[model.Key(kind, id)]
}

func waitIdle(t *testing.T, m *Mirror) {
	t.Helper()
	select {
	case <-m.Idle():
	case <-time.After(5 * time.Second):
		t.Fatalf("mirror did not drain")
	}
}

func TestMirrorSlowCreateThenRemove(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signer := testSigner(t)
	fs, srv := newFakeService(t, signer)
	fs.slow(http.MethodPost, 150*time.Millisecond)
	arrived := fs.watch()

	tg := NewToggler(New(srv.URL, signer, srv.Client()), "42")
	local := &localMarks{on: make(map[string]bool)}
	m := NewMirror(tg, local.want, time.Second)
	go m.Run(ctx)
	<-arrived // initial load

	local.set(model.KindRA, "ra-1", true)
	m.Enqueue(model.KindRA, "ra-1")
	if got := <-arrived; got != "POST /bookmarks" {
		t.Fatalf("first request = %q", got)
	}

	// Turned off again while the create is still in flight.
	local.set(model.KindRA, "ra-1", false)
	m.Enqueue(model.KindRA, "ra-1")

	waitIdle(t, m)
	if n := fs.count(); n != 0 {
		t.Fatalf("remote bookmarks = %d, want 0", n)
	}
	if tg.IsOn(model.KindRA, "ra-1") {
		t.Fatalf("mirror still on")
	}
}

func TestMirrorUsesStateAtProcessingTime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signer := testSigner(t)
	fs, srv := newFakeService(t, signer)
	tg := NewToggler(New(srv.URL, signer, srv.Client()), "42")
	local := &localMarks{on: make(map[string]bool)}
	m := NewMirror(tg, local.want, time.Second)

	// Duplicate notifications queued before the worker starts collapse into
	// one request.
	local.set(model.KindLuma, "evt-1", true)
	m.Enqueue(model.KindLuma, "evt-1")
	m.Enqueue(model.KindLuma, "evt-1")
	go m.Run(ctx)

	waitIdle(t, m)
	if n := fs.count(); n != 1 {
		t.Fatalf("remote bookmarks = %d, want 1", n)
	}
	if !tg.IsOn(model.KindLuma, "evt-1") {
		t.Fatalf("mirror should be on")
	}
}

func TestTogglerSerializesOneEvent(t *testing.T) {
	ctx := context.Background()
	signer := testSigner(t)
	fs, srv := newFakeService(t, signer)
	fs.slow(http.MethodPost, 150*time.Millisecond)
	arrived := fs.watch()
	tg := NewToggler(New(srv.URL, signer, srv.Client()), "42")

	done := make(chan error, 1)
	go func() { done <- tg.Set(ctx, model.KindRA, "ra-2", true) }()
	<-arrived

	if err := tg.Set(ctx, model.KindRA, "ra-2", false); err != nil {
		t.Fatalf("Set off: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Set on: %v", err)
	}
	if n := fs.count(); n != 0 {
		t.Fatalf("remote bookmarks = %d, want 0", n)
	}
	if tg.IsOn(model.KindRA, "ra-2") {
		t.Fatalf("mirror still on")
	}
}

func TestTogglerLoadKeepsNewerSets(t *testing.T) {
	ctx := context.Background()
	signer := testSigner(t)
	fs, srv := newFakeService(t, signer)
	c := New(srv.URL, signer, srv.Client())
	if _, err := c.Create(ctx, "42", "ra", "ra-9"); err != nil {
		t.Fatal(err)
	}
	fs.slow(http.MethodGet, 150*time.Millisecond)
	arrived := fs.watch()

	tg := NewToggler(c, "42")
	done := make(chan error, 1)
	go func() { done <- tg.Load(ctx) }()
	<-arrived

	// Set while the listing is in flight.
	if err := tg.Set(ctx, model.KindRA, "ra-10", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !tg.IsOn(model.KindRA, "ra-10") {
		t.Fatalf("Load dropped a newer Set")
	}
	if !tg.IsOn(model.KindRA, "ra-9") {
		t.Fatalf("Load lost remote state")
	}
}
