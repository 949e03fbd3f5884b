package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"eventfeed/internal/model"
	"eventfeed/internal/wallet"
)

// fakeService is an in-memory bookmark backend that recovers the signer of
// every request and rejects signatures from any other address.
type fakeService struct {
	t       *testing.T
	address string

	// delay holds a response back after the request has been applied;
	// arrived receives "METHOD /path" per request.
	mu        sync.Mutex
	delay     map[string]time.Duration
	arrived   chan string
	nextID    int
	bookmarks []Bookmark
	failNext  int // status to return on the next request, 0 for none
	requests  []string
}

func newFakeService(t *testing.T, signer *wallet.Signer) (*fakeService, *httptest.Server) {
	t.Helper()
	fs := &fakeService{t: t, address: signer.Address(), nextID: 1}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	return fs, srv
}

func (f *fakeService) slow(method string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delay == nil {
		f.delay = make(map[string]time.Duration)
	}
	f.delay[method] = d
}

func (f *fakeService) watch() <-chan string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.arrived = make(chan string, 16)
	return f.arrived
}

func (f *fakeService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bookmarks)
}

func (f *fakeService) takeRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.requests
	f.requests = nil
	return out
}

func (f *fakeService) fail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (f *fakeService) verify(w http.ResponseWriter, message, sig string) bool {
	if !wallet.Verify(f.address, message, sig) {
		f.fail(w, http.StatusUnauthorized, "Invalid signature")
		return false
	}
	return true
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	arrived, d := f.arrived, f.delay[r.Method]
	f.mu.Unlock()
	if arrived != nil {
		select {
		case arrived <- r.Method + " " + r.URL.Path:
		default:
		}
	}
	rec := httptest.NewRecorder()
	f.handle(rec, r)
	if d > 0 {
		time.Sleep(d)
	}
	for k, v := range rec.Header() {
		w.Header()[k] = v
	}
	w.WriteHeader(rec.Code)
	w.Write(rec.Body.Bytes())
}

func (f *fakeService) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	if f.failNext != 0 {
		status := f.failNext
		f.failNext = 0
		f.fail(w, status, "Service unavailable")
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/bookmarks":
		q := r.URL.Query()
		if !f.verify(w, listMessage(q.Get("userId"), q.Get("requesterId")), q.Get("signature")) {
			return
		}
		out := []Bookmark{}
		for _, b := range f.bookmarks {
			if b.UserID == q.Get("userId") && (q.Get("source") == "" || b.Source == q.Get("source")) {
				out = append(out, b)
			}
		}
		json.NewEncoder(w).Encode(out)

	case r.Method == http.MethodPost && r.URL.Path == "/bookmarks":
		var body struct {
			UserID, EventID, Source, Signature string
		}
		json.NewDecoder(r.Body).Decode(&body)
		if !f.verify(w, createMessage(body.UserID, body.Source, body.EventID), body.Signature) {
			return
		}
		b := Bookmark{ID: strconv.Itoa(f.nextID), UserID: body.UserID, EventID: body.EventID, Source: body.Source}
		f.nextID++
		f.bookmarks = append(f.bookmarks, b)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(b)

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/bookmarks/"):
		id := strings.TrimPrefix(r.URL.Path, "/bookmarks/")
		var body struct {
			UserID, EventID, Source, Signature string
		}
		json.NewDecoder(r.Body).Decode(&body)
		if !f.verify(w, removeMessage(id, body.UserID, body.Source, body.EventID), body.Signature) {
			return
		}
		for i, b := range f.bookmarks {
			if b.ID == id {
				f.bookmarks = append(f.bookmarks[:i], f.bookmarks[i+1:]...)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		f.fail(w, http.StatusNotFound, "Bookmark not found")

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/bookmarks/connections/"):
		username := strings.TrimPrefix(r.URL.Path, "/bookmarks/connections/")
		if !f.verify(w, connectionsMessage(username), r.URL.Query().Get("signature")) {
			return
		}
		json.NewEncoder(w).Encode(Connections{
			Bookmarks: f.bookmarks,
			Users:     []User{{ID: "2", Username: "friend"}},
		})

	default:
		f.fail(w, http.StatusNotFound, "not found")
	}
}

func testSigner(t *testing.T) *wallet.Signer {
	t.Helper()
	s, err := wallet.NewSigner(bytes.Repeat([]byte{1}, 32))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateListRemove(t *testing.T) {
	ctx := context.Background()
	signer := testSigner(t)
	fs, srv := newFakeService(t, signer)
	c := New(srv.URL, signer, srv.Client())

	b, err := c.Create(ctx, "42", "luma", "evt-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.ID == "" || b.EventID != "evt-1" || b.Source != "luma" {
		t.Fatalf("unexpected bookmark %+v", b)
	}

	list, err := c.ListFor(ctx, "42", "42", "")
	if err != nil {
		t.Fatalf("ListFor: %v", err)
	}
	if len(list) != 1 || list[0].ID != b.ID {
		t.Fatalf("list = %+v", list)
	}

	filtered, err := c.ListFor(ctx, "42", "7", "ra")
	if err != nil {
		t.Fatalf("ListFor filtered: %v", err)
	}
	if len(filtered) != 0 {
		t.Fatalf("expected no ra bookmarks, got %+v", filtered)
	}

	if err := c.Remove(ctx, b.ID, "42", "luma", "evt-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if fs.count() != 0 {
		t.Fatalf("bookmark not removed on server")
	}

	err = c.Remove(ctx, b.ID, "42", "luma", "evt-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Message != "Bookmark not found" {
		t.Fatalf("err = %v, want 404 APIError", err)
	}
}

func TestListConnections(t *testing.T) {
	ctx := context.Background()
	signer := testSigner(t)
	_, srv := newFakeService(t, signer)
	c := New(srv.URL, signer, srv.Client())

	if _, err := c.Create(ctx, "2", "event", "100"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	conns, err := c.ListConnections(ctx, "alice")
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	if len(conns.Bookmarks) != 1 || len(conns.Users) != 1 || conns.Users[0].Username != "friend" {
		t.Fatalf("connections = %+v", conns)
	}
}

func TestWrongKeyIsRejected(t *testing.T) {
	signer := testSigner(t)
	_, srv := newFakeService(t, signer)
	other, _ := wallet.NewSigner(bytes.Repeat([]byte{2}, 32))
	c := New(srv.URL, other, srv.Client())

	_, err := c.ListFor(context.Background(), "42", "42", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401", err)
	}
	if apiErr.Message != "Invalid signature" {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestSigningFailurePropagates(t *testing.T) {
	var nilSigner *wallet.Signer
	c := New("http://127.0.0.1:1", nilSigner, nil)
	_, err := c.Create(context.Background(), "42", "luma", "x")
	if !errors.Is(err, wallet.ErrNoKey) {
		t.Fatalf("err = %v, want wrapped ErrNoKey", err)
	}
}

func TestInvalidArguments(t *testing.T) {
	c := New("http://127.0.0.1:1", testSigner(t), nil)
	ctx := context.Background()
	if _, err := c.Create(ctx, "", "luma", "x"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Create: %v", err)
	}
	if err := c.Remove(ctx, "", "42", "luma", "x"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Remove: %v", err)
	}
	if _, err := c.ListFor(ctx, "42", "", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ListFor: %v", err)
	}
	if _, err := c.ListConnections(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ListConnections: %v", err)
	}
}

func TestTogglerOptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	signer := testSigner(t)
	fs, srv := newFakeService(t, signer)
	tg := NewToggler(New(srv.URL, signer, srv.Client()), "42")

	on, err := tg.Toggle(ctx, model.KindRA, "ra-1")
	if err != nil || !on {
		t.Fatalf("toggle on: on=%v err=%v", on, err)
	}
	if !tg.IsOn(model.KindRA, "ra-1") {
		t.Fatalf("expected mirror on")
	}

	fs.mu.Lock()
	fs.failNext = http.StatusServiceUnavailable
	fs.mu.Unlock()

	on, err = tg.Toggle(ctx, model.KindRA, "ra-1")
	if err == nil {
		t.Fatalf("expected error from failed removal")
	}
	if !on || !tg.IsOn(model.KindRA, "ra-1") {
		t.Fatalf("failed toggle must revert to on")
	}

	on, err = tg.Toggle(ctx, model.KindRA, "ra-1")
	if err != nil || on {
		t.Fatalf("toggle off: on=%v err=%v", on, err)
	}
	if n := fs.count(); n != 0 {
		t.Fatalf("server still has %d bookmarks", n)
	}
}

func TestTogglerLoadThenRemove(t *testing.T) {
	ctx := context.Background()
	signer := testSigner(t)
	fs, srv := newFakeService(t, signer)
	c := New(srv.URL, signer, srv.Client())
	if _, err := c.Create(ctx, "42", "resident-advisor", "ra-9"); err != nil {
		t.Fatal(err)
	}

	tg := NewToggler(c, "42")
	if err := tg.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !tg.IsOn(model.KindRA, "ra-9") {
		t.Fatalf("alias source not mirrored as ra")
	}

	// The mirror knows the ID, so removal needs no lookup.
	fs.takeRequests()
	if err := tg.Set(ctx, model.KindRA, "ra-9", false); err != nil {
		t.Fatalf("Set off: %v", err)
	}
	if reqs := fs.takeRequests(); len(reqs) != 1 || !strings.HasPrefix(reqs[0], "DELETE ") {
		t.Fatalf("requests = %v", reqs)
	}
}
