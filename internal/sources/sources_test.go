package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"eventfeed/internal/cache"
	"eventfeed/internal/kv"
	"eventfeed/internal/model"
)

func newUpstream(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAdaptersUnwrapTheirEnvelopes(t *testing.T) {
	srv := newUpstream(t, map[string]string{
		"/events":    `{"data":[{"id":1,"name":"Launch","startDate":"2024-01-05T18:00:00Z"}]}`,
		"/luma":      `{"data":[{"api_id":"evt-a","name":"Brunch","start_at":"2024-01-05T12:00:00Z"}]}`,
		"/ra":        `{"events":[{"id":"ra-1","title":"Night","startTime":"2024-01-06T22:00:00Z"}],"success":true}`,
		"/meetup":    `{"data":[{"id":"m-1","title":"Go meetup","dateTime":"2024-01-07T18:00:00Z"}]}`,
		"/sports":    `{"games":[{"id":"g-1","homeTeam":"A","awayTeam":"B","startTime":"2024-01-06T00:00:00Z"}],"counts":{"nba":1}}`,
		"/instagram": `{"events":[{"id":"p-1","caption":"Party","eventDate":"2024-01-08T20:00:00Z"}]}`,
		"/curated":   `{"data":[{"id":"c-1","title":"Featured","startDate":"2024-01-09T19:00:00Z"}]}`,
	})

	f := NewFetcher(Options{URLs: map[model.Kind]string{
		model.KindPrimary:   srv.URL + "/events",
		model.KindLuma:      srv.URL + "/luma",
		model.KindRA:        srv.URL + "/ra",
		model.KindMeetup:    srv.URL + "/meetup",
		model.KindSports:    srv.URL + "/sports",
		model.KindInstagram: srv.URL + "/instagram",
		model.KindCurated:   srv.URL + "/curated",
	}})

	ctx := context.Background()
	for _, kind := range model.Kinds {
		got := f.FetchKind(ctx, kind)
		if len(got) != 1 {
			t.Fatalf("%s: expected 1 event, got %d", kind, len(got))
		}
		if got[0].Kind != kind || got[0].ID() == "" {
			t.Fatalf("%s: unexpected tagged event %#v", kind, got[0])
		}
	}
}

func TestAdapterFailureDegradesToEmpty(t *testing.T) {
	srv := newUpstream(t, map[string]string{
		"/ra":     `{"events":[{"id":"ra-1"}],"success":false}`,
		"/broken": `{"data": [`,
	})
	f := NewFetcher(Options{URLs: map[model.Kind]string{
		model.KindSports: srv.URL + "/missing",
		model.KindRA:     srv.URL + "/ra",
		model.KindLuma:   srv.URL + "/broken",
	}})

	ctx := context.Background()
	if got := f.FetchSports(ctx); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice on 502, got %#v", got)
	}
	if got := f.FetchRA(ctx); len(got) != 0 {
		t.Fatalf("expected success=false to count as failure, got %#v", got)
	}
	if got := f.FetchLuma(ctx); len(got) != 0 {
		t.Fatalf("expected parse failure to yield empty, got %#v", got)
	}
	if got := f.FetchMeetup(ctx); len(got) != 0 {
		t.Fatalf("expected unconfigured source to yield empty, got %#v", got)
	}
}

func TestAdapterFallsBackToCache(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"games":[{"id":"g-1","startTime":"2024-01-06T00:00:00Z"}]}`))
	}))
	defer srv.Close()

	c := cache.New(kv.NewMemory(), nil)
	f := NewFetcher(Options{
		URLs:  map[model.Kind]string{model.KindSports: srv.URL},
		Cache: c,
	})

	ctx := context.Background()
	if got := f.FetchSports(ctx); len(got) != 1 {
		t.Fatalf("expected 1 game, got %d", len(got))
	}

	down.Store(true)
	got := f.FetchSports(ctx)
	if len(got) != 1 || got[0].ID != "g-1" {
		t.Fatalf("expected cached game after outage, got %#v", got)
	}
}

func TestEntriesWithoutIdentityAreDropped(t *testing.T) {
	srv := newUpstream(t, map[string]string{
		"/luma": `{"data":[{"api_id":"","name":"ghost"},{"api_id":"evt-1","name":"real"}]}`,
	})
	f := NewFetcher(Options{URLs: map[model.Kind]string{model.KindLuma: srv.URL + "/luma"}})

	got := f.FetchLuma(context.Background())
	if len(got) != 1 || got[0].APIID != "evt-1" {
		t.Fatalf("expected only identified entry, got %#v", got)
	}
}

func TestPrimaryEntriesWithoutIDAreDropped(t *testing.T) {
	srv := newUpstream(t, map[string]string{
		"/events": `{"data":[{"name":"no id"},{"id":0,"name":"zero"},{"id":5,"name":"five"}]}`,
	})
	f := NewFetcher(Options{URLs: map[model.Kind]string{model.KindPrimary: srv.URL + "/events"}})

	got := f.FetchPrimary(context.Background())
	if len(got) != 1 || got[0].ID != 5 {
		t.Fatalf("expected only the event with an id, got %#v", got)
	}
}

func TestFetchCombined(t *testing.T) {
	srv := newUpstream(t, map[string]string{
		"/all": `{
			"event": {"data":[{"id":1,"name":"Launch","startDate":"2024-01-05T18:00:00Z"}]},
			"luma": {"data":[{"api_id":"evt-a","start_at":"2024-01-05T12:00:00Z"}]},
			"ra": {"events":[],"success":false},
			"meetup": {"data":[]},
			"sports": {"games":[{"id":"g-1","startTime":"2024-01-06T00:00:00Z"}]},
			"instagram": {"events":[{"id":"p-1","eventDate":"2024-01-08T20:00:00Z"}],"success":true},
			"renaissance": {"data":[]},
			"timestamp": 1704412800000
		}`,
	})
	f := NewFetcher(Options{CombinedURL: srv.URL + "/all"})
	if !f.HasCombined() {
		t.Fatalf("expected combined endpoint to be configured")
	}

	got, err := f.FetchCombined(context.Background())
	if err != nil {
		t.Fatalf("FetchCombined: %v", err)
	}
	if !got.Timestamp.Equal(time.UnixMilli(1704412800000)) {
		t.Fatalf("unexpected timestamp %v", got.Timestamp)
	}
	counts := map[model.Kind]int{
		model.KindPrimary:   1,
		model.KindLuma:      1,
		model.KindRA:        0,
		model.KindSports:    1,
		model.KindInstagram: 1,
	}
	for kind, want := range counts {
		if n := len(got.ByKind[kind]); n != want {
			t.Errorf("%s: expected %d events, got %d", kind, want, n)
		}
	}
}

func TestFetchCombinedReportsFailure(t *testing.T) {
	srv := newUpstream(t, map[string]string{})
	f := NewFetcher(Options{CombinedURL: srv.URL + "/all"})
	_, err := f.FetchCombined(context.Background())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestCuratedRecurrenceExpansion(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	srv := newUpstream(t, map[string]string{
		"/curated": `{"data":[
			{"id":"weekly","title":"Open studio","startDate":"2023-12-01T18:00:00Z","endDate":"2023-12-01T20:00:00Z","recurrence":"RRULE:FREQ=WEEKLY;BYDAY=FR"},
			{"id":"once","title":"Gala","startDate":"2024-01-10T19:00:00Z"}
		]}`,
	})
	f := NewFetcher(Options{
		URLs:           map[model.Kind]string{model.KindCurated: srv.URL + "/curated"},
		CuratedHorizon: 14 * 24 * time.Hour,
		Now:            func() time.Time { return now },
	})

	got := f.FetchCurated(context.Background())

	ids := make([]string, 0, len(got))
	for _, ev := range got {
		ids = append(ids, ev.ID)
	}
	want := []string{"weekly@20240105", "weekly@20240112", "once"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected expansion %v, want %v", ids, want)
	}
	if got[0].EndDate != "2024-01-05T20:00:00Z" {
		t.Fatalf("expected duration to be preserved, got end %q", got[0].EndDate)
	}
	if got[0].Recurrence != "" {
		t.Fatalf("expanded occurrence should not carry the rule")
	}
}
