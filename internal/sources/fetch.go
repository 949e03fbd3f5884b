package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"eventfeed/internal/cache"
	appLog "eventfeed/internal/log"
	"eventfeed/internal/model"
)

const (
	defaultTimeout        = 15 * time.Second
	defaultCuratedHorizon = 60 * 24 * time.Hour
	maxBodyBytes          = 16 << 20
)

// Options configures a Fetcher.
type Options struct {
	// URLs maps each kind to its upstream endpoint. Kinds without a URL are
	// treated as empty sources.
	URLs map[model.Kind]string
	// CombinedURL, if set, serves all seven envelopes in one payload.
	CombinedURL string

	Client *http.Client
	// Cache, if non-nil, stores the last good payload of each adapter and is
	// used when the upstream fails.
	Cache *cache.Cache

	// CuratedHorizon bounds recurrence expansion for curated events.
	CuratedHorizon time.Duration
	Now            func() time.Time
}

// Fetcher owns one adapter per upstream source. Adapters never return
// errors: a failing source degrades to its cached payload or to empty.
type Fetcher struct {
	client         *http.Client
	urls           map[model.Kind]string
	combinedURL    string
	cache          *cache.Cache
	curatedHorizon time.Duration
	now            func() time.Time
}

// NewFetcher creates a Fetcher from opts.
func NewFetcher(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	horizon := opts.CuratedHorizon
	if horizon <= 0 {
		horizon = defaultCuratedHorizon
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	urls := make(map[model.Kind]string, len(opts.URLs))
	for k, u := range opts.URLs {
		urls[k] = u
	}
	return &Fetcher{
		client:         client,
		urls:           urls,
		combinedURL:    opts.CombinedURL,
		cache:          opts.Cache,
		curatedHorizon: horizon,
		now:            now,
	}
}

// HasCombined reports whether a combined endpoint is configured.
func (f *Fetcher) HasCombined() bool {
	return f.combinedURL != ""
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "upstream returned " + e.Status
}

// errUnsuccessful marks envelopes that carry success=false.
var errUnsuccessful = errors.New("upstream reported success=false")

// getJSON performs a GET against url and decodes the JSON body into v.
func (f *Fetcher) getJSON(ctx context.Context, url string, v any) error {
	if url == "" {
		return errors.New("source URL is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// fetchSource runs one adapter: fetch, unwrap, drop entries without
// identity, and write the cache. On any failure it falls back to the cached
// payload and then to an empty slice.
func fetchSource[E any, T model.Payload](ctx context.Context, f *Fetcher, kind model.Kind, unwrap func(E) ([]T, error)) []T {
	url := f.urls[kind]
	cacheKey := "source_" + string(kind)

	if url == "" {
		appLog.Debug("source not configured", "source", kind)
		return []T{}
	}

	appLog.Debug("source fetch start", "source", kind, "url", appLog.RedactURL(url))

	var envelope E
	err := f.getJSON(ctx, url, &envelope)
	var items []T
	if err == nil {
		items, err = unwrap(envelope)
	}
	if err != nil {
		if cached, ok := cache.Get[[]T](ctx, f.cache, cacheKey); ok {
			appLog.Error("source fetch failed, using cached payload", err,
				"source", kind, "url", appLog.RedactURL(url), "cached_at", cached.Time().Format(time.RFC3339))
			return cached.Data
		}
		appLog.Error("source fetch failed", err, "source", kind, "url", appLog.RedactURL(url))
		return []T{}
	}

	items = withIdentity(kind, items)
	cache.Set(ctx, f.cache, cacheKey, items)

	appLog.Info("source fetch success", "source", kind, "count", len(items))
	return items
}

// withIdentity drops entries that have no identity; they cannot be keyed,
// bookmarked or deduplicated.
func withIdentity[T model.Payload](kind model.Kind, items []T) []T {
	out := make([]T, 0, len(items))
	dropped := 0
	for _, it := range items {
		if model.IDOf(kind, it) == "" {
			dropped++
			continue
		}
		out = append(out, it)
	}
	if dropped > 0 {
		appLog.Warn("dropped upstream entries without identity", "source", kind, "dropped", dropped)
	}
	return out
}
