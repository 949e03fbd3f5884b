package web

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"eventfeed/internal/backend"
	"eventfeed/internal/bookmarks"
	"eventfeed/internal/config"
	"eventfeed/internal/feed"
	"eventfeed/internal/grouping"
	"eventfeed/internal/ics"
	appLog "eventfeed/internal/log"
	"eventfeed/internal/model"
	"eventfeed/internal/reconcile"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Feed is the aggregate the API serves.
type Feed interface {
	GetAll(ctx context.Context) (feed.Snapshot, error)
	Refresh(ctx context.Context) (feed.Snapshot, error)
}

// Marks is the bookmark/RSVP store.
type Marks interface {
	GetAll(ctx context.Context, mark bookmarks.Mark, useCache bool) ([]model.Tagged, error)
	Toggle(ctx context.Context, mark bookmarks.Mark, ev model.Tagged) (bool, error)
}

// Shared resolves other users' bookmarks.
type Shared interface {
	SharedEvents(ctx context.Context, otherUserID string) ([]reconcile.SharedEvent, error)
	MyEvents(ctx context.Context) ([]reconcile.SharedEvent, error)
}

// Deps are the components behind the API. Shared may be nil when no
// backend is configured.
type Deps struct {
	Feed   Feed
	Marks  Marks
	Shared Shared
	Now    func() time.Time
}

// Server provides the HTTP API over the aggregate and the bookmark store.
type Server struct {
	cfg      *config.Config
	deps     Deps
	location *time.Location
	mux      *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		location: cfg.Location(),
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	if !s.cfg.BasicAuth.Enabled() {
		return s.mux
	}
	appLog.Info("HTTP basic auth enabled", "public", len(publicPaths))
	return requireCredentials(s.cfg.BasicAuth, s.mux)
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// publicPaths are served without credentials.
var publicPaths = map[string]bool{"/health": true}

// requireCredentials rejects requests to non-public paths that do not carry
// the configured basic-auth pair. Credentials are compared as fixed-size
// digests so neither their content nor their length leaks through timing.
func requireCredentials(creds *config.BasicAuthConfig, next http.Handler) http.Handler {
	wantUser := sha256.Sum256([]byte(creds.Username))
	wantPass := sha256.Sum256([]byte(creds.Password))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		gotUser := sha256.Sum256([]byte(u))
		gotPass := sha256.Sum256([]byte(p))
		match := subtle.ConstantTimeCompare(gotUser[:], wantUser[:]) &
			subtle.ConstantTimeCompare(gotPass[:], wantPass[:])
		if !ok || match != 1 {
			appLog.Debug("api request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="eventfeed", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/feed", s.handleFeed)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/bookmarks", s.handleBookmarks)
	s.mux.HandleFunc("POST /api/bookmarks/toggle", s.handleToggle)
	s.mux.HandleFunc("GET /api/bookmarks.ics", s.handleBookmarksICS)
	s.mux.HandleFunc("GET /api/shared/{userId}", s.handleShared)
	s.mux.HandleFunc("GET /api/mine", s.handleMine)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// feedResponse is the JSON response shape for /api/feed.
type feedResponse struct {
	Sections  []grouping.EventGroup `json:"sections"`
	Count     int                   `json:"count"`
	Timestamp int64                 `json:"timestamp"`
	TimeZone  string                `json:"timezone"`
}

// handleFeed returns the aggregate grouped into day sections.
//
// GET /api/feed?filter_ended=1&kind=luma
//   - filter_ended: drop events that have already ended
//   - kind:         restrict to one source
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Feed.GetAll(r.Context())
	if err != nil {
		appLog.Error("api feed: aggregate unavailable", err)
		writeError(w, http.StatusServiceUnavailable, "events unavailable")
		return
	}
	s.writeFeed(w, r, snap)
}

// handleRefresh forces a refresh and returns the new grouping.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Feed.Refresh(r.Context())
	if err != nil {
		appLog.Error("api refresh failed", err)
		writeError(w, http.StatusBadGateway, "refresh failed")
		return
	}
	s.writeFeed(w, r, snap)
}

func (s *Server) writeFeed(w http.ResponseWriter, r *http.Request, snap feed.Snapshot) {
	q := r.URL.Query()
	events := snap.All()
	if k := q.Get("kind"); k != "" {
		kind, ok := model.KindFromSource(k)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown kind")
			return
		}
		events = snap.ByKind[kind]
	}

	sections := grouping.Group(events, grouping.Options{
		FilterEnded: parseBool(q.Get("filter_ended")),
		Now:         s.deps.Now(),
		Location:    s.location,
	})
	writeJSON(w, http.StatusOK, feedResponse{
		Sections:  sections,
		Count:     len(events),
		Timestamp: snap.Timestamp,
		TimeZone:  s.location.String(),
	})
}

type bookmarksResponse struct {
	Mark   string         `json:"mark"`
	Events []model.Tagged `json:"events"`
}

// handleBookmarks lists marked events.
//
// GET /api/bookmarks?mark=bookmark|going&fresh=1
func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	mark, ok := bookmarks.ParseMark(r.URL.Query().Get("mark"))
	if !ok {
		writeError(w, http.StatusBadRequest, "mark must be bookmark or going")
		return
	}
	events, err := s.deps.Marks.GetAll(r.Context(), mark, !parseBool(r.URL.Query().Get("fresh")))
	if err != nil {
		appLog.Error("api bookmarks failed", err, "mark", mark.String())
		writeError(w, http.StatusInternalServerError, "failed to load bookmarks")
		return
	}
	writeJSON(w, http.StatusOK, bookmarksResponse{Mark: mark.String(), Events: events})
}

type toggleRequest struct {
	Mark  string          `json:"mark"`
	Kind  string          `json:"kind"`
	Event json.RawMessage `json:"event"`
}

type toggleResponse struct {
	On bool `json:"on"`
}

// handleToggle flips a mark on one event.
//
// POST /api/bookmarks/toggle {"mark":"going","kind":"ra","event":{...}}
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mark, ok := bookmarks.ParseMark(req.Mark)
	if !ok {
		writeError(w, http.StatusBadRequest, "mark must be bookmark or going")
		return
	}
	kind, ok := model.KindFromSource(req.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown kind")
		return
	}
	if len(req.Event) == 0 {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	payload, err := model.DecodePayload(kind, req.Event)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	ev := model.Tag(kind, payload)
	if ev.ID() == "" {
		writeError(w, http.StatusBadRequest, "event has no id")
		return
	}

	on, err := s.deps.Marks.Toggle(r.Context(), mark, ev)
	if err != nil {
		appLog.Error("api toggle failed", err, "mark", mark.String(), "key", ev.Key())
		writeError(w, http.StatusInternalServerError, "failed to save")
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{On: on})
}

// handleBookmarksICS serves marked events as a subscribable calendar.
func (s *Server) handleBookmarksICS(w http.ResponseWriter, r *http.Request) {
	mark, ok := bookmarks.ParseMark(r.URL.Query().Get("mark"))
	if !ok {
		writeError(w, http.StatusBadRequest, "mark must be bookmark or going")
		return
	}
	events, err := s.deps.Marks.GetAll(r.Context(), mark, true)
	if err != nil {
		appLog.Error("api bookmarks ics failed", err, "mark", mark.String())
		writeError(w, http.StatusInternalServerError, "failed to load bookmarks")
		return
	}
	body := ics.Export(events, ics.Options{Now: s.deps.Now})

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="`+mark.String()+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

type sharedResponse struct {
	Events []reconcile.SharedEvent `json:"events"`
}

// handleShared returns another user's bookmarks joined with local events.
func (s *Server) handleShared(w http.ResponseWriter, r *http.Request) {
	if s.deps.Shared == nil {
		writeError(w, http.StatusServiceUnavailable, "bookmark backend not configured")
		return
	}
	userID := r.PathValue("userId")
	events, err := s.deps.Shared.SharedEvents(r.Context(), userID)
	if err != nil {
		s.writeSharedError(w, err, userID)
		return
	}
	writeJSON(w, http.StatusOK, sharedResponse{Events: events})
}

// handleMine returns the caller's own marked events in the shared shape.
func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	if s.deps.Shared == nil {
		writeError(w, http.StatusServiceUnavailable, "bookmark backend not configured")
		return
	}
	events, err := s.deps.Shared.MyEvents(r.Context())
	if err != nil {
		appLog.Error("api mine failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	writeJSON(w, http.StatusOK, sharedResponse{Events: events})
}

func (s *Server) writeSharedError(w http.ResponseWriter, err error, userID string) {
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr):
		appLog.Warn("api shared: backend rejected request", "user", userID, "status", apiErr.Status)
		status := http.StatusBadGateway
		if apiErr.Status == http.StatusForbidden || apiErr.Status == http.StatusNotFound {
			status = apiErr.Status
		}
		writeError(w, status, apiErr.Message)
	case errors.Is(err, reconcile.ErrNoBackend):
		writeError(w, http.StatusServiceUnavailable, "bookmark backend not configured")
	default:
		appLog.Error("api shared failed", err, "user", userID)
		writeError(w, http.StatusBadGateway, "failed to load shared events")
	}
}

func parseBool(v string) bool {
	switch v {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
