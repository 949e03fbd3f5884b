// Package reconcile joins another user's remote bookmarks against the events
// this client can resolve locally.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"eventfeed/internal/backend"
	"eventfeed/internal/bookmarks"
	appLog "eventfeed/internal/log"
	"eventfeed/internal/model"
)

// ErrNoBackend is returned when no bookmark backend is configured.
var ErrNoBackend = errors.New("reconcile: no backend configured")

// SharedBy says who has an event marked.
type SharedBy string

const (
	SharedByBoth SharedBy = "both"
	SharedByMe   SharedBy = "me"
	SharedByThem SharedBy = "them"
)

type SharedEvent struct {
	Event     model.Tagged `json:"event"`
	EventType model.Kind   `json:"eventType"`
	SharedBy  SharedBy     `json:"sharedBy"`
}

// Remote lists a user's bookmarks as seen by a requester.
type Remote interface {
	ListFor(ctx context.Context, userID, requesterID, source string) ([]backend.Bookmark, error)
}

// Identity returns the signed-in backend user.
type Identity interface {
	UserID(ctx context.Context) (string, bool)
}

// Catalog refetches the sources that can be fetched fresh at reconcile time.
type Catalog interface {
	FetchPrimary(ctx context.Context) []model.PrimaryEvent
	FetchSports(ctx context.Context) []model.SportsGame
}

// Marks is the local bookmark/RSVP store.
type Marks interface {
	Stored(ctx context.Context, mark bookmarks.Mark, kind model.Kind) []model.Tagged
	MarkedKeys(ctx context.Context, mark bookmarks.Mark) map[string]bool
	GetAll(ctx context.Context, mark bookmarks.Mark, useCache bool) ([]model.Tagged, error)
}

type Options struct {
	Remote   Remote
	Identity Identity
	Catalog  Catalog
	Marks    Marks
}

type Reconciler struct {
	remote   Remote
	identity Identity
	catalog  Catalog
	marks    Marks
}

func New(opts Options) *Reconciler {
	return &Reconciler{
		remote:   opts.Remote,
		identity: opts.Identity,
		catalog:  opts.Catalog,
		marks:    opts.Marks,
	}
}

// SharedEvents returns the events otherUserID has bookmarked that can be
// resolved locally, marked "both" when the caller has them bookmarked or
// going too. Without a signed-in identity the result is empty. Remote
// bookmarks that cannot be resolved are dropped.
func (r *Reconciler) SharedEvents(ctx context.Context, otherUserID string) ([]SharedEvent, error) {
	me, ok := r.userID(ctx)
	if !ok {
		return []SharedEvent{}, nil
	}
	if r.remote == nil {
		return nil, ErrNoBackend
	}

	remote, err := r.remote.ListFor(ctx, otherUserID, me, "")
	if err != nil {
		return nil, fmt.Errorf("list bookmarks of %s: %w", otherUserID, err)
	}

	universe := r.universe(ctx)
	mine := r.myKeys(ctx)

	out := make([]SharedEvent, 0, len(remote))
	seen := make(map[string]bool, len(remote))
	dropped := 0
	for _, b := range remote {
		kind, ok := model.KindFromSource(b.Source)
		if !ok {
			dropped++
			continue
		}
		key := model.Key(kind, b.EventID)
		ev, ok := universe[key]
		if !ok {
			dropped++
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		by := SharedByThem
		if mine[key] {
			by = SharedByBoth
		}
		out = append(out, SharedEvent{Event: ev, EventType: kind, SharedBy: by})
	}
	if dropped > 0 {
		appLog.Debug("unresolved shared bookmarks dropped", "user", otherUserID, "count", dropped)
	}
	sortShared(out)
	return out, nil
}

// MyEvents returns every event the caller has bookmarked or is going to.
func (r *Reconciler) MyEvents(ctx context.Context) ([]SharedEvent, error) {
	out := []SharedEvent{}
	seen := make(map[string]bool)
	for _, mark := range bookmarks.Marks {
		events, err := r.marks.GetAll(ctx, mark, true)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if seen[ev.Key()] {
				continue
			}
			seen[ev.Key()] = true
			out = append(out, SharedEvent{Event: ev, EventType: ev.Kind, SharedBy: SharedByMe})
		}
	}
	sortShared(out)
	return out, nil
}

func (r *Reconciler) userID(ctx context.Context) (string, bool) {
	if r.identity == nil {
		return "", false
	}
	return r.identity.UserID(ctx)
}

func (r *Reconciler) myKeys(ctx context.Context) map[string]bool {
	keys := make(map[string]bool)
	for _, mark := range bookmarks.Marks {
		for k := range r.marks.MarkedKeys(ctx, mark) {
			keys[k] = true
		}
	}
	return keys
}

// universe indexes every event this client can resolve by "<kind>-<id>":
// a fresh primary catalog, every locally stored bookmark and RSVP, and the
// current sports schedule merged over stored games.
func (r *Reconciler) universe(ctx context.Context) map[string]model.Tagged {
	out := make(map[string]model.Tagged)
	add := func(events []model.Tagged) {
		for _, ev := range events {
			if id := ev.ID(); id != "" {
				out[model.Key(ev.Kind, id)] = ev
			}
		}
	}

	if r.catalog != nil {
		add(model.TagAll(model.KindPrimary, r.catalog.FetchPrimary(ctx)))
	}
	for _, kind := range model.Kinds {
		if kind == model.KindPrimary {
			continue
		}
		for _, mark := range bookmarks.Marks {
			add(r.marks.Stored(ctx, mark, kind))
		}
	}
	if r.catalog != nil {
		add(model.TagAll(model.KindSports, r.catalog.FetchSports(ctx)))
	}
	return out
}

func sortShared(events []SharedEvent) {
	slices.SortStableFunc(events, func(a, b SharedEvent) int {
		return model.CompareStart(a.Event, b.Event, false)
	})
}
