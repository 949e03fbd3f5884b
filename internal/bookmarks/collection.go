package bookmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"eventfeed/internal/kv"
	appLog "eventfeed/internal/log"
	"eventfeed/internal/model"
)

// Mark names one of the two per-event flags a user can set.
type Mark string

const (
	MarkBookmark Mark = "Bookmark"
	MarkGoing    Mark = "Going"
)

// Marks lists both marks.
var Marks = []Mark{MarkBookmark, MarkGoing}

// ParseMark accepts "bookmark" or "going" in any case. Empty means bookmark.
func ParseMark(s string) (Mark, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bookmark", "bookmarks", "bookmarked":
		return MarkBookmark, true
	case "going", "rsvp":
		return MarkGoing, true
	default:
		return "", false
	}
}

func (m Mark) String() string { return strings.ToLower(string(m)) }

// indexKey holds the flat ID list of marked primary events.
func (m Mark) indexKey() string {
	if m == MarkGoing {
		return "GoingEvents"
	}
	return "Bookmarks"
}

// listKey holds the full stored objects of one non-primary kind,
// e.g. "BookmarkedLumaEvents" or "GoingLumaEvents".
func (m Mark) listKey(kind model.Kind) string {
	if m == MarkGoing {
		return "Going" + kind.Label() + "Events"
	}
	return "Bookmarked" + kind.Label() + "Events"
}

// flagKey is "Bookmark-<id>" for the primary kind and
// "Bookmark-<kind>-<id>" for the others.
func (m Mark) flagKey(kind model.Kind, id string) string {
	if kind == model.KindPrimary {
		return string(m) + "-" + id
	}
	return string(m) + "-" + string(kind) + "-" + id
}

func (m Mark) cacheKey() string {
	if m == MarkGoing {
		return "CachedGoingEvents"
	}
	return "CachedBookmarkedEvents"
}

func (m Mark) cacheTimestampKey() string { return m.cacheKey() + "Timestamp" }

// collection is the type-erased view of a Collection used by Store.
type collection interface {
	isOn(ctx context.Context, id string) bool
	toggle(ctx context.Context, p model.Payload) (bool, error)
	ids(ctx context.Context) []string
	stored(ctx context.Context) []model.Tagged
}

// Collection persists one mark for one kind. The primary kind keeps only a
// flat ID index because its objects are refetched on read; every other kind
// keeps the full payload so it can be shown without its source.
type Collection[T model.Payload] struct {
	store   kv.Store
	mark    Mark
	kind    model.Kind
	objects bool
}

func newCollection[T model.Payload](store kv.Store, mark Mark, kind model.Kind) *Collection[T] {
	return &Collection[T]{
		store:   store,
		mark:    mark,
		kind:    kind,
		objects: kind != model.KindPrimary,
	}
}

func (c *Collection[T]) isOn(ctx context.Context, id string) bool {
	raw, ok, err := c.store.Get(ctx, c.mark.flagKey(c.kind, id))
	if err != nil {
		appLog.Error("bookmark flag read failed", err, "mark", c.mark.String(), "kind", c.kind, "id", id)
		return false
	}
	return ok && string(raw) == "true"
}

func (c *Collection[T]) toggle(ctx context.Context, p model.Payload) (bool, error) {
	item, ok := model.As[T](p)
	if !ok {
		return false, fmt.Errorf("bookmarks: payload %T does not match kind %q", p, c.kind)
	}
	id := model.IDOf(c.kind, item)
	if id == "" {
		return false, fmt.Errorf("bookmarks: %s event has no id", c.kind)
	}

	on := !c.isOn(ctx, id)
	if err := c.setFlag(ctx, id, on); err != nil {
		return !on, err
	}

	var err error
	if c.objects {
		items := slices.DeleteFunc(c.items(ctx), func(existing T) bool {
			return model.IDOf(c.kind, existing) == id
		})
		if on {
			items = append(items, item)
		}
		err = c.save(ctx, c.mark.listKey(c.kind), items)
	} else {
		ids := slices.DeleteFunc(c.ids(ctx), func(existing string) bool { return existing == id })
		if on {
			ids = append(ids, id)
		}
		err = c.save(ctx, c.mark.indexKey(), ids)
	}
	if err != nil {
		if rerr := c.setFlag(ctx, id, !on); rerr != nil {
			appLog.Error("bookmark flag rollback failed", rerr, "kind", c.kind, "id", id)
		}
		return !on, err
	}
	return on, nil
}

func (c *Collection[T]) setFlag(ctx context.Context, id string, on bool) error {
	flag := c.mark.flagKey(c.kind, id)
	var err error
	if on {
		err = c.store.Set(ctx, flag, []byte("true"))
	} else {
		err = c.store.Delete(ctx, flag)
	}
	if err != nil {
		return fmt.Errorf("bookmarks: write %s: %w", flag, err)
	}
	return nil
}

func (c *Collection[T]) save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bookmarks: encode %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("bookmarks: write %s: %w", key, err)
	}
	return nil
}

// Items returns the stored payloads. Always empty for the primary kind.
func (c *Collection[T]) Items(ctx context.Context) []T {
	if !c.objects {
		return nil
	}
	return c.items(ctx)
}

func (c *Collection[T]) items(ctx context.Context) []T {
	var out []T
	c.load(ctx, c.mark.listKey(c.kind), &out)
	return out
}

func (c *Collection[T]) ids(ctx context.Context) []string {
	if c.objects {
		items := c.items(ctx)
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, model.IDOf(c.kind, it))
		}
		return out
	}
	var out []string
	c.load(ctx, c.mark.indexKey(), &out)
	return out
}

func (c *Collection[T]) stored(ctx context.Context) []model.Tagged {
	return model.TagAll(c.kind, c.Items(ctx))
}

// load decodes key into v. Read and decode failures leave v untouched.
func (c *Collection[T]) load(ctx context.Context, key string, v any) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		appLog.Error("bookmark list read failed", err, "key", key)
		return
	}
	if !ok {
		return
	}
	if err := json.Unmarshal(raw, v); err != nil {
		appLog.Error("bookmark list decode failed", err, "key", key)
	}
}

func newCollections(store kv.Store, mark Mark) map[model.Kind]collection {
	return map[model.Kind]collection{
		model.KindPrimary:   newCollection[model.PrimaryEvent](store, mark, model.KindPrimary),
		model.KindLuma:      newCollection[model.LumaEvent](store, mark, model.KindLuma),
		model.KindRA:        newCollection[model.RAEvent](store, mark, model.KindRA),
		model.KindMeetup:    newCollection[model.MeetupEvent](store, mark, model.KindMeetup),
		model.KindSports:    newCollection[model.SportsGame](store, mark, model.KindSports),
		model.KindInstagram: newCollection[model.SocialPost](store, mark, model.KindInstagram),
		model.KindCurated:   newCollection[model.CuratedEvent](store, mark, model.KindCurated),
	}
}
