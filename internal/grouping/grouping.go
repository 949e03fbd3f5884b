// Package grouping turns a mixed-source event list into day sections.
package grouping

import (
	"slices"
	"time"

	"eventfeed/internal/model"
)

const dateKeyLayout = "2006-01-02"

// EventGroup is one calendar day of events.
type EventGroup struct {
	Title    string         `json:"title"`
	Subtitle string         `json:"subtitle"`
	SortDate int64          `json:"sortDate"` // epoch ms of local midnight
	DateKey  string         `json:"dateKey"`
	Data     []model.Tagged `json:"data"`
}

// Options controls filtering and bucketing.
type Options struct {
	// FilterEnded drops events whose end is before EndThreshold.
	FilterEnded  bool
	EndThreshold time.Time // defaults to Now
	// Now anchors "Today"/"Tomorrow" titles. Defaults to time.Now.
	Now time.Time
	// Location is the viewer's time zone. Defaults to time.Local.
	Location *time.Location
}

// Group filters, buckets by local calendar day, and sorts. For a fixed input
// and fixed Now the output is fully deterministic.
func Group(events []model.Tagged, opts Options) []EventGroup {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	threshold := opts.EndThreshold
	if threshold.IsZero() {
		threshold = now
	}

	buckets := make(map[string]*EventGroup)
	order := make([]*EventGroup, 0)

	for _, ev := range events {
		start, ok := ev.Start()
		if !ok {
			continue
		}
		if opts.FilterEnded {
			if end, ok := ev.End(); ok && end.Before(threshold) {
				continue
			}
		}

		local := start.In(loc)
		key := local.Format(dateKeyLayout)
		g, ok := buckets[key]
		if !ok {
			day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
			g = &EventGroup{
				Title:    dayTitle(day, now.In(loc)),
				Subtitle: daySubtitle(day, now.In(loc)),
				SortDate: day.UnixMilli(),
				DateKey:  key,
			}
			buckets[key] = g
			order = append(order, g)
		}
		g.Data = append(g.Data, ev)
	}

	for _, g := range order {
		model.SortByStart(g.Data, false)
	}
	slices.SortFunc(order, func(a, b *EventGroup) int {
		switch {
		case a.SortDate < b.SortDate:
			return -1
		case a.SortDate > b.SortDate:
			return 1
		default:
			return 0
		}
	})

	out := make([]EventGroup, 0, len(order))
	for _, g := range order {
		out = append(out, *g)
	}
	return out
}

func dayTitle(day, now time.Time) string {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, day.Location())
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, 1)):
		return "Tomorrow"
	default:
		return day.Weekday().String()
	}
}

func daySubtitle(day, now time.Time) string {
	if day.Year() != now.Year() {
		return day.Format("Jan 2, 2006")
	}
	return day.Format("Jan 2")
}
