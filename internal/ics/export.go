// Package ics renders marked events as an iCalendar feed that calendar apps
// can subscribe to, and reads such feeds back.
package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "eventfeed/internal/log"
	"eventfeed/internal/model"
)

const (
	defaultProductID = "-//eventfeed//bookmarks//EN"
	uidDomain        = "eventfeed"
)

// Options controls Export.
type Options struct {
	ProductID string
	// Now stamps DTSTAMP; defaults to time.Now.
	Now func() time.Time
}

// UID is the stable VEVENT UID of an event: "<kind>-<id>@eventfeed".
func UID(ev model.Tagged) string {
	return ev.Key() + "@" + uidDomain
}

// Export builds a VCALENDAR with one VEVENT per event. Events without a
// usable start time or identity are skipped.
func Export(events []model.Tagged, opts Options) string {
	if opts.ProductID == "" {
		opts.ProductID = defaultProductID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	stamp := opts.Now().UTC()

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(opts.ProductID)

	skipped := 0
	for _, ev := range events {
		start, ok := ev.Start()
		if !ok || ev.ID() == "" {
			skipped++
			continue
		}
		end, ok := ev.End()
		if !ok || end.Before(start) {
			end = start
		}

		ve := cal.AddEvent(UID(ev))
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(start)
		ve.SetEndAt(end)
		ve.SetSummary(ev.Title())
		if loc := model.LocationOf(ev.Kind, ev.Event); loc != "" {
			ve.SetLocation(loc)
		}
		if u := model.URLOf(ev.Kind, ev.Event); u != "" {
			ve.SetURL(u)
		}
	}
	if skipped > 0 {
		appLog.Debug("ics export skipped events without start", "count", skipped)
	}
	return cal.Serialize()
}
