package model

import (
	"strconv"
	"strings"
	"time"
)

// Fallback durations for kinds whose upstream carries no end time.
const (
	MeetupDuration    = 2 * time.Hour
	SportsDuration    = 3 * time.Hour
	InstagramDuration = 4 * time.Hour
)

// As extracts a concrete payload, accepting either a value or a pointer.
func As[T Payload](p Payload) (T, bool) {
	if v, ok := p.(T); ok {
		return v, true
	}
	if v, ok := any(p).(*T); ok && v != nil {
		return *v, true
	}
	var zero T
	return zero, false
}

// StartOf returns the start time of the payload for the given kind. ok is
// false when the start is missing, unparsable, or the payload does not match
// the kind.
func StartOf(kind Kind, p Payload) (time.Time, bool) {
	switch kind {
	case KindPrimary:
		if ev, ok := As[PrimaryEvent](p); ok {
			return ParseTime(ev.StartDate)
		}
	case KindLuma:
		if ev, ok := As[LumaEvent](p); ok {
			return ParseTime(ev.StartAt)
		}
	case KindRA:
		if ev, ok := As[RAEvent](p); ok {
			return ParseTime(ev.StartTime)
		}
	case KindMeetup:
		if ev, ok := As[MeetupEvent](p); ok {
			return ParseTime(ev.DateTime)
		}
	case KindSports:
		if ev, ok := As[SportsGame](p); ok {
			return ParseTime(ev.StartTime)
		}
	case KindInstagram:
		if ev, ok := As[SocialPost](p); ok {
			return ParseTime(ev.EventDate)
		}
	case KindCurated:
		if ev, ok := As[CuratedEvent](p); ok {
			return ParseTime(ev.StartDate)
		}
	}
	return time.Time{}, false
}

// EndOf returns the end time of the payload. Kinds without an upstream end
// use a fixed duration after start; kinds with an optional explicit end fall
// back to the start itself.
func EndOf(kind Kind, p Payload) (time.Time, bool) {
	start, hasStart := StartOf(kind, p)
	var explicit string

	switch kind {
	case KindPrimary:
		if ev, ok := As[PrimaryEvent](p); ok {
			explicit = ev.EndDate
		}
	case KindLuma:
		if ev, ok := As[LumaEvent](p); ok {
			explicit = ev.EndAt
		}
	case KindRA:
		if ev, ok := As[RAEvent](p); ok {
			explicit = ev.EndTime
		}
	case KindCurated:
		if ev, ok := As[CuratedEvent](p); ok {
			explicit = ev.EndDate
		}
	case KindMeetup:
		if hasStart {
			return start.Add(MeetupDuration), true
		}
		return time.Time{}, false
	case KindSports:
		if hasStart {
			return start.Add(SportsDuration), true
		}
		return time.Time{}, false
	case KindInstagram:
		if hasStart {
			return start.Add(InstagramDuration), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}

	if end, ok := ParseTime(explicit); ok {
		return end, true
	}
	if hasStart {
		return start, true
	}
	return time.Time{}, false
}

// IDOf returns the upstream identity of the payload, or "" when the payload
// does not match the kind.
func IDOf(kind Kind, p Payload) string {
	switch kind {
	case KindPrimary:
		// IDs start at 1; zero means the field was missing.
		if ev, ok := As[PrimaryEvent](p); ok && ev.ID != 0 {
			return strconv.FormatInt(ev.ID, 10)
		}
	case KindLuma:
		if ev, ok := As[LumaEvent](p); ok {
			return ev.APIID
		}
	case KindRA:
		if ev, ok := As[RAEvent](p); ok {
			return ev.ID
		}
	case KindMeetup:
		if ev, ok := As[MeetupEvent](p); ok {
			return ev.ID
		}
	case KindSports:
		if ev, ok := As[SportsGame](p); ok {
			return ev.ID
		}
	case KindInstagram:
		if ev, ok := As[SocialPost](p); ok {
			return ev.ID
		}
	case KindCurated:
		if ev, ok := As[CuratedEvent](p); ok {
			return ev.ID
		}
	}
	return ""
}

// TitleOf returns a human readable title for reminders and exports.
func TitleOf(kind Kind, p Payload) string {
	switch kind {
	case KindPrimary:
		if ev, ok := As[PrimaryEvent](p); ok {
			return ev.Name
		}
	case KindLuma:
		if ev, ok := As[LumaEvent](p); ok {
			return ev.Name
		}
	case KindRA:
		if ev, ok := As[RAEvent](p); ok {
			return ev.Title
		}
	case KindMeetup:
		if ev, ok := As[MeetupEvent](p); ok {
			return ev.Title
		}
	case KindSports:
		if ev, ok := As[SportsGame](p); ok {
			if ev.AwayTeam != "" && ev.HomeTeam != "" {
				return ev.AwayTeam + " @ " + ev.HomeTeam
			}
			return ev.HomeTeam + ev.AwayTeam
		}
	case KindInstagram:
		if ev, ok := As[SocialPost](p); ok {
			return firstLine(ev.Caption)
		}
	case KindCurated:
		if ev, ok := As[CuratedEvent](p); ok {
			return ev.Title
		}
	}
	return ""
}

// LocationOf returns the best available venue description.
func LocationOf(kind Kind, p Payload) string {
	switch kind {
	case KindPrimary:
		if ev, ok := As[PrimaryEvent](p); ok && ev.Venue != nil {
			return joinNonEmpty(ev.Venue.Name, ev.Venue.Address)
		}
	case KindLuma:
		if ev, ok := As[LumaEvent](p); ok && ev.GeoAddress != nil {
			if ev.GeoAddress.FullAddress != "" {
				return ev.GeoAddress.FullAddress
			}
			return joinNonEmpty(ev.GeoAddress.Address, ev.GeoAddress.City)
		}
	case KindRA:
		if ev, ok := As[RAEvent](p); ok && ev.Venue != nil {
			return joinNonEmpty(ev.Venue.Name, ev.Venue.Address)
		}
	case KindMeetup:
		if ev, ok := As[MeetupEvent](p); ok && ev.Venue != nil {
			return joinNonEmpty(ev.Venue.Name, ev.Venue.Address, ev.Venue.City)
		}
	case KindSports:
		if ev, ok := As[SportsGame](p); ok {
			return ev.Venue
		}
	case KindInstagram:
		if ev, ok := As[SocialPost](p); ok {
			return ev.Location
		}
	case KindCurated:
		if ev, ok := As[CuratedEvent](p); ok {
			return ev.Location
		}
	}
	return ""
}

// URLOf returns the upstream link for the event, if any.
func URLOf(kind Kind, p Payload) string {
	switch kind {
	case KindPrimary:
		if ev, ok := As[PrimaryEvent](p); ok {
			return ev.URL
		}
	case KindLuma:
		if ev, ok := As[LumaEvent](p); ok {
			return ev.URL
		}
	case KindRA:
		if ev, ok := As[RAEvent](p); ok {
			return ev.ContentURL
		}
	case KindMeetup:
		if ev, ok := As[MeetupEvent](p); ok {
			return ev.EventURL
		}
	case KindSports:
		if ev, ok := As[SportsGame](p); ok {
			return ev.TicketURL
		}
	case KindInstagram:
		if ev, ok := As[SocialPost](p); ok {
			return ev.Permalink
		}
	case KindCurated:
		if ev, ok := As[CuratedEvent](p); ok {
			return ev.URL
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}
