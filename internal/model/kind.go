package model

import "strings"

// Kind is the discriminant of the canonical event union. Its string form is
// also the source name used in persisted keys and by the backend.
type Kind string

const (
	KindPrimary   Kind = "event"
	KindLuma      Kind = "luma"
	KindRA        Kind = "ra"
	KindMeetup    Kind = "meetup"
	KindSports    Kind = "sports"
	KindInstagram Kind = "instagram"
	KindCurated   Kind = "renaissance"
)

// Kinds lists every kind in a fixed order. Iteration over sources uses this
// order so logs and outputs are stable.
var Kinds = []Kind{
	KindPrimary,
	KindLuma,
	KindRA,
	KindMeetup,
	KindSports,
	KindInstagram,
	KindCurated,
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Label is the capitalized name used in per-kind storage keys,
// e.g. "BookmarkedLumaEvents".
func (k Kind) Label() string {
	switch k {
	case KindPrimary:
		return "Event"
	case KindLuma:
		return "Luma"
	case KindRA:
		return "RA"
	case KindMeetup:
		return "Meetup"
	case KindSports:
		return "Sports"
	case KindInstagram:
		return "Instagram"
	case KindCurated:
		return "Renaissance"
	default:
		return ""
	}
}

// sourceAliases maps backend source strings to kinds. The backend has used
// more than one spelling over time.
var sourceAliases = map[string]Kind{
	"event":            KindPrimary,
	"events":           KindPrimary,
	"primary":          KindPrimary,
	"luma":             KindLuma,
	"ra":               KindRA,
	"resident-advisor": KindRA,
	"residentadvisor":  KindRA,
	"meetup":           KindMeetup,
	"sports":           KindSports,
	"sport":            KindSports,
	"game":             KindSports,
	"instagram":        KindInstagram,
	"social":           KindInstagram,
	"renaissance":      KindCurated,
	"curated":          KindCurated,
	"featured":         KindCurated,
}

// KindFromSource resolves a source string to a Kind.
func KindFromSource(source string) (Kind, bool) {
	k, ok := sourceAliases[strings.ToLower(strings.TrimSpace(source))]
	return k, ok
}

// Key builds the composite "<kind>-<id>" identity used as a map key across
// sources.
func Key(kind Kind, id string) string {
	return string(kind) + "-" + id
}
