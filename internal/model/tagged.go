package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Tagged is the canonical event: a payload together with its discriminant.
// It is never flattened into a common shape.
type Tagged struct {
	Kind  Kind
	Event Payload
}

// Tag pairs a payload with its kind.
func Tag(kind Kind, p Payload) Tagged {
	return Tagged{Kind: kind, Event: p}
}

func (t Tagged) Start() (time.Time, bool) { return StartOf(t.Kind, t.Event) }
func (t Tagged) End() (time.Time, bool)   { return EndOf(t.Kind, t.Event) }
func (t Tagged) ID() string               { return IDOf(t.Kind, t.Event) }
func (t Tagged) Key() string              { return Key(t.Kind, t.ID()) }
func (t Tagged) Title() string            { return TitleOf(t.Kind, t.Event) }

type taggedJSON struct {
	Kind  Kind            `json:"kind"`
	Event json.RawMessage `json:"event"`
}

func (t Tagged) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(t.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedJSON{Kind: t.Kind, Event: raw})
}

func (t *Tagged) UnmarshalJSON(data []byte) error {
	var wire taggedJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	p, err := DecodePayload(wire.Kind, wire.Event)
	if err != nil {
		return err
	}
	t.Kind = wire.Kind
	t.Event = p
	return nil
}

// ErrUnknownKind is returned when decoding a payload for an unrecognized kind.
var ErrUnknownKind = errors.New("model: unknown kind")

// DecodePayload decodes raw JSON into the concrete payload type for kind.
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	switch kind {
	case KindPrimary:
		return decodeAs[PrimaryEvent](raw)
	case KindLuma:
		return decodeAs[LumaEvent](raw)
	case KindRA:
		return decodeAs[RAEvent](raw)
	case KindMeetup:
		return decodeAs[MeetupEvent](raw)
	case KindSports:
		return decodeAs[SportsGame](raw)
	case KindInstagram:
		return decodeAs[SocialPost](raw)
	case KindCurated:
		return decodeAs[CuratedEvent](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func decodeAs[T Payload](raw []byte) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// TagAll wraps a slice of one payload type.
func TagAll[T Payload](kind Kind, items []T) []Tagged {
	out := make([]Tagged, 0, len(items))
	for _, it := range items {
		out = append(out, Tag(kind, it))
	}
	return out
}

// CompareStart orders two events by start time. An event with a missing or
// invalid start always sorts after one with a valid start, in both
// directions; two such events compare equal.
func CompareStart(a, b Tagged, descending bool) int {
	aStart, aok := a.Start()
	bStart, bok := b.Start()
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return 1
	case !bok:
		return -1
	}
	c := aStart.Compare(bStart)
	if descending {
		return -c
	}
	return c
}

// SortByStart stable-sorts events in place by start time.
func SortByStart(events []Tagged, descending bool) {
	slices.SortStableFunc(events, func(a, b Tagged) int {
		return CompareStart(a, b, descending)
	})
}
