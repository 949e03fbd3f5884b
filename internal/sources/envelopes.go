package sources

import "eventfeed/internal/model"

// dataEnvelope is the `{data: [...]}` shape.
type dataEnvelope[T any] struct {
	Data []T `json:"data"`
}

// eventsEnvelope is the `{events: [...], success}` shape. A missing success
// flag is treated as success.
type eventsEnvelope[T any] struct {
	Events  []T   `json:"events"`
	Success *bool `json:"success,omitempty"`
}

// gamesEnvelope is the sports feed shape.
type gamesEnvelope struct {
	Games  []model.SportsGame `json:"games"`
	Counts map[string]int     `json:"counts,omitempty"`
}

func unwrapData[T any](e dataEnvelope[T]) ([]T, error) {
	if e.Data == nil {
		return []T{}, nil
	}
	return e.Data, nil
}

func unwrapEvents[T any](e eventsEnvelope[T]) ([]T, error) {
	if e.Success != nil && !*e.Success {
		return nil, errUnsuccessful
	}
	if e.Events == nil {
		return []T{}, nil
	}
	return e.Events, nil
}

func unwrapGames(e gamesEnvelope) ([]model.SportsGame, error) {
	if e.Games == nil {
		return []model.SportsGame{}, nil
	}
	return e.Games, nil
}

// combinedEnvelope is the payload of the combined endpoint: every source's
// own envelope plus a server timestamp.
type combinedEnvelope struct {
	Primary   dataEnvelope[model.PrimaryEvent] `json:"event"`
	Luma      dataEnvelope[model.LumaEvent]    `json:"luma"`
	RA        eventsEnvelope[model.RAEvent]    `json:"ra"`
	Meetup    dataEnvelope[model.MeetupEvent]  `json:"meetup"`
	Sports    gamesEnvelope                    `json:"sports"`
	Instagram eventsEnvelope[model.SocialPost] `json:"instagram"`
	Curated   dataEnvelope[model.CuratedEvent] `json:"renaissance"`
	Timestamp int64                            `json:"timestamp"`
}
