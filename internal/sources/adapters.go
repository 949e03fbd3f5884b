package sources

import (
	"context"
	"errors"
	"time"

	appLog "eventfeed/internal/log"
	"eventfeed/internal/model"
)

// FetchPrimary fetches the proprietary events API.
func (f *Fetcher) FetchPrimary(ctx context.Context) []model.PrimaryEvent {
	return fetchSource(ctx, f, model.KindPrimary, unwrapData[model.PrimaryEvent])
}

func (f *Fetcher) FetchLuma(ctx context.Context) []model.LumaEvent {
	return fetchSource(ctx, f, model.KindLuma, unwrapData[model.LumaEvent])
}

func (f *Fetcher) FetchRA(ctx context.Context) []model.RAEvent {
	return fetchSource(ctx, f, model.KindRA, unwrapEvents[model.RAEvent])
}

func (f *Fetcher) FetchMeetup(ctx context.Context) []model.MeetupEvent {
	return fetchSource(ctx, f, model.KindMeetup, unwrapData[model.MeetupEvent])
}

// FetchSports fetches the upcoming games schedule.
func (f *Fetcher) FetchSports(ctx context.Context) []model.SportsGame {
	return fetchSource(ctx, f, model.KindSports, unwrapGames)
}

func (f *Fetcher) FetchInstagram(ctx context.Context) []model.SocialPost {
	return fetchSource(ctx, f, model.KindInstagram, unwrapEvents[model.SocialPost])
}

// FetchCurated fetches the featured feed and expands recurring entries.
func (f *Fetcher) FetchCurated(ctx context.Context) []model.CuratedEvent {
	return f.expandCurated(fetchSource(ctx, f, model.KindCurated, unwrapData[model.CuratedEvent]))
}

// FetchKind runs the adapter for kind and tags its output.
func (f *Fetcher) FetchKind(ctx context.Context, kind model.Kind) []model.Tagged {
	switch kind {
	case model.KindPrimary:
		return model.TagAll(kind, f.FetchPrimary(ctx))
	case model.KindLuma:
		return model.TagAll(kind, f.FetchLuma(ctx))
	case model.KindRA:
		return model.TagAll(kind, f.FetchRA(ctx))
	case model.KindMeetup:
		return model.TagAll(kind, f.FetchMeetup(ctx))
	case model.KindSports:
		return model.TagAll(kind, f.FetchSports(ctx))
	case model.KindInstagram:
		return model.TagAll(kind, f.FetchInstagram(ctx))
	case model.KindCurated:
		return model.TagAll(kind, f.FetchCurated(ctx))
	default:
		appLog.Warn("fetch for unknown kind", "source", kind)
		return []model.Tagged{}
	}
}

// Combined is the decoded payload of the combined endpoint.
type Combined struct {
	ByKind    map[model.Kind][]model.Tagged
	Timestamp time.Time
}

// FetchCombined reads every source through the combined endpoint. Unlike the
// per-source adapters it reports failure, since the aggregator must tell a
// failed refresh apart from an empty one.
func (f *Fetcher) FetchCombined(ctx context.Context) (Combined, error) {
	if f.combinedURL == "" {
		return Combined{}, errors.New("combined endpoint is not configured")
	}

	var env combinedEnvelope
	if err := f.getJSON(ctx, f.combinedURL, &env); err != nil {
		return Combined{}, err
	}

	ra, err := unwrapEvents(env.RA)
	if err != nil {
		appLog.Warn("combined payload: ra envelope unsuccessful")
		ra = nil
	}
	instagram, err := unwrapEvents(env.Instagram)
	if err != nil {
		appLog.Warn("combined payload: instagram envelope unsuccessful")
		instagram = nil
	}

	out := Combined{
		ByKind: map[model.Kind][]model.Tagged{
			model.KindPrimary:   model.TagAll(model.KindPrimary, withIdentity(model.KindPrimary, env.Primary.Data)),
			model.KindLuma:      model.TagAll(model.KindLuma, withIdentity(model.KindLuma, env.Luma.Data)),
			model.KindRA:        model.TagAll(model.KindRA, withIdentity(model.KindRA, ra)),
			model.KindMeetup:    model.TagAll(model.KindMeetup, withIdentity(model.KindMeetup, env.Meetup.Data)),
			model.KindSports:    model.TagAll(model.KindSports, withIdentity(model.KindSports, env.Sports.Games)),
			model.KindInstagram: model.TagAll(model.KindInstagram, withIdentity(model.KindInstagram, instagram)),
			model.KindCurated:   model.TagAll(model.KindCurated, f.expandCurated(withIdentity(model.KindCurated, env.Curated.Data))),
		},
		Timestamp: f.now(),
	}
	if env.Timestamp > 0 {
		out.Timestamp = time.UnixMilli(env.Timestamp)
	}

	appLog.Info("combined fetch success", "url", appLog.RedactURL(f.combinedURL))
	return out, nil
}
