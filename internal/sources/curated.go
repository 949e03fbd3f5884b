package sources

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "eventfeed/internal/log"
	"eventfeed/internal/model"
)

const maxOccurrencesPerEvent = 52

// expandCurated replaces every curated entry carrying an RRULE with its
// concrete occurrences inside [now-1d, now+horizon]. Non-recurring entries
// pass through unchanged. Each occurrence gets the identity
// "<id>@<YYYYMMDD>" so it can be bookmarked on its own.
func (f *Fetcher) expandCurated(items []model.CuratedEvent) []model.CuratedEvent {
	now := f.now()
	rangeStart := now.Add(-24 * time.Hour)
	rangeEnd := now.Add(f.curatedHorizon)

	out := make([]model.CuratedEvent, 0, len(items))
	for _, ev := range items {
		if strings.TrimSpace(ev.Recurrence) == "" {
			out = append(out, ev)
			continue
		}
		out = append(out, expandOne(ev, rangeStart, rangeEnd)...)
	}
	return out
}

func expandOne(ev model.CuratedEvent, rangeStart, rangeEnd time.Time) []model.CuratedEvent {
	start, ok := model.ParseTime(ev.StartDate)
	if !ok {
		appLog.Warn("curated recurrence without valid start; keeping as-is", "id", ev.ID)
		return []model.CuratedEvent{ev}
	}

	var duration time.Duration
	if end, ok := model.ParseTime(ev.EndDate); ok && end.After(start) {
		duration = end.Sub(start)
	}

	raw := strings.TrimSpace(ev.Recurrence)
	if len(raw) > 6 && strings.EqualFold(raw[:6], "RRULE:") {
		raw = raw[6:]
	}

	r, err := rrule.StrToRRule(raw)
	if err != nil {
		appLog.Error("curated recurrence parse failed; keeping as-is", err, "id", ev.ID, "rrule", ev.Recurrence)
		return []model.CuratedEvent{ev}
	}
	r.DTStart(start)

	occTimes := r.Between(rangeStart.In(start.Location()), rangeEnd.In(start.Location()), true)
	if len(occTimes) > maxOccurrencesPerEvent {
		occTimes = occTimes[:maxOccurrencesPerEvent]
	}

	out := make([]model.CuratedEvent, 0, len(occTimes))
	for _, occ := range occTimes {
		inst := ev
		inst.ID = ev.ID + "@" + occ.Format("20060102")
		inst.StartDate = model.FormatTime(occ)
		inst.EndDate = ""
		if duration > 0 {
			inst.EndDate = model.FormatTime(occ.Add(duration))
		}
		inst.Recurrence = ""
		out = append(out, inst)
	}
	return out
}
