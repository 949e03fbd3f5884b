// Package reminder holds pending "starts soon" notifications and hands them
// to a Notifier when they fall due.
package reminder

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	appLog "eventfeed/internal/log"
	"eventfeed/internal/model"
)

// DefaultLead is how long before an event's start the reminder fires.
const DefaultLead = time.Hour

// ErrInPast is returned when scheduling a reminder whose fire time has passed.
var ErrInPast = errors.New("reminder: fire time is in the past")

// Reminder is one scheduled local notification.
type Reminder struct {
	ID     string       `json:"id"`
	Key    string       `json:"key"` // "<kind>-<id>" of the event
	Title  string       `json:"title"`
	Body   string       `json:"body"`
	FireAt time.Time    `json:"fireAt"`
	Event  model.Tagged `json:"event"`
}

// Notifier delivers a due reminder to the user.
type Notifier interface {
	Notify(ctx context.Context, r Reminder) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, r Reminder) error

func (f NotifierFunc) Notify(ctx context.Context, r Reminder) error { return f(ctx, r) }

// LogNotifier writes reminders to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, r Reminder) error {
	appLog.Info("reminder", "key", r.Key, "title", r.Title, "body", r.Body, "fire_at", r.FireAt.Format(time.RFC3339))
	return nil
}

// Scheduler stores reminders indexed by minute. At most one reminder exists
// per event key; scheduling again replaces it.
type Scheduler struct {
	mu sync.RWMutex

	// Map of minute-rounded unix timestamp to reminder IDs due in that minute.
	byMinute map[int64][]string
	byID     map[string]*Reminder
	byKey    map[string]string

	notifier Notifier
	now      func() time.Time

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewScheduler creates a Scheduler. notifier may be nil (LogNotifier).
func NewScheduler(notifier Notifier, now func() time.Time) *Scheduler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		byMinute: make(map[int64][]string),
		byID:     make(map[string]*Reminder),
		byKey:    make(map[string]string),
		notifier: notifier,
		now:      now,
	}
}

func minuteKey(t time.Time) int64 {
	return t.Truncate(time.Minute).Unix()
}

// ScheduleStartsSoon schedules the standard "starts in 1 hour" reminder for
// ev. It returns ErrInPast when the fire time has already passed.
func (s *Scheduler) ScheduleStartsSoon(ctx context.Context, ev model.Tagged, lead time.Duration) (Reminder, error) {
	if lead <= 0 {
		lead = DefaultLead
	}
	start, ok := ev.Start()
	if !ok {
		return Reminder{}, errors.New("reminder: event has no start time")
	}
	return s.Schedule(ctx, Reminder{
		Key:    ev.Key(),
		Title:  ev.Title(),
		Body:   "Starts in " + humanLead(lead),
		FireAt: start.Add(-lead),
		Event:  ev,
	})
}

// Schedule stores r as pending, replacing any reminder with the same key.
func (s *Scheduler) Schedule(_ context.Context, r Reminder) (Reminder, error) {
	if !r.FireAt.After(s.now()) {
		return Reminder{}, ErrInPast
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if oldID, ok := s.byKey[r.Key]; ok {
		s.removeLocked(oldID)
	}

	r.ID = uuid.New().String()
	stored := r
	s.byID[r.ID] = &stored
	s.byKey[r.Key] = r.ID
	mk := minuteKey(r.FireAt)
	s.byMinute[mk] = append(s.byMinute[mk], r.ID)

	appLog.Debug("reminder scheduled", "key", r.Key, "fire_at", r.FireAt.Format(time.RFC3339))
	return stored, nil
}

// Cancel drops the pending reminder for key, if any.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[key]
	if !ok {
		return false
	}
	s.removeLocked(id)
	return true
}

func (s *Scheduler) removeLocked(id string) {
	r, ok := s.byID[id]
	if !ok {
		return
	}
	mk := minuteKey(r.FireAt)
	ids := s.byMinute[mk]
	for i, other := range ids {
		if other == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.byMinute, mk)
	} else {
		s.byMinute[mk] = ids
	}
	delete(s.byID, id)
	if s.byKey[r.Key] == id {
		delete(s.byKey, r.Key)
	}
}

// Pending returns every pending reminder ordered by fire time.
func (s *Scheduler) Pending() []Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Reminder, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// Due returns pending reminders whose fire time is at or before now.
func (s *Scheduler) Due(now time.Time) []Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := minuteKey(now)
	out := make([]Reminder, 0)
	for mk, ids := range s.byMinute {
		if mk > limit {
			continue
		}
		for _, id := range ids {
			if r := s.byID[id]; r != nil && !r.FireAt.After(now) {
				out = append(out, *r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// Dispatch delivers every due reminder and removes the delivered ones.
// Reminders whose delivery fails stay pending for the next tick.
func (s *Scheduler) Dispatch(ctx context.Context) int {
	sent := 0
	for _, r := range s.Due(s.now()) {
		if err := s.notifier.Notify(ctx, r); err != nil {
			appLog.Error("reminder delivery failed", err, "key", r.Key)
			continue
		}
		s.mu.Lock()
		s.removeLocked(r.ID)
		s.mu.Unlock()
		sent++
	}
	return sent
}

// Start runs Dispatch once a minute.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		return errors.New("reminder: already started")
	}
	c := cron.New()
	if _, err := c.AddFunc("* * * * *", func() { s.Dispatch(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the dispatcher.
func (s *Scheduler) Stop() {
	s.cronMu.Lock()
	c := s.cron
	s.cron = nil
	s.cronMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func humanLead(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return strconv.Itoa(int(d/time.Hour)) + " hours"
	case d%time.Minute == 0:
		return strconv.Itoa(int(d/time.Minute)) + " minutes"
	default:
		return d.String()
	}
}
