package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"eventfeed/internal/model"
)

func game(id, start string) model.Tagged {
	return model.Tag(model.KindSports, model.SportsGame{ID: id, HomeTeam: "Giants", AwayTeam: "Dodgers", StartTime: start})
}

func TestScheduleStartsSoon(t *testing.T) {
	now := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	s := NewScheduler(nil, func() time.Time { return now })

	r, err := s.ScheduleStartsSoon(context.Background(), game("g-1", "2024-01-05T18:00:00Z"), 0)
	if err != nil {
		t.Fatalf("ScheduleStartsSoon: %v", err)
	}
	if r.ID == "" {
		t.Fatalf("expected reminder id")
	}
	if !r.FireAt.Equal(time.Date(2024, 1, 5, 17, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected fire time %v", r.FireAt)
	}
	if r.Body != "Starts in 1 hour" || r.Title != "Dodgers @ Giants" {
		t.Fatalf("unexpected text %q / %q", r.Title, r.Body)
	}
	if r.Event.Key() != "sports-g-1" {
		t.Fatalf("expected event payload attached, got %q", r.Event.Key())
	}
}

func TestScheduleRejectsPast(t *testing.T) {
	now := time.Date(2024, 1, 5, 17, 30, 0, 0, time.UTC)
	s := NewScheduler(nil, func() time.Time { return now })

	_, err := s.ScheduleStartsSoon(context.Background(), game("g-1", "2024-01-05T18:00:00Z"), time.Hour)
	if !errors.Is(err, ErrInPast) {
		t.Fatalf("expected ErrInPast, got %v", err)
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("expected nothing pending")
	}
}

func TestRescheduleReplacesAndCancelRemoves(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewScheduler(nil, func() time.Time { return now })
	ctx := context.Background()

	if _, err := s.ScheduleStartsSoon(ctx, game("g-1", "2024-01-05T18:00:00Z"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ScheduleStartsSoon(ctx, game("g-1", "2024-01-05T20:00:00Z"), time.Hour); err != nil {
		t.Fatal(err)
	}
	pending := s.Pending()
	if len(pending) != 1 || pending[0].FireAt.Hour() != 19 {
		t.Fatalf("expected single rescheduled reminder, got %#v", pending)
	}

	if !s.Cancel("sports-g-1") {
		t.Fatalf("expected cancel to find reminder")
	}
	if s.Cancel("sports-g-1") {
		t.Fatalf("expected second cancel to be a no-op")
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("expected nothing pending after cancel")
	}
}

func TestDispatchDeliversDueReminders(t *testing.T) {
	current := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	var delivered []string
	fail := true
	notifier := NotifierFunc(func(_ context.Context, r Reminder) error {
		if r.Key == "sports-flaky" && fail {
			return errors.New("notification service down")
		}
		delivered = append(delivered, r.Key)
		return nil
	})
	s := NewScheduler(notifier, func() time.Time { return current })
	ctx := context.Background()

	for _, ev := range []model.Tagged{
		game("early", "2024-01-05T14:00:00Z"),
		game("flaky", "2024-01-05T14:30:00Z"),
		game("late", "2024-01-05T20:00:00Z"),
	} {
		if _, err := s.ScheduleStartsSoon(ctx, ev, time.Hour); err != nil {
			t.Fatal(err)
		}
	}

	current = time.Date(2024, 1, 5, 13, 45, 0, 0, time.UTC)
	if n := s.Dispatch(ctx); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if len(delivered) != 1 || delivered[0] != "sports-early" {
		t.Fatalf("unexpected deliveries %v", delivered)
	}
	if len(s.Pending()) != 2 {
		t.Fatalf("failed delivery should stay pending, got %d pending", len(s.Pending()))
	}

	fail = false
	if n := s.Dispatch(ctx); n != 1 {
		t.Fatalf("expected retry to deliver, got %d", n)
	}
	if pending := s.Pending(); len(pending) != 1 || pending[0].Key != "sports-late" {
		t.Fatalf("unexpected pending %#v", pending)
	}
}

func TestHumanLead(t *testing.T) {
	cases := map[time.Duration]string{
		time.Hour:        "1 hour",
		2 * time.Hour:    "2 hours",
		30 * time.Minute: "30 minutes",
	}
	for in, want := range cases {
		if got := humanLead(in); got != want {
			t.Errorf("humanLead(%s) = %q, want %q", in, got, want)
		}
	}
}
