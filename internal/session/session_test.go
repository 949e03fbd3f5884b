package session

import (
	"context"
	"testing"

	"eventfeed/internal/kv"
)

func TestUserIDLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemory())

	if _, ok := s.UserID(ctx); ok {
		t.Fatalf("expected signed out")
	}
	if err := s.SetUserID(ctx, " 42 "); err != nil {
		t.Fatalf("SetUserID: %v", err)
	}
	if id, ok := s.UserID(ctx); !ok || id != "42" {
		t.Fatalf("UserID = %q, %v", id, ok)
	}
	if err := s.SetUserID(ctx, ""); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, ok := s.UserID(ctx); ok {
		t.Fatalf("expected signed out after clearing")
	}
}
