// Package session stores the signed-in backend identity.
package session

import (
	"context"
	"strings"

	"eventfeed/internal/kv"
	appLog "eventfeed/internal/log"
)

// UserIDKey is the persisted key holding the backend user ID.
const UserIDKey = "BackendUserId"

type Session struct {
	store kv.Store
}

func New(store kv.Store) *Session {
	return &Session{store: store}
}

// UserID returns the stored backend user ID. Read failures are logged and
// reported as signed out.
func (s *Session) UserID(ctx context.Context) (string, bool) {
	raw, ok, err := s.store.Get(ctx, UserIDKey)
	if err != nil {
		appLog.Error("session read failed", err)
		return "", false
	}
	id := strings.TrimSpace(string(raw))
	return id, ok && id != ""
}

// SetUserID stores id; an empty id signs out.
func (s *Session) SetUserID(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return s.store.Delete(ctx, UserIDKey)
	}
	return s.store.Set(ctx, UserIDKey, []byte(id))
}
