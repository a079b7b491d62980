package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when no session exists for the pair.
var ErrNotFound = errors.New("session not found")

// Store persists sessions. Save is an idempotent full overwrite: a reader of
// the same session never observes a partial write, and replaying an
// identical Save leaves Load unchanged.
type Store interface {
	// Load returns the session for the (chat, user) pair or ErrNotFound.
	Load(ctx context.Context, chatID, userID int64) (*Session, error)
	// Save persists the full session state.
	Save(ctx context.Context, s *Session) error
	// Delete removes a session by id. Deleting an absent session is a no-op.
	Delete(ctx context.Context, sessionID string) error
	// ListExpired returns suspended sessions whose deadline passed at now.
	ListExpired(ctx context.Context, now time.Time) ([]*Session, error)
	// Close releases backend resources.
	Close() error
}
