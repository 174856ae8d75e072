// Package store persists payment sessions. All backends implement the same
// optimistic-concurrency contract: Put succeeds only when the caller holds the
// version currently on record, so a stale session never overwrites a newer one.
package store

import (
	"context"
	"errors"

	"github.com/lumapay/paybot/internal/model/payment"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrVersionConflict = errors.New("session version conflict")
)

// SessionStore is the adapter boundary for session persistence.
type SessionStore interface {
	// Get loads a session by id, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*payment.Session, error)
	// Put writes the session if its stored version still equals
	// expectedVersion (zero for a first write), bumping session.Version on
	// success. A mismatch returns ErrVersionConflict and writes nothing.
	Put(ctx context.Context, session *payment.Session, expectedVersion int64) error
}
