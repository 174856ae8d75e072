package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lumapay/paybot/internal/model/payment"
)

// MemoryStore keeps sessions in process memory, suitable for tests and
// single-instance deployments. Records are held serialized so a Get always
// round-trips through JSON exactly like the durable backends.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string][]byte
	versions map[string]int64
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*payment.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.records[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	var session payment.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (s *MemoryStore) Put(_ context.Context, session *payment.Session, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.versions[session.ID]; current != expectedVersion {
		return fmt.Errorf("session %s at version %d, expected %d: %w",
			session.ID, current, expectedVersion, ErrVersionConflict)
	}

	session.Version = expectedVersion + 1
	session.LastUpdated = time.Now().UTC()

	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.ID, err)
	}

	s.records[session.ID] = raw
	s.versions[session.ID] = session.Version
	return nil
}
