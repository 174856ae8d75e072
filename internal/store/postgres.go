package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/lumapay/paybot/internal/model/payment"
)

// PostgresStore persists sessions in PostgreSQL through bun. The version
// column implements the compare-and-swap: updates only apply against the
// version the caller loaded.
type PostgresStore struct {
	db *bun.DB
}

// sessionRow is the payment_sessions table schema.
type sessionRow struct {
	bun.BaseModel `bun:"table:payment_sessions,alias:ps"`

	SessionID   string    `bun:"session_id,pk"`
	Data        []byte    `bun:"data,notnull,type:jsonb"`
	Status      string    `bun:"status,notnull"`
	CurrentStep string    `bun:"current_step,notnull"`
	Version     int64     `bun:"version,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

// NewPostgresStore wraps an existing bun handle.
func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the sessions table when it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*sessionRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create payment_sessions table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*payment.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().
		Model(&row).
		Where("session_id = ?", sessionID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}

	var session payment.Session
	if err := json.Unmarshal(row.Data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (s *PostgresStore) Put(ctx context.Context, session *payment.Session, expectedVersion int64) error {
	// Stamp a copy; the caller's session only advances once the write lands,
	// so on a conflict it still reflects what the store last accepted.
	record := session.Clone()
	record.Version = expectedVersion + 1
	record.LastUpdated = time.Now().UTC()

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.ID, err)
	}

	row := &sessionRow{
		SessionID:   record.ID,
		Data:        raw,
		Status:      string(record.Status),
		CurrentStep: string(record.CurrentStep),
		Version:     record.Version,
		UpdatedAt:   record.LastUpdated,
	}

	if expectedVersion == 0 {
		res, err := s.db.NewInsert().
			Model(row).
			On("CONFLICT (session_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert session %s: %w", session.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			// Someone else created the session first.
			return ErrVersionConflict
		}
		session.Version = record.Version
		session.LastUpdated = record.LastUpdated
		return nil
	}

	res, err := s.db.NewUpdate().
		Model(row).
		Column("data", "status", "current_step", "version", "updated_at").
		Where("session_id = ?", session.ID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", session.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	session.Version = record.Version
	session.LastUpdated = record.LastUpdated
	return nil
}
