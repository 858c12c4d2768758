package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore persists audit events as JSON payloads in an append-only
// table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	var batchID any
	if event.BatchID != nil {
		batchID = uuid.UUID(*event.BatchID)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, action, batch_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), string(event.Action), batchID, payload, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByBatch(ctx context.Context, batchID string) ([]Event, error) {
	parsed, err := uuid.Parse(batchID)
	if err != nil {
		return nil, fmt.Errorf("parse batch id: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM audit_events
		WHERE batch_id = $1
		ORDER BY created_at`,
		parsed,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("unmarshal audit event: %w", err)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}
