package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "coursecert/pkg/domain"
	"coursecert/pkg/platform/sentinel"
)

// PostgresStore persists the serial pool in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed stock store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Add(ctx context.Context, serials []*Serial) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add serials: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, serial := range serials {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_serials (serial, jurisdiction, in_use, created_at, updated_at)
			VALUES ($1, $2, FALSE, $3, $3)`,
			serial.Value, serial.Jurisdiction, serial.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("serial %s: %w", serial.Value, sentinel.ErrConflict)
			}
			return fmt.Errorf("insert serial: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add serials: %w", err)
	}
	return nil
}

// Allocate claims count unused serials in one conditional bulk update.
// The FOR UPDATE SKIP LOCKED subselect makes concurrent allocations for the
// same jurisdiction claim disjoint rows; the surrounding transaction rolls
// everything back when fewer than count rows were claimable.
func (s *PostgresStore) Allocate(ctx context.Context, jurisdiction string, batchID id.BatchID, count int, now time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin allocate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		UPDATE stock_serials
		SET in_use = TRUE, batch_id = $1, updated_at = $2
		WHERE serial IN (
			SELECT serial FROM stock_serials
			WHERE jurisdiction = $3 AND in_use = FALSE
			ORDER BY created_at, serial
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING serial`,
		uuid.UUID(batchID), now, jurisdiction, count,
	)
	if err != nil {
		return nil, fmt.Errorf("allocate serials: %w", err)
	}
	allocated, err := collectStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("scan allocated serials: %w", err)
	}

	if len(allocated) < count {
		// Partial claim: roll back so no serial stays reserved.
		return nil, fmt.Errorf("allocate %d serials for %s, %d available: %w",
			count, jurisdiction, len(allocated), sentinel.ErrExhausted)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit allocate: %w", err)
	}
	return allocated, nil
}

func (s *PostgresStore) Release(ctx context.Context, value string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE stock_serials
		SET in_use = FALSE, batch_id = NULL, updated_at = $1
		WHERE serial = $2`,
		now, value,
	)
	if err != nil {
		return fmt.Errorf("release serial: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("release serial rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("serial %s: %w", value, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, jurisdiction string) ([]*Serial, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT serial, jurisdiction, in_use, batch_id, created_at, updated_at
		FROM stock_serials
		WHERE jurisdiction = $1
		ORDER BY created_at, serial`,
		jurisdiction,
	)
	if err != nil {
		return nil, fmt.Errorf("list serials: %w", err)
	}
	defer rows.Close()

	out := make([]*Serial, 0)
	for rows.Next() {
		var serial Serial
		var batchID uuid.NullUUID
		if err := rows.Scan(&serial.Value, &serial.Jurisdiction, &serial.InUse, &batchID, &serial.CreatedAt, &serial.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan serial: %w", err)
		}
		if batchID.Valid {
			converted := id.BatchID(batchID.UUID)
			serial.BatchID = &converted
		}
		out = append(out, &serial)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate serials: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Available(ctx context.Context, jurisdiction string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stock_serials
		WHERE jurisdiction = $1 AND in_use = FALSE`,
		jurisdiction,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count available serials: %w", err)
	}
	return count, nil
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

// isUniqueViolation detects the Postgres unique_violation error class
// without importing driver error types everywhere.
func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var pqErr coder
	if errors.As(err, &pqErr) {
		return pqErr.SQLState() == "23505"
	}
	return false
}
