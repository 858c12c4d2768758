package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"coursecert/internal/fulfillment/models"
	id "coursecert/pkg/domain"
	"coursecert/pkg/platform/sentinel"
)

// PostgresStore persists batches in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed batch store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const batchColumns = `
	id, jurisdiction, course_id, status,
	count_queued, count_exported, count_mailed, count_void, count_reprint,
	artifact_path, content_hash, signature, created_by, created_at, updated_at`

func (s *PostgresStore) Save(ctx context.Context, batch *models.FulfillmentBatch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fulfillment_batches (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		uuid.UUID(batch.ID), batch.Jurisdiction, uuid.UUID(batch.CourseID), string(batch.Status),
		batch.Counts.Queued, batch.Counts.Exported, batch.Counts.Mailed, batch.Counts.Void, batch.Counts.Reprint,
		nullString(batch.ArtifactPath), nullString(batch.ContentHash), nullString(batch.Signature),
		uuid.UUID(batch.CreatedBy), batch.CreatedAt, batch.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("batch %s: %w", batch.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, batchID id.BatchID) (*models.FulfillmentBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+` FROM fulfillment_batches WHERE id = $1`,
		uuid.UUID(batchID),
	)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch %s: %w", batchID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find batch: %w", err)
	}
	return batch, nil
}

func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*models.FulfillmentBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+` FROM fulfillment_batches
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []*models.FulfillmentBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return out, nil
}

// Execute locks one batch row (FOR UPDATE), validates, mutates, and writes
// it back in a single transaction.
func (s *PostgresStore) Execute(ctx context.Context, batchID id.BatchID, validate func(*models.FulfillmentBatch) error, mutate func(*models.FulfillmentBatch)) (*models.FulfillmentBatch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch execute: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	batch, err := scanBatch(tx.QueryRowContext(ctx, `
		SELECT `+batchColumns+` FROM fulfillment_batches WHERE id = $1 FOR UPDATE`,
		uuid.UUID(batchID),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch %s: %w", batchID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("lock batch: %w", err)
	}
	if err := validate(batch); err != nil {
		return nil, err
	}
	mutate(batch)

	_, err = tx.ExecContext(ctx, `
		UPDATE fulfillment_batches SET
			status = $2, count_queued = $3, count_exported = $4, count_mailed = $5,
			count_void = $6, count_reprint = $7, artifact_path = $8, content_hash = $9,
			signature = $10, updated_at = $11
		WHERE id = $1`,
		uuid.UUID(batch.ID), string(batch.Status),
		batch.Counts.Queued, batch.Counts.Exported, batch.Counts.Mailed,
		batch.Counts.Void, batch.Counts.Reprint,
		nullString(batch.ArtifactPath), nullString(batch.ContentHash),
		nullString(batch.Signature), batch.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch execute: %w", err)
	}
	return batch, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*models.FulfillmentBatch, error) {
	var batch models.FulfillmentBatch
	var batchID, courseID, createdBy uuid.UUID
	var status string
	var artifactPath, contentHash, signature sql.NullString

	err := row.Scan(
		&batchID, &batch.Jurisdiction, &courseID, &status,
		&batch.Counts.Queued, &batch.Counts.Exported, &batch.Counts.Mailed,
		&batch.Counts.Void, &batch.Counts.Reprint,
		&artifactPath, &contentHash, &signature, &createdBy,
		&batch.CreatedAt, &batch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	batch.ID = id.BatchID(batchID)
	batch.CourseID = id.CourseID(courseID)
	batch.CreatedBy = id.ActorID(createdBy)
	batch.Status = models.BatchStatus(status)
	batch.ArtifactPath = artifactPath.String
	batch.ContentHash = contentHash.String
	batch.Signature = signature.String
	return &batch, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

// isUniqueViolation detects the Postgres unique_violation error class.
func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var pqErr coder
	if errors.As(err, &pqErr) {
		return pqErr.SQLState() == "23505"
	}
	return false
}
