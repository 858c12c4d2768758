package certificate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"coursecert/internal/fulfillment/models"
	id "coursecert/pkg/domain"
	"coursecert/pkg/platform/sentinel"
)

// PostgresStore persists certificates in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed certificate store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const certificateColumns = `
	id, student_id, course_id, jurisdiction, student_name,
	address_line1, address_line2, city, region, postal_code,
	serial, status, batch_id, void_reason, tracking_code,
	mailed_at, reprint_of, created_at, updated_at`

func (s *PostgresStore) Save(ctx context.Context, cert *models.Certificate) error {
	if err := insertCertificate(ctx, s.db, cert); err != nil {
		return err
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCertificate(ctx context.Context, db execer, cert *models.Certificate) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO certificates (`+certificateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		uuid.UUID(cert.ID), uuid.UUID(cert.StudentID), uuid.UUID(cert.CourseID),
		cert.Jurisdiction, cert.StudentName,
		cert.AddressLine1, nullString(cert.AddressLine2), cert.City, cert.Region, cert.PostalCode,
		nullString(cert.Serial), string(cert.Status), nullBatchID(cert.BatchID),
		nullStringPtr(cert.VoidReason), nullString(cert.TrackingCode),
		nullTime(cert.MailedAt), nullCertID(cert.ReprintOf), cert.CreatedAt, cert.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("certificate %s: %w", cert.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+certificateColumns+` FROM certificates WHERE id = $1`,
		uuid.UUID(certID),
	)
	cert, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("certificate %s: %w", certID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	return cert, nil
}

func (s *PostgresStore) ListEligible(ctx context.Context, jurisdiction string, courseID id.CourseID) ([]*models.Certificate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+certificateColumns+` FROM certificates
		WHERE jurisdiction = $1 AND course_id = $2
		  AND status IN ('ready', 'queued') AND batch_id IS NULL
		ORDER BY created_at, id`,
		jurisdiction, uuid.UUID(courseID),
	)
	if err != nil {
		return nil, fmt.Errorf("list eligible certificates: %w", err)
	}
	defer rows.Close()

	var out []*models.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out = append(out, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return out, nil
}

// UpdateAll stamps export state onto a set of certificates as one atomic
// unit. The per-row WHERE guard re-checks eligibility inside the
// transaction: selection ran without a lock, and a concurrent batch may have
// bound a certificate in between. One stale certificate rolls back the set.
func (s *PostgresStore) UpdateAll(ctx context.Context, certs []*models.Certificate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin certificate update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, cert := range certs {
		if err := stampCertificate(ctx, tx, cert); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit certificate update: %w", err)
	}
	return nil
}

func stampCertificate(ctx context.Context, db execer, cert *models.Certificate) error {
	result, err := db.ExecContext(ctx, `
		UPDATE certificates SET
			serial = $2, status = $3, batch_id = $4, updated_at = $5
		WHERE id = $1 AND batch_id IS NULL AND status IN ('ready', 'queued')`,
		uuid.UUID(cert.ID), nullString(cert.Serial), string(cert.Status),
		nullBatchID(cert.BatchID), cert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("stamp certificate: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("stamp certificate rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("certificate %s no longer eligible: %w", cert.ID, sentinel.ErrConflict)
	}
	return nil
}

func updateCertificate(ctx context.Context, db execer, cert *models.Certificate) error {
	result, err := db.ExecContext(ctx, `
		UPDATE certificates SET
			serial = $2, status = $3, batch_id = $4, void_reason = $5,
			tracking_code = $6, mailed_at = $7, updated_at = $8
		WHERE id = $1`,
		uuid.UUID(cert.ID), nullString(cert.Serial), string(cert.Status),
		nullBatchID(cert.BatchID), nullStringPtr(cert.VoidReason),
		nullString(cert.TrackingCode), nullTime(cert.MailedAt), cert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update certificate: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update certificate rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("certificate %s: %w", cert.ID, sentinel.ErrNotFound)
	}
	return nil
}

// Execute locks one certificate row (FOR UPDATE), validates, mutates, and
// writes it back in a single transaction.
func (s *PostgresStore) Execute(ctx context.Context, certID id.CertificateID, validate func(*models.Certificate) error, mutate func(*models.Certificate)) (*models.Certificate, error) {
	return s.execute(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE id = $1 FOR UPDATE`,
		[]any{uuid.UUID(certID)}, validate, mutate)
}

// ExecuteBySerial is Execute keyed by (batch, serial).
func (s *PostgresStore) ExecuteBySerial(ctx context.Context, batchID id.BatchID, serial string, validate func(*models.Certificate) error, mutate func(*models.Certificate)) (*models.Certificate, error) {
	return s.execute(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE batch_id = $1 AND serial = $2 FOR UPDATE`,
		[]any{uuid.UUID(batchID), serial}, validate, mutate)
}

func (s *PostgresStore) execute(ctx context.Context, query string, args []any, validate func(*models.Certificate) error, mutate func(*models.Certificate)) (*models.Certificate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin certificate execute: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cert, err := scanCertificate(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock certificate: %w", err)
	}
	if err := validate(cert); err != nil {
		return nil, err
	}
	mutate(cert)
	if err := updateCertificate(ctx, tx, cert); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit certificate execute: %w", err)
	}
	return cert, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (*models.Certificate, error) {
	var cert models.Certificate
	var certID, studentID, courseID uuid.UUID
	var addressLine2, serial, trackingCode, voidReason sql.NullString
	var batchID, reprintOf uuid.NullUUID
	var mailedAt sql.NullTime
	var status string

	err := row.Scan(
		&certID, &studentID, &courseID, &cert.Jurisdiction, &cert.StudentName,
		&cert.AddressLine1, &addressLine2, &cert.City, &cert.Region, &cert.PostalCode,
		&serial, &status, &batchID, &voidReason, &trackingCode,
		&mailedAt, &reprintOf, &cert.CreatedAt, &cert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cert.ID = id.CertificateID(certID)
	cert.StudentID = id.StudentID(studentID)
	cert.CourseID = id.CourseID(courseID)
	cert.Status = models.CertificateStatus(status)
	cert.AddressLine2 = addressLine2.String
	cert.Serial = serial.String
	cert.TrackingCode = trackingCode.String
	if voidReason.Valid {
		cert.VoidReason = &voidReason.String
	}
	if batchID.Valid {
		converted := id.BatchID(batchID.UUID)
		cert.BatchID = &converted
	}
	if reprintOf.Valid {
		converted := id.CertificateID(reprintOf.UUID)
		cert.ReprintOf = &converted
	}
	if mailedAt.Valid {
		cert.MailedAt = &mailedAt.Time
	}
	return &cert, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullStringPtr(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

func nullBatchID(value *id.BatchID) uuid.NullUUID {
	if value == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*value), Valid: true}
}

func nullCertID(value *id.CertificateID) uuid.NullUUID {
	if value == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*value), Valid: true}
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
