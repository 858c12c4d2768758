package models

import (
	"time"

	id "coursecert/pkg/domain"
	dErrors "coursecert/pkg/domain-errors"
)

// CertificateStatus is the lifecycle state of a physical certificate record.
type CertificateStatus string

const (
	CertificateStatusDraft    CertificateStatus = "draft"
	CertificateStatusReady    CertificateStatus = "ready"
	CertificateStatusQueued   CertificateStatus = "queued"
	CertificateStatusExported CertificateStatus = "exported"
	CertificateStatusMailed   CertificateStatus = "mailed"
	CertificateStatusVoid     CertificateStatus = "void"
)

// Certificate is the aggregate root for one mailable compliance document.
//
// Invariants:
//   - Serial is empty until the certificate is bound to a batch, then unique
//     across all non-void certificates
//   - Status changes only through TransitionCertificate
//   - Void is terminal for this record; voiding spawns exactly one
//     replacement certificate at queued (the reprint)
type Certificate struct {
	ID           id.CertificateID  `json:"id"`
	StudentID    id.StudentID      `json:"student_id"`
	CourseID     id.CourseID       `json:"course_id"`
	Jurisdiction string            `json:"jurisdiction"`
	StudentName  string            `json:"student_name"`
	AddressLine1 string            `json:"address_line1"`
	AddressLine2 string            `json:"address_line2,omitempty"`
	City         string            `json:"city"`
	Region       string            `json:"region"`
	PostalCode   string            `json:"postal_code"`
	Serial       string            `json:"serial,omitempty"`
	Status       CertificateStatus `json:"status"`
	BatchID      *id.BatchID       `json:"batch_id,omitempty"`
	VoidReason   *string           `json:"void_reason,omitempty"`
	TrackingCode string            `json:"tracking_code,omitempty"`
	MailedAt     *time.Time        `json:"mailed_at,omitempty"`
	ReprintOf    *id.CertificateID `json:"reprint_of,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewCertificate creates a draft certificate for a verified passing course
// attempt. Drafts are not yet eligible for batching.
func NewCertificate(certID id.CertificateID, studentID id.StudentID, courseID id.CourseID, jurisdiction string, now time.Time) (*Certificate, error) {
	if jurisdiction == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "certificate jurisdiction cannot be empty")
	}
	return &Certificate{
		ID:           certID,
		StudentID:    studentID,
		CourseID:     courseID,
		Jurisdiction: jurisdiction,
		Status:       CertificateStatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ApplyMarkReady promotes a draft into the eligible pool.
func (c *Certificate) ApplyMarkReady(now time.Time) (bool, error) {
	next, applied, err := TransitionCertificate(c.Status, CertEventMarkReady)
	if err != nil {
		return false, err
	}
	if applied {
		c.Status = next
		c.UpdatedAt = now
	}
	return applied, nil
}

// ApplyExport stamps the allocated serial and binds the certificate to a
// batch. The serial must come from the stock allocator; this method only
// records the assignment.
func (c *Certificate) ApplyExport(batchID id.BatchID, serial string, now time.Time) (bool, error) {
	if serial == "" {
		return false, dErrors.New(dErrors.CodeInvariantViolation, "cannot export without a serial")
	}
	next, applied, err := TransitionCertificate(c.Status, CertEventExport)
	if err != nil {
		return false, err
	}
	if applied {
		c.Status = next
		c.Serial = serial
		c.BatchID = &batchID
		c.UpdatedAt = now
	}
	return applied, nil
}

// ApplyMail records the vendor's mailed confirmation. Re-applying to an
// already mailed certificate is a no-op so replayed reports never
// double-count.
func (c *Certificate) ApplyMail(trackingCode string, mailedAt time.Time, now time.Time) (bool, error) {
	next, applied, err := TransitionCertificate(c.Status, CertEventMail)
	if err != nil {
		return false, err
	}
	if applied {
		c.Status = next
		c.TrackingCode = trackingCode
		c.MailedAt = &mailedAt
		c.UpdatedAt = now
	}
	return applied, nil
}

// ApplyVoid cancels the certificate with the vendor-supplied reason.
// Voiding an already void certificate is a no-op.
func (c *Certificate) ApplyVoid(reason string, now time.Time) (bool, error) {
	next, applied, err := TransitionCertificate(c.Status, CertEventVoid)
	if err != nil {
		return false, err
	}
	if applied {
		c.Status = next
		c.VoidReason = &reason
		c.UpdatedAt = now
	}
	return applied, nil
}

// Reprint creates the replacement certificate for a voided one. The reprint
// starts at queued with no serial so a future batch picks it up and
// allocates fresh stock.
func (c *Certificate) Reprint(reprintID id.CertificateID, now time.Time) *Certificate {
	original := c.ID
	return &Certificate{
		ID:           reprintID,
		StudentID:    c.StudentID,
		CourseID:     c.CourseID,
		Jurisdiction: c.Jurisdiction,
		StudentName:  c.StudentName,
		AddressLine1: c.AddressLine1,
		AddressLine2: c.AddressLine2,
		City:         c.City,
		Region:       c.Region,
		PostalCode:   c.PostalCode,
		Status:       CertificateStatusQueued,
		ReprintOf:    &original,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Eligible reports whether the certificate can be picked up by a new batch.
func (c *Certificate) Eligible() bool {
	if c.BatchID != nil {
		return false
	}
	return c.Status == CertificateStatusReady || c.Status == CertificateStatusQueued
}
