package models

import (
	"time"

	id "coursecert/pkg/domain"
	dErrors "coursecert/pkg/domain-errors"
)

// BatchStatus is the lifecycle state of a fulfillment batch.
type BatchStatus string

const (
	BatchStatusQueued     BatchStatus = "queued"
	BatchStatusExported   BatchStatus = "exported"
	BatchStatusReconciled BatchStatus = "reconciled"
)

// BatchCounts tracks certificate outcomes within a batch.
//
// Invariant: Queued + Exported + Mailed + Void always equals the number of
// certificates ever bound to the batch. Reprints spawn in a future batch and
// are only counted in Reprint here, never in the bound total.
type BatchCounts struct {
	Queued   int `json:"queued"`
	Exported int `json:"exported"`
	Mailed   int `json:"mailed"`
	Void     int `json:"void"`
	Reprint  int `json:"reprint"`
}

// BoundTotal is the number of certificates ever bound to the batch.
func (c BatchCounts) BoundTotal() int {
	return c.Queued + c.Exported + c.Mailed + c.Void
}

// FulfillmentBatch is a unit of export/mail work for one jurisdiction and
// course.
type FulfillmentBatch struct {
	ID           id.BatchID  `json:"id"`
	Jurisdiction string      `json:"jurisdiction"`
	CourseID     id.CourseID `json:"course_id"`
	Status       BatchStatus `json:"status"`
	Counts       BatchCounts `json:"counts"`
	ArtifactPath string      `json:"artifact_path,omitempty"`
	ContentHash  string      `json:"content_hash,omitempty"`
	Signature    string      `json:"signature,omitempty"`
	CreatedBy    id.ActorID  `json:"created_by"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// NewBatch opens a batch in queued state. It only becomes exported once the
// bundle is packaged and stored.
func NewBatch(batchID id.BatchID, jurisdiction string, courseID id.CourseID, createdBy id.ActorID, now time.Time) (*FulfillmentBatch, error) {
	if jurisdiction == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "batch jurisdiction cannot be empty")
	}
	return &FulfillmentBatch{
		ID:           batchID,
		Jurisdiction: jurisdiction,
		CourseID:     courseID,
		Status:       BatchStatusQueued,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ApplyExport marks the batch exported with its artifact metadata and the
// count of certificates bound to it.
func (b *FulfillmentBatch) ApplyExport(exportedCount int, artifactPath, contentHash, signature string, now time.Time) (bool, error) {
	next, applied, err := TransitionBatch(b.Status, BatchEventExport)
	if err != nil {
		return false, err
	}
	if applied {
		b.Status = next
		b.Counts.Exported = exportedCount
		b.ArtifactPath = artifactPath
		b.ContentHash = contentHash
		b.Signature = signature
		b.UpdatedAt = now
	}
	return applied, nil
}

// RecordMailed moves one certificate from exported to mailed in the counts.
func (b *FulfillmentBatch) RecordMailed(now time.Time) {
	b.Counts.Exported--
	b.Counts.Mailed++
	b.UpdatedAt = now
}

// RecordVoid moves one certificate from exported to void and notes the
// replacement reprint.
func (b *FulfillmentBatch) RecordVoid(now time.Time) {
	b.Counts.Exported--
	b.Counts.Void++
	b.Counts.Reprint++
	b.UpdatedAt = now
}

// ApplyReconcile transitions the batch after a reconciliation pass that
// touched at least one row. Later waves of vendor reports land on an already
// reconciled batch and are no-ops.
func (b *FulfillmentBatch) ApplyReconcile(now time.Time) (bool, error) {
	next, applied, err := TransitionBatch(b.Status, BatchEventReconcile)
	if err != nil {
		return false, err
	}
	if applied {
		b.Status = next
		b.UpdatedAt = now
	}
	return applied, nil
}
