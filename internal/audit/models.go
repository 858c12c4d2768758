// Package audit captures the append-only trail of fulfillment lifecycle
// events: every batch export and every reconciliation outcome is recorded
// with the acting administrator for later review.
package audit

import (
	"time"

	id "coursecert/pkg/domain"
)

// Action identifies an audited lifecycle event.
type Action string

const (
	ActionStockAdded         Action = "stock_added"
	ActionBatchCreated       Action = "batch_created"
	ActionBatchReconciled    Action = "batch_reconciled"
	ActionCertificateMailed  Action = "certificate_mailed"
	ActionCertificateVoided  Action = "certificate_voided"
	ActionCertificateReprint Action = "certificate_reprinted"
)

// Event is one audit record.
type Event struct {
	Action        Action            `json:"action"`
	BatchID       *id.BatchID       `json:"batch_id,omitempty"`
	CertificateID *id.CertificateID `json:"certificate_id,omitempty"`
	Serial        string            `json:"serial,omitempty"`
	ActorID       id.ActorID        `json:"actor_id"`
	Reason        string            `json:"reason,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}
