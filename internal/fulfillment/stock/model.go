// Package stock manages the finite pool of pre-printed serial numbers.
//
// Allocation is the one shared resource concurrent batch creations contend
// over, so both store implementations expose a single atomic "claim the N
// oldest unclaimed serials" operation instead of a read-then-write loop.
package stock

import (
	"time"

	id "coursecert/pkg/domain"
)

// Serial is one physically pre-printed stock item.
//
// Invariant: a serial has at most one non-released assignment at any time.
// Releasing (after a pre-mail void) returns it to the pool for reuse.
type Serial struct {
	Value        string      `json:"serial"`
	Jurisdiction string      `json:"jurisdiction"`
	InUse        bool        `json:"in_use"`
	BatchID      *id.BatchID `json:"batch_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
