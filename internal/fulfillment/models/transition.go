package models

import (
	"fmt"

	dErrors "coursecert/pkg/domain-errors"
)

// CertificateEvent is a lifecycle event applied to a certificate.
type CertificateEvent string

const (
	// CertEventMarkReady promotes a verified draft into the eligible pool.
	CertEventMarkReady CertificateEvent = "mark_ready"
	// CertEventExport binds the certificate to a batch with a stamped serial.
	CertEventExport CertificateEvent = "export"
	// CertEventMail records the vendor's confirmation that the document went
	// to the post.
	CertEventMail CertificateEvent = "mail"
	// CertEventVoid cancels the certificate after a mailing exception.
	CertEventVoid CertificateEvent = "void"
)

// BatchEvent is a lifecycle event applied to a fulfillment batch.
type BatchEvent string

const (
	BatchEventExport    BatchEvent = "export"
	BatchEventReconcile BatchEvent = "reconcile"
)

// TransitionCertificate is the single source of truth for certificate state
// changes. Both the batch builder and the reconciliation engine route through
// it, so idempotence is a property of this function rather than re-derived
// per caller.
//
// The returned applied flag is false when the certificate is already in the
// event's target state; that is a no-op, not an error. Any other
// out-of-order event returns an invariant violation.
func TransitionCertificate(current CertificateStatus, event CertificateEvent) (next CertificateStatus, applied bool, err error) {
	switch event {
	case CertEventMarkReady:
		switch current {
		case CertificateStatusDraft:
			return CertificateStatusReady, true, nil
		case CertificateStatusReady:
			return current, false, nil
		}
	case CertEventExport:
		switch current {
		// Queued certificates are reprints waiting for the next batch; they
		// export the same way fresh ready certificates do.
		case CertificateStatusReady, CertificateStatusQueued:
			return CertificateStatusExported, true, nil
		case CertificateStatusExported:
			return current, false, nil
		}
	case CertEventMail:
		switch current {
		case CertificateStatusExported:
			return CertificateStatusMailed, true, nil
		case CertificateStatusMailed:
			return current, false, nil
		}
	case CertEventVoid:
		switch current {
		case CertificateStatusExported:
			return CertificateStatusVoid, true, nil
		case CertificateStatusVoid:
			return current, false, nil
		}
	default:
		return current, false, dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("unknown certificate event %q", event))
	}
	return current, false, dErrors.New(dErrors.CodeInvariantViolation,
		fmt.Sprintf("certificate cannot %s while %s", event, current))
}

// TransitionBatch applies a lifecycle event to a batch status with the same
// semantics as TransitionCertificate: repeat events in the target state are
// idempotent no-ops.
func TransitionBatch(current BatchStatus, event BatchEvent) (next BatchStatus, applied bool, err error) {
	switch event {
	case BatchEventExport:
		switch current {
		case BatchStatusQueued:
			return BatchStatusExported, true, nil
		case BatchStatusExported:
			return current, false, nil
		}
	case BatchEventReconcile:
		switch current {
		case BatchStatusExported:
			return BatchStatusReconciled, true, nil
		// Vendors send partial reports in waves; later waves land on an
		// already reconciled batch.
		case BatchStatusReconciled:
			return current, false, nil
		}
	default:
		return current, false, dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("unknown batch event %q", event))
	}
	return current, false, dErrors.New(dErrors.CodeInvariantViolation,
		fmt.Sprintf("batch cannot %s while %s", event, current))
}
