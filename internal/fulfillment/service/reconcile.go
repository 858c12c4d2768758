package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"coursecert/internal/audit"
	"coursecert/internal/fulfillment/models"
	"coursecert/internal/fulfillment/report"
	id "coursecert/pkg/domain"
	dErrors "coursecert/pkg/domain-errors"
	"coursecert/pkg/platform/sentinel"
	"coursecert/pkg/requestcontext"
)

// RowError is one reconciliation row that could not be applied. Row errors
// never abort the upload; the remaining rows still apply.
type RowError struct {
	Serial string `json:"serial"`
	Reason string `json:"reason"`
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	BatchID         id.BatchID         `json:"batch_id"`
	MailedApplied   int                `json:"mailed_applied"`
	VoidApplied     int                `json:"void_applied"`
	RowErrors       []RowError         `json:"row_errors,omitempty"`
	DuplicateReport bool               `json:"duplicate_report"`
	Success         bool               `json:"success"`
	Counts          models.BatchCounts `json:"counts"`
}

// Reconcile applies a vendor mailed report and/or exception report to a
// batch. The whole operation is idempotent: replaying a report applies
// nothing and counts nothing, because every certificate transition routes
// through the state machine's no-op detection.
func (s *Service) Reconcile(ctx context.Context, batchID id.BatchID, mailedText, exceptionsText string) (*ReconcileResult, error) {
	start := time.Now()
	actor, err := s.authorize(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(mailedText) == "" && strings.TrimSpace(exceptionsText) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidReport, "at least one report file is required")
	}
	now := requestcontext.Now(ctx).UTC()

	if _, err := s.batches.FindByID(ctx, batchID); err != nil {
		return nil, storeErr(err, "find batch")
	}

	var (
		mailed        []report.MailedRecord
		exceptions    []report.ExceptionRecord
		mailedSeen    bool
		exceptionSeen bool
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if strings.TrimSpace(mailedText) == "" {
			return nil
		}
		mailed = report.ParseMailed(mailedText)
		mailedSeen = s.recordFingerprint(groupCtx, batchID, mailedText)
		return nil
	})
	group.Go(func() error {
		if strings.TrimSpace(exceptionsText) == "" {
			return nil
		}
		exceptions = report.ParseExceptions(exceptionsText)
		exceptionSeen = s.recordFingerprint(groupCtx, batchID, exceptionsText)
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "parse reports")
	}

	result := &ReconcileResult{
		BatchID:         batchID,
		DuplicateReport: mailedSeen || exceptionSeen,
	}
	for _, record := range mailed {
		s.applyMailed(ctx, batchID, record, now, actor, result)
	}
	for _, record := range exceptions {
		s.applyException(ctx, batchID, record, now, actor, result)
	}

	if result.MailedApplied+result.VoidApplied > 0 {
		reconciled := false
		batch, err := s.batches.Execute(ctx, batchID,
			func(b *models.FulfillmentBatch) error {
				_, _, err := models.TransitionBatch(b.Status, models.BatchEventReconcile)
				return err
			},
			func(b *models.FulfillmentBatch) {
				reconciled, _ = b.ApplyReconcile(now)
			},
		)
		if err != nil {
			return nil, storeErr(err, "transition batch to reconciled")
		}
		result.Counts = batch.Counts
		if reconciled {
			s.emit(ctx, audit.Event{
				Action:  audit.ActionBatchReconciled,
				BatchID: &batchID,
				ActorID: actor,
			})
		}
	} else if batch, err := s.batches.FindByID(ctx, batchID); err == nil {
		result.Counts = batch.Counts
	}

	result.Success = len(result.RowErrors) == 0
	if s.metrics != nil {
		s.metrics.ReconcileRowErrors.Add(float64(len(result.RowErrors)))
		if result.DuplicateReport {
			s.metrics.DuplicateReports.Inc()
		}
		s.metrics.ObserveReconcile(start)
	}
	s.logger.InfoContext(ctx, "batch reconciled",
		"batch_id", batchID,
		"mailed_applied", result.MailedApplied,
		"void_applied", result.VoidApplied,
		"row_errors", len(result.RowErrors),
		"duplicate_report", result.DuplicateReport,
	)
	return result, nil
}

// applyMailed transitions one certificate to mailed. A certificate already
// mailed is skipped without counting; a serial that cannot mail from its
// current state becomes a row error.
func (s *Service) applyMailed(ctx context.Context, batchID id.BatchID, record report.MailedRecord, now time.Time, actor id.ActorID, result *ReconcileResult) {
	applied := false
	cert, err := s.certs.ExecuteBySerial(ctx, batchID, record.Serial,
		func(c *models.Certificate) error {
			_, _, err := models.TransitionCertificate(c.Status, models.CertEventMail)
			return err
		},
		func(c *models.Certificate) {
			applied, _ = c.ApplyMail(record.TrackingCode, record.MailedAt, now)
		},
	)
	if err != nil {
		result.RowErrors = append(result.RowErrors, rowError(record.Serial, err))
		return
	}
	if !applied {
		return
	}
	// Count updates are not retried. A replayed row is a no-op at the
	// certificate and cannot repair the counts, so a failure here leaves
	// them behind the certificate rows until an operator intervenes.
	if _, err := s.batches.Execute(ctx, batchID, noBatchCheck, func(b *models.FulfillmentBatch) {
		b.RecordMailed(now)
	}); err != nil {
		s.logger.ErrorContext(ctx, "batch counts not updated for mailed certificate",
			"batch_id", batchID, "serial", record.Serial, "error", err)
	}
	result.MailedApplied++
	s.emit(ctx, audit.Event{
		Action:        audit.ActionCertificateMailed,
		BatchID:       &batchID,
		CertificateID: &cert.ID,
		Serial:        record.Serial,
		ActorID:       actor,
	})
	if s.metrics != nil {
		s.metrics.CertificatesMailed.Inc()
	}
}

// applyException voids one certificate, returns its serial to the pool, and
// creates the replacement. The void transition is the idempotence gate: a
// replayed exception row finds the certificate already void and does
// nothing, so exactly one reprint ever exists per void.
func (s *Service) applyException(ctx context.Context, batchID id.BatchID, record report.ExceptionRecord, now time.Time, actor id.ActorID, result *ReconcileResult) {
	applied := false
	cert, err := s.certs.ExecuteBySerial(ctx, batchID, record.Serial,
		func(c *models.Certificate) error {
			_, _, err := models.TransitionCertificate(c.Status, models.CertEventVoid)
			return err
		},
		func(c *models.Certificate) {
			applied, _ = c.ApplyVoid(record.Reason, now)
		},
	)
	if err != nil {
		result.RowErrors = append(result.RowErrors, rowError(record.Serial, err))
		return
	}
	if !applied {
		return
	}

	reprint := cert.Reprint(id.NewCertificateID(), now)
	if err := s.certs.Save(ctx, reprint); err != nil {
		s.logger.ErrorContext(ctx, "reprint not created for voided certificate",
			"certificate_id", cert.ID, "serial", record.Serial, "error", err)
		result.RowErrors = append(result.RowErrors, RowError{
			Serial: record.Serial,
			Reason: "certificate voided but replacement was not created",
		})
	} else {
		s.emit(ctx, audit.Event{
			Action:        audit.ActionCertificateReprint,
			BatchID:       &batchID,
			CertificateID: &reprint.ID,
			Serial:        record.Serial,
			ActorID:       actor,
		})
		if s.metrics != nil {
			s.metrics.ReprintsCreated.Inc()
		}
	}

	if err := s.stock.Release(ctx, record.Serial, now); err != nil {
		s.logger.ErrorContext(ctx, "serial not released after void",
			"serial", record.Serial, "error", err)
	}
	// Not retried; see applyMailed on why replays cannot repair the counts.
	if _, err := s.batches.Execute(ctx, batchID, noBatchCheck, func(b *models.FulfillmentBatch) {
		b.RecordVoid(now)
	}); err != nil {
		s.logger.ErrorContext(ctx, "batch counts not updated for voided certificate",
			"batch_id", batchID, "serial", record.Serial, "error", err)
	}
	result.VoidApplied++
	s.emit(ctx, audit.Event{
		Action:        audit.ActionCertificateVoided,
		BatchID:       &batchID,
		CertificateID: &cert.ID,
		Serial:        record.Serial,
		ActorID:       actor,
		Reason:        record.Reason,
	})
	if s.metrics != nil {
		s.metrics.CertificatesVoided.Inc()
	}
}

// recordFingerprint is fail-open observability: a log failure never blocks
// reconciliation.
func (s *Service) recordFingerprint(ctx context.Context, batchID id.BatchID, text string) bool {
	seen, err := s.reports.Record(ctx, batchID, report.Fingerprint(text))
	if err != nil {
		s.logger.WarnContext(ctx, "report fingerprint not recorded",
			"batch_id", batchID, "error", err)
		return false
	}
	if seen {
		s.logger.WarnContext(ctx, "report content seen before", "batch_id", batchID)
	}
	return seen
}

func rowError(serial string, err error) RowError {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return RowError{Serial: serial, Reason: "no certificate with this serial in the batch"}
	case dErrors.MessageOf(err) != "":
		return RowError{Serial: serial, Reason: dErrors.MessageOf(err)}
	default:
		return RowError{Serial: serial, Reason: "row could not be applied"}
	}
}

func noBatchCheck(*models.FulfillmentBatch) error { return nil }
