package service

import (
	"fmt"
	"strings"
	"time"

	"coursecert/internal/fulfillment/models"
	id "coursecert/pkg/domain"
	dErrors "coursecert/pkg/domain-errors"
)

// exportedBatch builds a batch of three exported certificates and returns
// the batch with the stamped serials, oldest allocation first.
func (s *ServiceSuite) exportedBatch() (*models.FulfillmentBatch, []string) {
	certs := []*models.Certificate{
		s.issueReady("CA"), s.issueReady("CA"), s.issueReady("CA"),
	}
	s.addStock("CA", 5)
	batch, err := s.service.CreateBatch(s.ctx, "CA", s.courseID)
	s.Require().NoError(err)

	serials := make([]string, 0, len(certs))
	for _, cert := range certs {
		stored, err := s.certs.FindByID(s.ctx, cert.ID)
		s.Require().NoError(err)
		serials = append(serials, stored.Serial)
	}
	return batch, serials
}

func mailedReport(rows ...string) string {
	return "serial,tracking,mailed_date\n" + strings.Join(rows, "\n") + "\n"
}

func exceptionReport(rows ...string) string {
	return "serial,reason\n" + strings.Join(rows, "\n") + "\n"
}

func (s *ServiceSuite) TestReconcileMailedReport() {
	batch, serials := s.exportedBatch()

	report := mailedReport(
		serials[0]+",TRK001,2026-03-20",
		serials[1]+",TRK002,2026-03-21",
	)
	result, err := s.service.Reconcile(s.ctx, batch.ID, report, "")
	s.Require().NoError(err)
	s.Equal(2, result.MailedApplied)
	s.Equal(0, result.VoidApplied)
	s.True(result.Success)
	s.Empty(result.RowErrors)
	s.False(result.DuplicateReport)
	s.Equal(models.BatchCounts{Exported: 1, Mailed: 2}, result.Counts)

	s.Run("batch transitions to reconciled", func() {
		stored, err := s.service.GetBatch(s.ctx, batch.ID)
		s.Require().NoError(err)
		s.Equal(models.BatchStatusReconciled, stored.Status)
	})

	s.Run("certificates carry tracking and mailed date", func() {
		cert, err := s.certs.ExecuteBySerial(s.ctx, batch.ID, serials[0],
			func(*models.Certificate) error { return nil },
			func(*models.Certificate) {},
		)
		s.Require().NoError(err)
		s.Equal(models.CertificateStatusMailed, cert.Status)
		s.Equal("TRK001", cert.TrackingCode)
		s.Require().NotNil(cert.MailedAt)
		s.Equal(time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), *cert.MailedAt)
	})
}

func (s *ServiceSuite) TestReconcileExceptionReport() {
	batch, serials := s.exportedBatch()

	result, err := s.service.Reconcile(s.ctx, batch.ID, "",
		exceptionReport(serials[0]+",undeliverable address"))
	s.Require().NoError(err)
	s.Equal(1, result.VoidApplied)
	s.True(result.Success)
	s.Equal(models.BatchCounts{Exported: 2, Void: 1, Reprint: 1}, result.Counts)

	s.Run("certificate is void with the vendor reason", func() {
		cert, err := s.certs.ExecuteBySerial(s.ctx, batch.ID, serials[0],
			func(*models.Certificate) error { return nil },
			func(*models.Certificate) {},
		)
		s.Require().NoError(err)
		s.Equal(models.CertificateStatusVoid, cert.Status)
		s.Require().NotNil(cert.VoidReason)
		s.Equal("undeliverable address", *cert.VoidReason)
	})

	s.Run("a queued replacement joined the eligible pool", func() {
		eligible, err := s.certs.ListEligible(s.ctx, "CA", s.courseID)
		s.Require().NoError(err)
		s.Require().Len(eligible, 1)
		s.Equal(models.CertificateStatusQueued, eligible[0].Status)
		s.Require().NotNil(eligible[0].ReprintOf)
		s.Empty(eligible[0].Serial)
	})

	s.Run("the voided serial returned to the pool", func() {
		available, err := s.service.AvailableStock(s.ctx, "CA")
		s.Require().NoError(err)
		s.Equal(3, available, "two spares plus the released serial")
	})
}

func (s *ServiceSuite) TestReconcileReplayIsIdempotent() {
	batch, serials := s.exportedBatch()

	report := mailedReport(serials[0] + ",TRK001,2026-03-20")
	exceptions := exceptionReport(serials[1] + ",damaged in transit")

	first, err := s.service.Reconcile(s.ctx, batch.ID, report, exceptions)
	s.Require().NoError(err)
	s.Equal(1, first.MailedApplied)
	s.Equal(1, first.VoidApplied)

	second, err := s.service.Reconcile(s.ctx, batch.ID, report, exceptions)
	s.Require().NoError(err)
	s.Equal(0, second.MailedApplied, "replayed rows apply nothing")
	s.Equal(0, second.VoidApplied)
	s.True(second.Success)
	s.True(second.DuplicateReport, "fingerprint log flags the replay")

	s.Run("counts did not drift", func() {
		stored, err := s.service.GetBatch(s.ctx, batch.ID)
		s.Require().NoError(err)
		s.Equal(models.BatchCounts{Exported: 1, Mailed: 1, Void: 1, Reprint: 1}, stored.Counts)
		s.Equal(3, stored.Counts.BoundTotal())
	})

	s.Run("exactly one reprint exists", func() {
		eligible, err := s.certs.ListEligible(s.ctx, "CA", s.courseID)
		s.Require().NoError(err)
		s.Len(eligible, 1)
	})
}

func (s *ServiceSuite) TestReconcileRowErrors() {
	batch, serials := s.exportedBatch()

	report := mailedReport(
		serials[0]+",TRK001,2026-03-20",
		"XX-999999,TRK999,2026-03-20", // serial never in this batch
	)
	result, err := s.service.Reconcile(s.ctx, batch.ID, report, "")
	s.Require().NoError(err)
	s.Equal(1, result.MailedApplied, "good rows still apply")
	s.False(result.Success)
	s.Require().Len(result.RowErrors, 1)
	s.Equal("XX-999999", result.RowErrors[0].Serial)

	s.Run("a mailed certificate cannot be voided", func() {
		result, err := s.service.Reconcile(s.ctx, batch.ID, "",
			exceptionReport(serials[0]+",late damage claim"))
		s.Require().NoError(err)
		s.Equal(0, result.VoidApplied)
		s.Require().Len(result.RowErrors, 1)
		s.Contains(result.RowErrors[0].Reason, "cannot void")
	})
}

func (s *ServiceSuite) TestReconcileValidation() {
	batch, _ := s.exportedBatch()

	s.Run("both files empty is an invalid report", func() {
		_, err := s.service.Reconcile(s.ctx, batch.ID, "", "   \n")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidReport))
	})

	s.Run("unknown batch is not found", func() {
		_, err := s.service.Reconcile(s.ctx, id.NewBatchID(), mailedReport("CA-1,T,2026-03-20"), "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("all rows malformed applies nothing", func() {
		result, err := s.service.Reconcile(s.ctx, batch.ID,
			mailedReport("garbage line", ",,,"), "")
		s.Require().NoError(err)
		s.Equal(0, result.MailedApplied)
		s.True(result.Success)

		stored, err := s.service.GetBatch(s.ctx, batch.ID)
		s.Require().NoError(err)
		s.Equal(models.BatchStatusExported, stored.Status, "no applied row, no transition")
	})
}

func (s *ServiceSuite) TestReconcileAuditTrail() {
	batch, serials := s.exportedBatch()

	_, err := s.service.Reconcile(s.ctx, batch.ID,
		mailedReport(serials[0]+",TRK001,2026-03-20"),
		exceptionReport(serials[1]+",spoiled"))
	s.Require().NoError(err)

	events, err := s.service.AuditTrail(s.ctx, batch.ID)
	s.Require().NoError(err)

	actions := make(map[string]int)
	for _, event := range events {
		actions[string(event.Action)]++
		s.Equal(s.actor, event.ActorID)
	}
	s.Equal(1, actions["batch_created"])
	s.Equal(1, actions["certificate_mailed"])
	s.Equal(1, actions["certificate_voided"])
	s.Equal(1, actions["certificate_reprinted"])
	s.Equal(1, actions["batch_reconciled"])
}

// A voided certificate's serial can be recycled into a later batch, and
// reconciliation still resolves rows against the right certificate because
// lookups are keyed by batch and serial together.
func (s *ServiceSuite) TestRecycledSerialResolvesByBatch() {
	firstBatch, serials := s.exportedBatch()

	_, err := s.service.Reconcile(s.ctx, firstBatch.ID, "",
		exceptionReport(serials[0]+",damaged in transit"))
	s.Require().NoError(err)

	// The reprint picks up the released serial in the next batch.
	secondBatch, err := s.service.CreateBatch(s.ctx, "CA", s.courseID)
	s.Require().NoError(err)

	result, err := s.service.Reconcile(s.ctx, secondBatch.ID,
		mailedReport(fmt.Sprintf("%s,TRK100,2026-03-25", serials[0])), "")
	s.Require().NoError(err)
	s.Equal(1, result.MailedApplied)

	s.Run("the original void certificate is untouched", func() {
		cert, err := s.certs.ExecuteBySerial(s.ctx, firstBatch.ID, serials[0],
			func(*models.Certificate) error { return nil },
			func(*models.Certificate) {},
		)
		s.Require().NoError(err)
		s.Equal(models.CertificateStatusVoid, cert.Status)
	})
}
