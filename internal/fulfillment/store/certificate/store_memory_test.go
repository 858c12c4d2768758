package certificate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"coursecert/internal/fulfillment/models"
	id "coursecert/pkg/domain"
	"coursecert/pkg/platform/sentinel"
)

type InMemoryCertificateSuite struct {
	suite.Suite
	store    *InMemoryStore
	ctx      context.Context
	now      time.Time
	courseID id.CourseID
}

func TestInMemoryCertificateSuite(t *testing.T) {
	suite.Run(t, new(InMemoryCertificateSuite))
}

func (s *InMemoryCertificateSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	s.courseID = id.CourseID(id.NewCertificateID())
}

func (s *InMemoryCertificateSuite) newCert(jurisdiction string, status models.CertificateStatus) *models.Certificate {
	cert, err := models.NewCertificate(id.NewCertificateID(), id.StudentID{}, s.courseID, jurisdiction, s.now)
	s.Require().NoError(err)
	cert.Status = status
	s.Require().NoError(s.store.Save(s.ctx, cert))
	return cert
}

func (s *InMemoryCertificateSuite) TestSaveAndFind() {
	cert := s.newCert("CA", models.CertificateStatusDraft)

	found, err := s.store.FindByID(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(cert.ID, found.ID)

	s.Run("duplicate save conflicts", func() {
		err := s.store.Save(s.ctx, cert)
		s.True(errors.Is(err, sentinel.ErrConflict))
	})

	s.Run("missing certificate reports not found", func() {
		_, err := s.store.FindByID(s.ctx, id.NewCertificateID())
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})
}

func (s *InMemoryCertificateSuite) TestListEligible() {
	ready := s.newCert("CA", models.CertificateStatusReady)
	queued := s.newCert("CA", models.CertificateStatusQueued)
	s.newCert("CA", models.CertificateStatusDraft)
	s.newCert("CA", models.CertificateStatusMailed)
	s.newCert("NY", models.CertificateStatusReady)

	bound := s.newCert("CA", models.CertificateStatusReady)
	batchID := id.NewBatchID()
	_, err := s.store.Execute(s.ctx, bound.ID,
		func(*models.Certificate) error { return nil },
		func(c *models.Certificate) { c.BatchID = &batchID },
	)
	s.Require().NoError(err)

	eligible, err := s.store.ListEligible(s.ctx, "CA", s.courseID)
	s.Require().NoError(err)
	s.Len(eligible, 2, "only unbound ready and queued certificates qualify")
	s.Equal(ready.ID, eligible[0].ID)
	s.Equal(queued.ID, eligible[1].ID)
}

func (s *InMemoryCertificateSuite) TestUpdateAll() {
	first := s.newCert("CA", models.CertificateStatusReady)
	second := s.newCert("CA", models.CertificateStatusReady)

	s.Run("unknown certificate aborts the whole update", func() {
		ghost, err := models.NewCertificate(id.NewCertificateID(), id.StudentID{}, s.courseID, "CA", s.now)
		s.Require().NoError(err)
		first.Status = models.CertificateStatusExported

		err = s.store.UpdateAll(s.ctx, []*models.Certificate{first, ghost})
		s.True(errors.Is(err, sentinel.ErrNotFound))

		stored, err := s.store.FindByID(s.ctx, first.ID)
		s.Require().NoError(err)
		s.Equal(models.CertificateStatusReady, stored.Status, "nothing was written")
	})

	s.Run("all certificates update together", func() {
		first.Status = models.CertificateStatusExported
		second.Status = models.CertificateStatusExported
		s.Require().NoError(s.store.UpdateAll(s.ctx, []*models.Certificate{first, second}))

		stored, err := s.store.FindByID(s.ctx, second.ID)
		s.Require().NoError(err)
		s.Equal(models.CertificateStatusExported, stored.Status)
	})
}

func (s *InMemoryCertificateSuite) TestUpdateAllRequiresEligibility() {
	first := s.newCert("CA", models.CertificateStatusReady)
	second := s.newCert("CA", models.CertificateStatusReady)

	// Another batch binds second after both were selected.
	otherBatch := id.NewBatchID()
	_, err := s.store.Execute(s.ctx, second.ID,
		func(*models.Certificate) error { return nil },
		func(c *models.Certificate) {
			_, _ = c.ApplyExport(otherBatch, "CA-000201", s.now)
		},
	)
	s.Require().NoError(err)

	batchID := id.NewBatchID()
	_, err = first.ApplyExport(batchID, "CA-000101", s.now)
	s.Require().NoError(err)
	_, err = second.ApplyExport(batchID, "CA-000102", s.now)
	s.Require().NoError(err)

	err = s.store.UpdateAll(s.ctx, []*models.Certificate{first, second})
	s.True(errors.Is(err, sentinel.ErrConflict))

	stored, err := s.store.FindByID(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(models.CertificateStatusReady, stored.Status, "nothing was written")

	stored, err = s.store.FindByID(s.ctx, second.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.BatchID)
	s.Equal(otherBatch, *stored.BatchID, "the first binding stands")
}

func (s *InMemoryCertificateSuite) TestExecuteBySerial() {
	batchID := id.NewBatchID()
	cert := s.newCert("CA", models.CertificateStatusQueued)
	_, err := s.store.Execute(s.ctx, cert.ID,
		func(*models.Certificate) error { return nil },
		func(c *models.Certificate) {
			_, _ = c.ApplyExport(batchID, "CA-000101", s.now)
		},
	)
	s.Require().NoError(err)

	s.Run("resolves by batch and serial", func() {
		updated, err := s.store.ExecuteBySerial(s.ctx, batchID, "CA-000101",
			func(*models.Certificate) error { return nil },
			func(c *models.Certificate) {
				_, _ = c.ApplyMail("TRK1", s.now, s.now)
			},
		)
		s.Require().NoError(err)
		s.Equal(models.CertificateStatusMailed, updated.Status)
	})

	s.Run("same serial in a different batch is not found", func() {
		_, err := s.store.ExecuteBySerial(s.ctx, id.NewBatchID(), "CA-000101",
			func(*models.Certificate) error { return nil },
			func(*models.Certificate) {},
		)
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})

	s.Run("validation failure writes nothing", func() {
		boom := errors.New("rejected")
		_, err := s.store.ExecuteBySerial(s.ctx, batchID, "CA-000101",
			func(*models.Certificate) error { return boom },
			func(c *models.Certificate) { c.TrackingCode = "CLOBBERED" },
		)
		s.ErrorIs(err, boom)

		stored, err := s.store.FindByID(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.Equal("TRK1", stored.TrackingCode)
	})
}
