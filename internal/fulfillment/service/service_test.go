package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"coursecert/internal/audit"
	"coursecert/internal/fulfillment/authz"
	"coursecert/internal/fulfillment/bundle"
	"coursecert/internal/fulfillment/cover"
	"coursecert/internal/fulfillment/manifest"
	"coursecert/internal/fulfillment/models"
	batchstore "coursecert/internal/fulfillment/store/batch"
	certstore "coursecert/internal/fulfillment/store/certificate"
	stockstore "coursecert/internal/fulfillment/stock"
	id "coursecert/pkg/domain"
	dErrors "coursecert/pkg/domain-errors"
	"coursecert/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	certs    *certstore.InMemoryStore
	batches  *batchstore.InMemoryStore
	stock    *stockstore.InMemoryStore
	blobs    *bundle.InMemoryBlobStore
	packager *bundle.Packager
	signer   *manifest.Signer
	service  *Service

	ctx      context.Context
	actor    id.ActorID
	now      time.Time
	courseID id.CourseID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.certs = certstore.NewInMemory()
	s.batches = batchstore.NewInMemory()
	s.stock = stockstore.NewInMemory()
	s.blobs = bundle.NewInMemoryBlobStore()
	s.packager = bundle.NewPackager(s.blobs)

	keyring, err := manifest.NewKeyring([]byte("service-test-secret"), []string{"v1"})
	s.Require().NoError(err)
	s.signer = manifest.NewSigner(keyring)

	s.service = New(s.certs, s.batches, s.stock, s.signer, s.packager, authz.AllowAll{},
		WithAudit(audit.NewPublisher(audit.NewInMemoryStore(), discardLogger())),
		WithCoverRenderer(cover.Text{}),
		WithLogger(discardLogger()),
	)

	s.actor = id.ActorID(uuid.New())
	s.now = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(requestcontext.WithActorID(context.Background(), s.actor), s.now)
	s.courseID = id.CourseID(uuid.New())
}

// issueReady creates a certificate and promotes it into the eligible pool.
func (s *ServiceSuite) issueReady(jurisdiction string) *models.Certificate {
	cert, err := s.service.IssueDraft(s.ctx, IssueDraftParams{
		StudentID:    id.StudentID(uuid.New()),
		CourseID:     s.courseID,
		Jurisdiction: jurisdiction,
		StudentName:  "Dana Olsen",
		AddressLine1: "12 Elm St",
		City:         "Sacramento",
		Region:       "CA",
		PostalCode:   "95814",
	})
	s.Require().NoError(err)
	ready, err := s.service.MarkReady(s.ctx, cert.ID)
	s.Require().NoError(err)
	return ready
}

func (s *ServiceSuite) addStock(jurisdiction string, count int) []string {
	values := make([]string, 0, count)
	for i := 0; i < count; i++ {
		values = append(values, fmt.Sprintf("%s-%06d", jurisdiction, i+1))
	}
	added, err := s.service.AddStock(s.ctx, jurisdiction, values)
	s.Require().NoError(err)
	s.Require().Equal(count, added)
	return values
}

func (s *ServiceSuite) TestCreateBatch() {
	certs := []*models.Certificate{
		s.issueReady("CA"), s.issueReady("CA"), s.issueReady("CA"),
	}
	serials := s.addStock("CA", 5)

	batch, err := s.service.CreateBatch(s.ctx, "CA", s.courseID)
	s.Require().NoError(err)
	s.Equal(models.BatchStatusExported, batch.Status)
	s.Equal(3, batch.Counts.Exported)
	s.NotEmpty(batch.ArtifactPath)
	s.NotEmpty(batch.ContentHash)
	s.NotEmpty(batch.Signature)

	s.Run("certificates carry the oldest serials", func() {
		for i, cert := range certs {
			stored, err := s.certs.FindByID(s.ctx, cert.ID)
			s.Require().NoError(err)
			s.Equal(models.CertificateStatusExported, stored.Status)
			s.Equal(serials[i], stored.Serial)
			s.Require().NotNil(stored.BatchID)
			s.Equal(batch.ID, *stored.BatchID)
		}
	})

	s.Run("unused stock stays in the pool", func() {
		available, err := s.service.AvailableStock(s.ctx, "CA")
		s.Require().NoError(err)
		s.Equal(2, available)
	})

	s.Run("stored bundle verifies end to end", func() {
		files, err := s.packager.Unpackage(s.ctx, batch.ArtifactPath)
		s.Require().NoError(err)

		m, err := manifest.Decode(files[bundle.ManifestFileName])
		s.Require().NoError(err)
		ok, err := s.signer.Verify(m)
		s.Require().NoError(err)
		s.True(ok)
		s.Equal(batch.Signature, m.Signature)
		s.Equal(manifest.HashData(files[m.DataFileName]), m.DataFileHash)

		lines := strings.Split(strings.TrimSpace(string(files[m.DataFileName])), "\n")
		s.Len(lines, 4, "header plus one row per certificate")
		s.Contains(files, bundle.CoverFileName)
	})

	s.Run("verify operation agrees", func() {
		result, err := s.service.VerifyBatch(s.ctx, batch.ID)
		s.Require().NoError(err)
		s.True(result.SignatureValid)
		s.True(result.HashValid)
		s.True(result.MatchesBatch)
	})
}

func (s *ServiceSuite) TestCreateBatchNoEligibleCertificates() {
	s.addStock("CA", 5)
	_, err := s.service.CreateBatch(s.ctx, "CA", s.courseID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNoEligibleCertificates))
}

func (s *ServiceSuite) TestCreateBatchInsufficientStock() {
	s.issueReady("CA")
	s.issueReady("CA")
	s.issueReady("CA")
	s.addStock("CA", 2)

	_, err := s.service.CreateBatch(s.ctx, "CA", s.courseID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientStock))

	s.Run("nothing was claimed or stamped", func() {
		available, err := s.service.AvailableStock(s.ctx, "CA")
		s.Require().NoError(err)
		s.Equal(2, available)

		eligible, err := s.certs.ListEligible(s.ctx, "CA", s.courseID)
		s.Require().NoError(err)
		s.Len(eligible, 3)

		batches, err := s.service.ListBatches(s.ctx, 10, 0)
		s.Require().NoError(err)
		s.Empty(batches)
	})
}

func (s *ServiceSuite) TestCreateBatchForbidden() {
	// AllowAll still rejects callers with no actor in context.
	ctx := requestcontext.WithTime(context.Background(), s.now)
	_, err := s.service.CreateBatch(ctx, "CA", s.courseID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestCreateBatchStorageFailure() {
	s.issueReady("CA")
	s.issueReady("CA")
	s.addStock("CA", 2)

	broken := New(s.certs, s.batches, s.stock, s.signer, failingPackager{}, authz.AllowAll{},
		WithLogger(discardLogger()))
	_, err := broken.CreateBatch(s.ctx, "CA", s.courseID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStorageError))

	s.Run("claimed serials were released", func() {
		available, err := s.service.AvailableStock(s.ctx, "CA")
		s.Require().NoError(err)
		s.Equal(2, available)
	})

	s.Run("no batch and no stamped certificates exist", func() {
		batches, err := s.service.ListBatches(s.ctx, 10, 0)
		s.Require().NoError(err)
		s.Empty(batches)

		eligible, err := s.certs.ListEligible(s.ctx, "CA", s.courseID)
		s.Require().NoError(err)
		s.Len(eligible, 2)
	})
}

func (s *ServiceSuite) TestConcurrentCreateBatchBindsCertificateOnce() {
	cert := s.issueReady("CA")
	s.addStock("CA", 3)

	// A competing export runs between this call's selection and its stamping.
	var (
		competing    *models.FulfillmentBatch
		competingErr error
	)
	packager := &racingPackager{inner: s.packager, hook: func() {
		competing, competingErr = s.service.CreateBatch(s.ctx, "CA", s.courseID)
	}}
	racing := New(s.certs, s.batches, s.stock, s.signer, packager, authz.AllowAll{},
		WithLogger(discardLogger()))

	_, err := racing.CreateBatch(s.ctx, "CA", s.courseID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	s.Require().NoError(competingErr)
	s.Equal(1, competing.Counts.Exported)

	s.Run("the certificate belongs to exactly one batch", func() {
		stored, err := s.certs.FindByID(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.Require().NotNil(stored.BatchID)
		s.Equal(competing.ID, *stored.BatchID)
	})

	s.Run("one serial consumed for one exported certificate", func() {
		available, err := s.service.AvailableStock(s.ctx, "CA")
		s.Require().NoError(err)
		s.Equal(2, available)
	})

	s.Run("the losing batch was never saved", func() {
		batches, err := s.service.ListBatches(s.ctx, 10, 0)
		s.Require().NoError(err)
		s.Require().Len(batches, 1)
		s.Equal(competing.ID, batches[0].ID)
	})
}

func (s *ServiceSuite) TestAddStockValidation() {
	_, err := s.service.AddStock(s.ctx, "", []string{"CA-000101"})
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = s.service.AddStock(s.ctx, "CA", nil)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = s.service.AddStock(s.ctx, "CA", []string{"CA-000101", ""})
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	s.addStock("CA", 1)
	_, err = s.service.AddStock(s.ctx, "CA", []string{"CA-000001"})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestMarkReadyIsIdempotent() {
	cert := s.issueReady("CA")

	again, err := s.service.MarkReady(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(models.CertificateStatusReady, again.Status)

	_, err = s.service.MarkReady(s.ctx, id.NewCertificateID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// racingPackager runs a hook once, after serial allocation but before the
// caller can stamp certificates, to interleave a competing operation.
type racingPackager struct {
	inner Packager
	once  sync.Once
	hook  func()
}

func (p *racingPackager) Package(ctx context.Context, batchID id.BatchID, name string, data []byte, m *manifest.Manifest, coverDoc []byte) (string, error) {
	p.once.Do(p.hook)
	return p.inner.Package(ctx, batchID, name, data, m, coverDoc)
}

func (p *racingPackager) Unpackage(ctx context.Context, path string) (map[string][]byte, error) {
	return p.inner.Unpackage(ctx, path)
}

// failingPackager simulates blob storage being down.
type failingPackager struct{}

func (failingPackager) Package(context.Context, id.BatchID, string, []byte, *manifest.Manifest, []byte) (string, error) {
	return "", fmt.Errorf("blob store unavailable")
}

func (failingPackager) Unpackage(context.Context, string) (map[string][]byte, error) {
	return nil, fmt.Errorf("blob store unavailable")
}
