// Package service implements the fulfillment lifecycle: issuing
// certificates, building export batches against finite serial stock, and
// reconciling vendor mail reports back onto certificate state.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"coursecert/internal/audit"
	"coursecert/internal/fulfillment/manifest"
	"coursecert/internal/fulfillment/metrics"
	"coursecert/internal/fulfillment/models"
	"coursecert/internal/fulfillment/report"
	"coursecert/internal/fulfillment/stock"
	id "coursecert/pkg/domain"
	dErrors "coursecert/pkg/domain-errors"
	"coursecert/pkg/platform/sentinel"
	"coursecert/pkg/requestcontext"
)

// CertificateStore is the persistence contract for certificates.
type CertificateStore interface {
	Save(ctx context.Context, cert *models.Certificate) error
	FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	ListEligible(ctx context.Context, jurisdiction string, courseID id.CourseID) ([]*models.Certificate, error)
	UpdateAll(ctx context.Context, certs []*models.Certificate) error
	Execute(ctx context.Context, certID id.CertificateID, validate func(*models.Certificate) error, mutate func(*models.Certificate)) (*models.Certificate, error)
	ExecuteBySerial(ctx context.Context, batchID id.BatchID, serial string, validate func(*models.Certificate) error, mutate func(*models.Certificate)) (*models.Certificate, error)
}

// BatchStore is the persistence contract for fulfillment batches.
type BatchStore interface {
	Save(ctx context.Context, batch *models.FulfillmentBatch) error
	FindByID(ctx context.Context, batchID id.BatchID) (*models.FulfillmentBatch, error)
	List(ctx context.Context, limit, offset int) ([]*models.FulfillmentBatch, error)
	Execute(ctx context.Context, batchID id.BatchID, validate func(*models.FulfillmentBatch) error, mutate func(*models.FulfillmentBatch)) (*models.FulfillmentBatch, error)
}

// StockStore is the persistence contract for the serial pool.
type StockStore interface {
	Add(ctx context.Context, serials []*stock.Serial) error
	Allocate(ctx context.Context, jurisdiction string, batchID id.BatchID, count int, now time.Time) ([]string, error)
	Release(ctx context.Context, value string, now time.Time) error
	List(ctx context.Context, jurisdiction string) ([]*stock.Serial, error)
	Available(ctx context.Context, jurisdiction string) (int, error)
}

// Packager stores and retrieves export bundles.
type Packager interface {
	Package(ctx context.Context, batchID id.BatchID, dataFileName string, data []byte, m *manifest.Manifest, cover []byte) (string, error)
	Unpackage(ctx context.Context, path string) (map[string][]byte, error)
}

// Authorizer answers the only authorization question the module asks.
type Authorizer interface {
	IsAdministrator(ctx context.Context, actor id.ActorID) (bool, error)
}

// CoverRenderer produces the optional cover document for a bundle.
type CoverRenderer interface {
	Render(batch *models.FulfillmentBatch, certs []*models.Certificate) ([]byte, error)
}

// Service orchestrates all fulfillment operations. Every public method is
// admin-only and derives the acting administrator from the request context.
type Service struct {
	certs    CertificateStore
	batches  BatchStore
	stock    StockStore
	signer   *manifest.Signer
	packager Packager
	authz    Authorizer

	cover   CoverRenderer
	audit   *audit.Publisher
	metrics *metrics.Metrics
	reports report.FingerprintLog
	logger  *slog.Logger
}

// Option configures optional collaborators.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudit enables the audit trail.
func WithAudit(publisher *audit.Publisher) Option {
	return func(s *Service) { s.audit = publisher }
}

// WithCoverRenderer adds a cover document to every bundle.
func WithCoverRenderer(renderer CoverRenderer) Option {
	return func(s *Service) { s.cover = renderer }
}

// WithFingerprintLog replaces the default in-process report fingerprint log.
func WithFingerprintLog(log report.FingerprintLog) Option {
	return func(s *Service) { s.reports = log }
}

// New constructs the fulfillment service.
func New(certs CertificateStore, batches BatchStore, stockStore StockStore, signer *manifest.Signer, packager Packager, authz Authorizer, opts ...Option) *Service {
	s := &Service{
		certs:    certs,
		batches:  batches,
		stock:    stockStore,
		signer:   signer,
		packager: packager,
		authz:    authz,
		reports:  report.NewInMemoryFingerprintLog(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// authorize resolves the acting administrator or fails with forbidden.
// Unknown callers get the same forbidden answer as known non-admins.
func (s *Service) authorize(ctx context.Context) (id.ActorID, error) {
	actor := requestcontext.ActorID(ctx)
	isAdmin, err := s.authz.IsAdministrator(ctx, actor)
	if err != nil {
		return actor, dErrors.Wrap(err, dErrors.CodeInternal, "authorization check failed")
	}
	if !isAdmin {
		return actor, dErrors.New(dErrors.CodeForbidden, "administrator role required")
	}
	return actor, nil
}

// storeErr translates infrastructure sentinels into coded domain errors at
// the service boundary.
func storeErr(err error, message string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, message)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, message)
	case errors.Is(err, sentinel.ErrExhausted):
		return dErrors.Wrap(err, dErrors.CodeInsufficientStock, message)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, message)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, message)
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, event)
}
