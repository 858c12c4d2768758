package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"coursecert/internal/audit"
	"coursecert/internal/fulfillment/models"
	id "coursecert/pkg/domain"
	dErrors "coursecert/pkg/domain-errors"
	"coursecert/pkg/requestcontext"
)

// CreateBatch builds and exports a fulfillment batch for one jurisdiction
// and course.
//
// Ordering guarantee: serials are claimed before any certificate row is
// stamped, and the batch is recorded exported only after the bundle is
// durably stored. A packaging failure releases the claimed serials and
// leaves every certificate untouched.
func (s *Service) CreateBatch(ctx context.Context, jurisdiction string, courseID id.CourseID) (*models.FulfillmentBatch, error) {
	start := time.Now()
	if jurisdiction == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "jurisdiction is required")
	}
	actor, err := s.authorize(ctx)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()

	eligible, err := s.certs.ListEligible(ctx, jurisdiction, courseID)
	if err != nil {
		return nil, storeErr(err, "list eligible certificates")
	}
	if len(eligible) == 0 {
		return nil, dErrors.New(dErrors.CodeNoEligibleCertificates,
			fmt.Sprintf("no eligible certificates for jurisdiction %s", jurisdiction))
	}

	batchID := id.NewBatchID()
	batch, err := models.NewBatch(batchID, jurisdiction, courseID, actor, now)
	if err != nil {
		return nil, err
	}

	serials, err := s.stock.Allocate(ctx, jurisdiction, batchID, len(eligible), now)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("allocate %d serials for jurisdiction %s", len(eligible), jurisdiction))
	}

	for i, cert := range eligible {
		if _, err := cert.ApplyExport(batchID, serials[i], now); err != nil {
			s.releaseSerials(ctx, serials, now)
			return nil, err
		}
	}

	dataFileName := fmt.Sprintf("batch-%s.csv", batchID)
	data, err := encodeDataFile(eligible)
	if err != nil {
		s.releaseSerials(ctx, serials, now)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode batch data file")
	}

	counts := models.BatchCounts{Exported: len(eligible)}
	signed, err := s.signer.Sign(batchID, jurisdiction, counts, dataFileName, data, now)
	if err != nil {
		s.releaseSerials(ctx, serials, now)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sign batch manifest")
	}

	var coverDoc []byte
	if s.cover != nil {
		coverDoc, err = s.cover.Render(batch, eligible)
		if err != nil {
			s.releaseSerials(ctx, serials, now)
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "render cover document")
		}
	}

	artifactPath, err := s.packager.Package(ctx, batchID, dataFileName, data, signed, coverDoc)
	if err != nil {
		s.releaseSerials(ctx, serials, now)
		return nil, dErrors.Wrap(err, dErrors.CodeStorageError, "store export bundle")
	}

	if _, err := batch.ApplyExport(len(eligible), artifactPath, signed.DataFileHash, signed.Signature, now); err != nil {
		s.releaseSerials(ctx, serials, now)
		return nil, err
	}
	// Stamping before the batch row is saved keeps the conflict path clean:
	// the store refuses the whole set when a concurrent batch bound any of
	// the selected certificates, and releasing the serials undoes everything
	// durable except the orphaned artifact.
	if err := s.certs.UpdateAll(ctx, eligible); err != nil {
		s.releaseSerials(ctx, serials, now)
		return nil, storeErr(err, "stamp exported certificates")
	}
	if err := s.batches.Save(ctx, batch); err != nil {
		// The certificates are stamped; the batch row is not. Surface loudly
		// so an operator repairs before the vendor prints.
		s.logger.ErrorContext(ctx, "certificates stamped but batch not saved",
			"batch_id", batchID, "error", err)
		return nil, storeErr(err, "save batch")
	}

	s.emit(ctx, audit.Event{
		Action:  audit.ActionBatchCreated,
		BatchID: &batchID,
		ActorID: actor,
	})
	if s.metrics != nil {
		s.metrics.BatchesCreated.Inc()
		s.metrics.CertificatesExported.Add(float64(len(eligible)))
		s.metrics.ObserveCreateBatch(start)
	}
	s.logger.InfoContext(ctx, "batch exported",
		"batch_id", batchID,
		"jurisdiction", jurisdiction,
		"certificates", len(eligible),
		"artifact", artifactPath,
	)
	return batch, nil
}

// releaseSerials is best-effort compensation after a failed export.
func (s *Service) releaseSerials(ctx context.Context, serials []string, now time.Time) {
	for _, serial := range serials {
		if err := s.stock.Release(ctx, serial, now); err != nil {
			s.logger.ErrorContext(ctx, "serial not released after failed export",
				"serial", serial, "error", err)
		}
	}
}

// encodeDataFile renders the vendor data file. The exact bytes written here
// are what the manifest hash covers.
func encodeDataFile(certs []*models.Certificate) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	header := []string{"serial", "student_name", "address_line1", "address_line2", "city", "region", "postal_code"}
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, cert := range certs {
		row := []string{
			cert.Serial, cert.StudentName,
			cert.AddressLine1, cert.AddressLine2,
			cert.City, cert.Region, cert.PostalCode,
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
