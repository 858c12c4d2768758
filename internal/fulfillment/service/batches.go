package service

import (
	"context"

	"coursecert/internal/audit"
	"coursecert/internal/fulfillment/bundle"
	"coursecert/internal/fulfillment/manifest"
	"coursecert/internal/fulfillment/models"
	id "coursecert/pkg/domain"
	dErrors "coursecert/pkg/domain-errors"
)

// GetBatch returns one batch with its counts and artifact metadata.
func (s *Service) GetBatch(ctx context.Context, batchID id.BatchID) (*models.FulfillmentBatch, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		return nil, storeErr(err, "find batch")
	}
	return batch, nil
}

// ListBatches returns batches newest first with offset pagination.
func (s *Service) ListBatches(ctx context.Context, limit, offset int) ([]*models.FulfillmentBatch, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	batches, err := s.batches.List(ctx, limit, offset)
	if err != nil {
		return nil, storeErr(err, "list batches")
	}
	return batches, nil
}

// VerifyResult is the outcome of an artifact integrity check.
type VerifyResult struct {
	BatchID        id.BatchID `json:"batch_id"`
	ArtifactPath   string     `json:"artifact_path"`
	SignatureValid bool       `json:"signature_valid"`
	HashValid      bool       `json:"hash_valid"`
	MatchesBatch   bool       `json:"matches_batch"`
}

// VerifyBatch downloads a batch's stored bundle and re-checks its manifest
// signature, its data file hash, and that both still match what the batch
// row recorded at export time.
func (s *Service) VerifyBatch(ctx context.Context, batchID id.BatchID) (*VerifyResult, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		return nil, storeErr(err, "find batch")
	}
	if batch.ArtifactPath == "" {
		return nil, dErrors.New(dErrors.CodeConflict, "batch has no stored artifact")
	}

	files, err := s.packager.Unpackage(ctx, batch.ArtifactPath)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageError, "fetch export bundle")
	}
	manifestBytes, ok := files[bundle.ManifestFileName]
	if !ok {
		return nil, dErrors.New(dErrors.CodeStorageError, "bundle is missing its manifest")
	}
	m, err := manifest.Decode(manifestBytes)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageError, "decode bundle manifest")
	}

	result := &VerifyResult{BatchID: batchID, ArtifactPath: batch.ArtifactPath}
	result.SignatureValid, err = s.signer.Verify(m)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "verify manifest signature")
	}
	if data, ok := files[m.DataFileName]; ok {
		result.HashValid = manifest.HashData(data) == m.DataFileHash
	}
	result.MatchesBatch = m.Signature == batch.Signature && m.DataFileHash == batch.ContentHash
	return result, nil
}

// AuditTrail returns the recorded lifecycle events for a batch, oldest
// first. Without an audit publisher configured the trail is empty.
func (s *Service) AuditTrail(ctx context.Context, batchID id.BatchID) ([]audit.Event, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return nil, nil
	}
	events, err := s.audit.List(ctx, batchID.String())
	if err != nil {
		return nil, storeErr(err, "list audit events")
	}
	return events, nil
}
