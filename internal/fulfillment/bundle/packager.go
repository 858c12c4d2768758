// Package bundle assembles the export artifact shipped to the print/mail
// vendor: the delimited data file, the signed manifest, and an optional
// cover document, zipped and stored at a deterministic date-partitioned
// path.
package bundle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"

	mnfst "coursecert/internal/fulfillment/manifest"
	id "coursecert/pkg/domain"
)

// ManifestFileName is the manifest's name inside every bundle.
const ManifestFileName = "manifest.txt"

// CoverFileName is the optional cover document's name inside the bundle.
const CoverFileName = "cover.txt"

// Packager zips export artifacts and persists them to blob storage.
type Packager struct {
	blobs BlobStore
}

// NewPackager builds a Packager over the given blob store.
func NewPackager(blobs BlobStore) *Packager {
	return &Packager{blobs: blobs}
}

// ArtifactPath is the deterministic blob path for a batch's bundle,
// partitioned by the batch creation date.
func ArtifactPath(batchID id.BatchID, createdAt time.Time) string {
	createdAt = createdAt.UTC()
	return fmt.Sprintf("exports/%04d/%02d/%s.zip", createdAt.Year(), int(createdAt.Month()), batchID)
}

// Package writes the archive and uploads it. On any failure nothing is
// persisted as success: the caller keeps the batch in its pre-export status.
func (p *Packager) Package(ctx context.Context, batchID id.BatchID, dataFileName string, data []byte, manifest *mnfst.Manifest, cover []byte) (string, error) {
	var buf bytes.Buffer
	archive := zip.NewWriter(&buf)

	entries := []struct {
		name string
		data []byte
	}{
		{dataFileName, data},
		{ManifestFileName, mnfst.Encode(manifest)},
	}
	if len(cover) > 0 {
		entries = append(entries, struct {
			name string
			data []byte
		}{CoverFileName, cover})
	}
	for _, entry := range entries {
		writer, err := archive.Create(entry.name)
		if err != nil {
			return "", fmt.Errorf("create archive entry %s: %w", entry.name, err)
		}
		if _, err := writer.Write(entry.data); err != nil {
			return "", fmt.Errorf("write archive entry %s: %w", entry.name, err)
		}
	}
	if err := archive.Close(); err != nil {
		return "", fmt.Errorf("finalize archive: %w", err)
	}

	path := ArtifactPath(batchID, manifest.CreatedAt)
	if err := p.blobs.Put(ctx, path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("upload bundle: %w", err)
	}
	return path, nil
}

// Unpackage downloads a bundle and returns its files keyed by name.
func (p *Packager) Unpackage(ctx context.Context, path string) (map[string][]byte, error) {
	data, err := p.blobs.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("download bundle: %w", err)
	}
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open bundle archive: %w", err)
	}
	files := make(map[string][]byte, len(reader.File))
	for _, file := range reader.File {
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open archive entry %s: %w", file.Name, err)
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read archive entry %s: %w", file.Name, err)
		}
		files[file.Name] = content
	}
	return files, nil
}
