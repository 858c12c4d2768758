// Package manifest produces and verifies the signed metadata document that
// accompanies every export bundle.
//
// The signature input is a canonical serialization (fields sorted
// lexicographically, one key=value per line) so auditors can reproduce it
// from the visible fields alone; any non-deterministic ordering would make
// third-party verification impossible.
package manifest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"coursecert/internal/fulfillment/models"
	id "coursecert/pkg/domain"
)

// Manifest is the signed batch metadata embedded in the export artifact.
// It is never persisted on its own; the batch row keeps the hash and
// signature for cross-checking.
type Manifest struct {
	BatchID      id.BatchID
	Jurisdiction string
	Counts       models.BatchCounts
	DataFileName string
	DataFileHash string
	CreatedAt    time.Time
	KeyID        string
	Signature    string
}

// Signer signs and verifies manifests with keys from an injected keyring;
// it never reads ambient configuration.
type Signer struct {
	keyring *Keyring
}

// NewSigner builds a Signer around the given keyring.
func NewSigner(keyring *Keyring) *Signer {
	return &Signer{keyring: keyring}
}

// HashData computes the content hash over the exact bytes that ship in the
// bundle. Re-encoding the data file after hashing invalidates the manifest.
func HashData(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sign builds a manifest over the batch metadata and data file bytes and
// signs it with the active key.
func (s *Signer) Sign(batchID id.BatchID, jurisdiction string, counts models.BatchCounts, dataFileName string, data []byte, createdAt time.Time) (*Manifest, error) {
	m := &Manifest{
		BatchID:      batchID,
		Jurisdiction: jurisdiction,
		Counts:       counts,
		DataFileName: dataFileName,
		DataFileHash: HashData(data),
		CreatedAt:    createdAt.UTC(),
		KeyID:        s.keyring.ActiveKeyID(),
	}
	signature, err := s.signature(m)
	if err != nil {
		return nil, err
	}
	m.Signature = signature
	return m, nil
}

// Verify recomputes the canonical serialization and signature under the
// manifest's key version. Comparison is constant-time; a plain equality
// check would leak a timing side-channel.
func (s *Signer) Verify(m *Manifest) (bool, error) {
	expected, err := s.signature(m)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(m.Signature)), nil
}

func (s *Signer) signature(m *Manifest) (string, error) {
	key, err := s.keyring.key(m.KeyID)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(canonical(m))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// canonical serializes every field except the signature as sorted
// key=value lines.
func canonical(m *Manifest) []byte {
	fields := map[string]string{
		"batch_id":        m.BatchID.String(),
		"counts_exported": strconv.Itoa(m.Counts.Exported),
		"counts_mailed":   strconv.Itoa(m.Counts.Mailed),
		"counts_queued":   strconv.Itoa(m.Counts.Queued),
		"counts_reprint":  strconv.Itoa(m.Counts.Reprint),
		"counts_void":     strconv.Itoa(m.Counts.Void),
		"created_at":      m.CreatedAt.UTC().Format(time.RFC3339),
		"data_file_hash":  m.DataFileHash,
		"data_file_name":  m.DataFileName,
		"jurisdiction":    m.Jurisdiction,
		"key_id":          m.KeyID,
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(fields[key])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Encode renders the manifest as the structured text file shipped in the
// bundle: the canonical lines followed by the signature line.
func Encode(m *Manifest) []byte {
	var b strings.Builder
	b.Write(canonical(m))
	b.WriteString("signature=")
	b.WriteString(m.Signature)
	b.WriteByte('\n')
	return []byte(b.String())
}

// Decode parses a manifest text file produced by Encode.
func Decode(data []byte) (*Manifest, error) {
	m := &Manifest{}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("malformed manifest line %q", line)
		}
		if err := setField(m, key, value); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func setField(m *Manifest, key, value string) error {
	var err error
	switch key {
	case "batch_id":
		m.BatchID, err = id.ParseBatchID(value)
	case "jurisdiction":
		m.Jurisdiction = value
	case "counts_queued":
		m.Counts.Queued, err = strconv.Atoi(value)
	case "counts_exported":
		m.Counts.Exported, err = strconv.Atoi(value)
	case "counts_mailed":
		m.Counts.Mailed, err = strconv.Atoi(value)
	case "counts_void":
		m.Counts.Void, err = strconv.Atoi(value)
	case "counts_reprint":
		m.Counts.Reprint, err = strconv.Atoi(value)
	case "data_file_name":
		m.DataFileName = value
	case "data_file_hash":
		m.DataFileHash = value
	case "created_at":
		m.CreatedAt, err = time.Parse(time.RFC3339, value)
	case "key_id":
		m.KeyID = value
	case "signature":
		m.Signature = value
	default:
		return fmt.Errorf("unknown manifest field %q", key)
	}
	if err != nil {
		return fmt.Errorf("parse manifest field %s: %w", key, err)
	}
	return nil
}
