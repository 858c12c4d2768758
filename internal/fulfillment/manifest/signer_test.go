package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecert/internal/fulfillment/models"
	id "coursecert/pkg/domain"
)

var signedAt = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestSigner(t *testing.T, keyIDs ...string) *Signer {
	t.Helper()
	if len(keyIDs) == 0 {
		keyIDs = []string{"v1"}
	}
	keyring, err := NewKeyring([]byte("test-master-secret"), keyIDs)
	require.NoError(t, err)
	return NewSigner(keyring)
}

func signTestManifest(t *testing.T, signer *Signer) *Manifest {
	t.Helper()
	m, err := signer.Sign(id.NewBatchID(), "CA",
		models.BatchCounts{Exported: 3}, "batch-data.csv", []byte("serial,name\nCA-1,Dana\n"), signedAt)
	require.NoError(t, err)
	return m
}

func TestSignAndVerify(t *testing.T) {
	signer := newTestSigner(t)
	m := signTestManifest(t, signer)

	require.NotEmpty(t, m.Signature)
	assert.Equal(t, "v1", m.KeyID)
	assert.Equal(t, HashData([]byte("serial,name\nCA-1,Dana\n")), m.DataFileHash)

	ok, err := signer.Verify(m)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyDetectsTampering(t *testing.T) {
	signer := newTestSigner(t)

	tampers := map[string]func(*Manifest){
		"batch id":       func(m *Manifest) { m.BatchID = id.NewBatchID() },
		"jurisdiction":   func(m *Manifest) { m.Jurisdiction = "NY" },
		"counts":         func(m *Manifest) { m.Counts.Exported++ },
		"data file name": func(m *Manifest) { m.DataFileName = "other.csv" },
		"data file hash": func(m *Manifest) { m.DataFileHash = HashData([]byte("forged")) },
		"created at":     func(m *Manifest) { m.CreatedAt = m.CreatedAt.Add(time.Minute) },
		"signature":      func(m *Manifest) { m.Signature = "deadbeef" },
	}
	for name, tamper := range tampers {
		t.Run(name, func(t *testing.T) {
			m := signTestManifest(t, signer)
			tamper(m)
			ok, err := signer.Verify(m)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestVerifyWithDifferentMasterSecret(t *testing.T) {
	m := signTestManifest(t, newTestSigner(t))

	otherKeyring, err := NewKeyring([]byte("different-master-secret"), []string{"v1"})
	require.NoError(t, err)
	ok, err := NewSigner(otherKeyring).Verify(m)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyRotation(t *testing.T) {
	oldSigner := newTestSigner(t, "v1")
	oldManifest := signTestManifest(t, oldSigner)

	// After rotation the new keyring signs with v2 but still verifies v1.
	rotated := newTestSigner(t, "v1", "v2")
	ok, err := rotated.Verify(oldManifest)
	require.NoError(t, err)
	assert.True(t, ok)

	newManifest := signTestManifest(t, rotated)
	assert.Equal(t, "v2", newManifest.KeyID)

	// The pre-rotation keyring cannot verify v2 manifests.
	_, err = oldSigner.Verify(newManifest)
	require.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	signer := newTestSigner(t)
	m := signTestManifest(t, signer)

	decoded, err := Decode(Encode(m))
	require.NoError(t, err)
	assert.Equal(t, m, decoded)

	ok, err := signer.Verify(decoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	_, err := Decode([]byte("not a manifest line\n"))
	require.Error(t, err)

	_, err = Decode([]byte("unknown_field=1\n"))
	require.Error(t, err)

	_, err = Decode([]byte("counts_exported=three\n"))
	require.Error(t, err)
}
