package manifest

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	dErrors "coursecert/pkg/domain-errors"
)

// Keyring holds the signing key versions. The newest key signs fresh
// manifests; every retained key still verifies, so manifests issued before a
// rotation keep verifying after it.
type Keyring struct {
	keys   map[string][]byte
	active string
}

// NewKeyring derives one key per version ID from the operator-held master
// secret via HKDF-SHA256, with the version ID as the derivation info. IDs
// are ordered oldest first; the last one becomes the active signing key.
func NewKeyring(masterSecret []byte, keyIDs []string) (*Keyring, error) {
	if len(masterSecret) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "manifest master secret must not be empty")
	}
	if len(keyIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "at least one manifest key version is required")
	}
	keys := make(map[string][]byte, len(keyIDs))
	for _, keyID := range keyIDs {
		if keyID == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "manifest key version must not be empty")
		}
		reader := hkdf.New(sha256.New, masterSecret, nil, []byte("coursecert-manifest-"+keyID))
		key := make([]byte, 32)
		if _, err := io.ReadFull(reader, key); err != nil {
			return nil, fmt.Errorf("derive manifest key %s: %w", keyID, err)
		}
		keys[keyID] = key
	}
	return &Keyring{keys: keys, active: keyIDs[len(keyIDs)-1]}, nil
}

// ActiveKeyID returns the version that signs new manifests.
func (k *Keyring) ActiveKeyID() string { return k.active }

func (k *Keyring) key(keyID string) ([]byte, error) {
	key, ok := k.keys[keyID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown manifest key version "+keyID)
	}
	return key, nil
}
