package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	id "coursecert/pkg/domain"
)

// Fingerprint identifies a report upload by content so operators can spot
// replayed files in logs and metrics. Reconciliation itself is idempotent;
// the log is observability, never a correctness gate.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// FingerprintLog records which report contents have been processed per batch.
type FingerprintLog interface {
	// Record stores the fingerprint and reports whether it was already
	// present.
	Record(ctx context.Context, batchID id.BatchID, fingerprint string) (seen bool, err error)
}

// InMemoryFingerprintLog is the development/test implementation.
type InMemoryFingerprintLog struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewInMemoryFingerprintLog creates an empty fingerprint log.
func NewInMemoryFingerprintLog() *InMemoryFingerprintLog {
	return &InMemoryFingerprintLog{seen: make(map[string]struct{})}
}

func (l *InMemoryFingerprintLog) Record(ctx context.Context, batchID id.BatchID, fingerprint string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := batchID.String() + ":" + fingerprint
	if _, ok := l.seen[key]; ok {
		return true, nil
	}
	l.seen[key] = struct{}{}
	return false, nil
}

// RedisFingerprintLog shares the log across instances. Entries expire after
// the retention window; an expired entry only means a replay goes unlogged.
type RedisFingerprintLog struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisFingerprintLog creates a Redis-backed fingerprint log.
func NewRedisFingerprintLog(client *redis.Client, retention time.Duration) *RedisFingerprintLog {
	return &RedisFingerprintLog{client: client, retention: retention}
}

func (l *RedisFingerprintLog) Record(ctx context.Context, batchID id.BatchID, fingerprint string) (bool, error) {
	key := fmt.Sprintf("coursecert:report:%s:%s", batchID, fingerprint)
	created, err := l.client.SetNX(ctx, key, "1", l.retention).Result()
	if err != nil {
		return false, fmt.Errorf("record report fingerprint: %w", err)
	}
	return !created, nil
}
