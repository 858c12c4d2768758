package stock

import (
	"context"
	"fmt"
	"sync"
	"time"

	id "coursecert/pkg/domain"
	"coursecert/pkg/platform/sentinel"
)

// InMemoryStore keeps the serial pool in process memory. Insertion order is
// preserved so allocation exhausts the oldest print runs first, matching the
// Postgres store's ordering.
type InMemoryStore struct {
	mu      sync.RWMutex
	serials map[string]*Serial
	order   []string
}

// NewInMemory creates an empty in-memory stock store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{serials: make(map[string]*Serial)}
}

// Add registers new pre-printed serials. Duplicate serial values are
// rejected with ErrConflict and nothing is inserted.
func (s *InMemoryStore) Add(ctx context.Context, serials []*Serial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, serial := range serials {
		if _, exists := s.serials[serial.Value]; exists {
			return fmt.Errorf("serial %s: %w", serial.Value, sentinel.ErrConflict)
		}
	}
	for _, serial := range serials {
		copied := *serial
		s.serials[serial.Value] = &copied
		s.order = append(s.order, serial.Value)
	}
	return nil
}

// Allocate atomically claims count unused serials for the jurisdiction,
// oldest inserted first. Either exactly count serials are reserved and
// returned, or none are and ErrExhausted is reported.
func (s *InMemoryStore) Allocate(ctx context.Context, jurisdiction string, batchID id.BatchID, count int, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*Serial, 0, count)
	for _, value := range s.order {
		serial := s.serials[value]
		if serial.InUse || serial.Jurisdiction != jurisdiction {
			continue
		}
		candidates = append(candidates, serial)
		if len(candidates) == count {
			break
		}
	}
	if len(candidates) < count {
		return nil, fmt.Errorf("allocate %d serials for %s, %d available: %w",
			count, jurisdiction, len(candidates), sentinel.ErrExhausted)
	}

	allocated := make([]string, 0, count)
	for _, serial := range candidates {
		serial.InUse = true
		serial.BatchID = &batchID
		serial.UpdatedAt = now
		allocated = append(allocated, serial.Value)
	}
	return allocated, nil
}

// Release returns a serial to the pool, clearing its batch assignment.
func (s *InMemoryStore) Release(ctx context.Context, value string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	serial, exists := s.serials[value]
	if !exists {
		return fmt.Errorf("serial %s: %w", value, sentinel.ErrNotFound)
	}
	serial.InUse = false
	serial.BatchID = nil
	serial.UpdatedAt = now
	return nil
}

// List returns all serials for a jurisdiction in insertion order.
func (s *InMemoryStore) List(ctx context.Context, jurisdiction string) ([]*Serial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Serial, 0)
	for _, value := range s.order {
		serial := s.serials[value]
		if serial.Jurisdiction != jurisdiction {
			continue
		}
		copied := *serial
		out = append(out, &copied)
	}
	return out, nil
}

// Available counts unused serials for a jurisdiction.
func (s *InMemoryStore) Available(ctx context.Context, jurisdiction string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, serial := range s.serials {
		if !serial.InUse && serial.Jurisdiction == jurisdiction {
			count++
		}
	}
	return count, nil
}
