package audit

import (
	"context"
	"sync"
)

// InMemoryStore keeps audit events in memory for tests and development.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewInMemoryStore creates an empty in-memory audit store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListByBatch(ctx context.Context, batchID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, event := range s.events {
		if event.BatchID != nil && event.BatchID.String() == batchID {
			out = append(out, event)
		}
	}
	return out, nil
}
