// Package batch provides persistence for fulfillment batches.
package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"coursecert/internal/fulfillment/models"
	id "coursecert/pkg/domain"
	"coursecert/pkg/platform/sentinel"
)

// InMemoryStore keeps batches in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	batches map[id.BatchID]*models.FulfillmentBatch
}

// NewInMemory creates an empty in-memory batch store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{batches: make(map[id.BatchID]*models.FulfillmentBatch)}
}

func (s *InMemoryStore) Save(ctx context.Context, batch *models.FulfillmentBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[batch.ID]; exists {
		return fmt.Errorf("batch %s: %w", batch.ID, sentinel.ErrConflict)
	}
	copied := *batch
	s.batches[batch.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindByID(ctx context.Context, batchID id.BatchID) (*models.FulfillmentBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, exists := s.batches[batchID]
	if !exists {
		return nil, fmt.Errorf("batch %s: %w", batchID, sentinel.ErrNotFound)
	}
	copied := *batch
	return &copied, nil
}

// List returns batches newest first with offset pagination.
func (s *InMemoryStore) List(ctx context.Context, limit, offset int) ([]*models.FulfillmentBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*models.FulfillmentBatch, 0, len(s.batches))
	for _, batch := range s.batches {
		copied := *batch
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() > all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Execute atomically validates and mutates one batch under the store lock.
func (s *InMemoryStore) Execute(ctx context.Context, batchID id.BatchID, validate func(*models.FulfillmentBatch) error, mutate func(*models.FulfillmentBatch)) (*models.FulfillmentBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, exists := s.batches[batchID]
	if !exists {
		return nil, fmt.Errorf("batch %s: %w", batchID, sentinel.ErrNotFound)
	}
	if err := validate(batch); err != nil {
		return nil, err
	}
	mutate(batch)
	copied := *batch
	return &copied, nil
}
