// Package certificate provides persistence for certificate aggregates.
//
// Reconciliation resolves certificates by (batch, serial) because a released
// serial may be recycled into a later batch; the pair is unambiguous where
// the serial alone is not.
package certificate

import (
	"context"
	"fmt"
	"sync"

	"coursecert/internal/fulfillment/models"
	id "coursecert/pkg/domain"
	"coursecert/pkg/platform/sentinel"
)

// InMemoryStore keeps certificates in process memory.
type InMemoryStore struct {
	mu    sync.RWMutex
	certs map[id.CertificateID]*models.Certificate
	order []id.CertificateID
}

// NewInMemory creates an empty in-memory certificate store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{certs: make(map[id.CertificateID]*models.Certificate)}
}

func (s *InMemoryStore) Save(ctx context.Context, cert *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.certs[cert.ID]; exists {
		return fmt.Errorf("certificate %s: %w", cert.ID, sentinel.ErrConflict)
	}
	copied := *cert
	s.certs[cert.ID] = &copied
	s.order = append(s.order, cert.ID)
	return nil
}

func (s *InMemoryStore) FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, exists := s.certs[certID]
	if !exists {
		return nil, fmt.Errorf("certificate %s: %w", certID, sentinel.ErrNotFound)
	}
	copied := *cert
	return &copied, nil
}

// ListEligible returns certificates that a new batch for the jurisdiction
// and course can pick up, in creation order.
func (s *InMemoryStore) ListEligible(ctx context.Context, jurisdiction string, courseID id.CourseID) ([]*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Certificate
	for _, certID := range s.order {
		cert := s.certs[certID]
		if cert.Jurisdiction != jurisdiction || cert.CourseID != courseID {
			continue
		}
		if !cert.Eligible() {
			continue
		}
		copied := *cert
		out = append(out, &copied)
	}
	return out, nil
}

// UpdateAll stamps export state onto a set of certificates as one atomic
// unit. Every stored certificate must still be eligible when the write
// happens: selection ran outside the lock, and a concurrent batch may have
// bound a certificate in between. One stale certificate fails the whole set.
func (s *InMemoryStore) UpdateAll(ctx context.Context, certs []*models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cert := range certs {
		stored, exists := s.certs[cert.ID]
		if !exists {
			return fmt.Errorf("certificate %s: %w", cert.ID, sentinel.ErrNotFound)
		}
		if !stored.Eligible() {
			return fmt.Errorf("certificate %s no longer eligible: %w", cert.ID, sentinel.ErrConflict)
		}
	}
	for _, cert := range certs {
		copied := *cert
		s.certs[cert.ID] = &copied
	}
	return nil
}

// Execute atomically validates and mutates one certificate. The lock is
// held across both callbacks so the mutation sees exactly the validated
// state.
func (s *InMemoryStore) Execute(ctx context.Context, certID id.CertificateID, validate func(*models.Certificate) error, mutate func(*models.Certificate)) (*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, exists := s.certs[certID]
	if !exists {
		return nil, fmt.Errorf("certificate %s: %w", certID, sentinel.ErrNotFound)
	}
	if err := validate(cert); err != nil {
		return nil, err
	}
	mutate(cert)
	copied := *cert
	return &copied, nil
}

// ExecuteBySerial is Execute keyed by (batch, serial).
func (s *InMemoryStore) ExecuteBySerial(ctx context.Context, batchID id.BatchID, serial string, validate func(*models.Certificate) error, mutate func(*models.Certificate)) (*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, certID := range s.order {
		cert := s.certs[certID]
		if cert.Serial != serial || cert.BatchID == nil || *cert.BatchID != batchID {
			continue
		}
		if err := validate(cert); err != nil {
			return nil, err
		}
		mutate(cert)
		copied := *cert
		return &copied, nil
	}
	return nil, fmt.Errorf("certificate with serial %s in batch %s: %w", serial, batchID, sentinel.ErrNotFound)
}
