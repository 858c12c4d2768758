package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"coursecert/internal/fulfillment/models"
	id "coursecert/pkg/domain"
	"coursecert/pkg/platform/sentinel"
)

type InMemoryBatchSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryBatchSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBatchSuite))
}

func (s *InMemoryBatchSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
}

func (s *InMemoryBatchSuite) newBatch(createdAt time.Time) *models.FulfillmentBatch {
	batch, err := models.NewBatch(id.NewBatchID(), "CA", id.CourseID{}, id.ActorID{}, createdAt)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Save(s.ctx, batch))
	return batch
}

func (s *InMemoryBatchSuite) TestSaveAndFind() {
	batch := s.newBatch(s.now)

	found, err := s.store.FindByID(s.ctx, batch.ID)
	s.Require().NoError(err)
	s.Equal(batch.ID, found.ID)

	err = s.store.Save(s.ctx, batch)
	s.True(errors.Is(err, sentinel.ErrConflict))

	_, err = s.store.FindByID(s.ctx, id.NewBatchID())
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *InMemoryBatchSuite) TestListPagination() {
	oldest := s.newBatch(s.now)
	middle := s.newBatch(s.now.Add(time.Hour))
	newest := s.newBatch(s.now.Add(2 * time.Hour))

	page, err := s.store.List(s.ctx, 2, 0)
	s.Require().NoError(err)
	s.Require().Len(page, 2)
	s.Equal(newest.ID, page[0].ID)
	s.Equal(middle.ID, page[1].ID)

	page, err = s.store.List(s.ctx, 2, 2)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal(oldest.ID, page[0].ID)

	page, err = s.store.List(s.ctx, 2, 10)
	s.Require().NoError(err)
	s.Empty(page)
}

func (s *InMemoryBatchSuite) TestExecute() {
	batch := s.newBatch(s.now)

	updated, err := s.store.Execute(s.ctx, batch.ID,
		func(*models.FulfillmentBatch) error { return nil },
		func(b *models.FulfillmentBatch) {
			_, _ = b.ApplyExport(5, "exports/2026/03/x.zip", "hash", "sig", s.now)
		},
	)
	s.Require().NoError(err)
	s.Equal(models.BatchStatusExported, updated.Status)
	s.Equal(5, updated.Counts.Exported)

	stored, err := s.store.FindByID(s.ctx, batch.ID)
	s.Require().NoError(err)
	s.Equal(models.BatchStatusExported, stored.Status)

	s.Run("validation failure leaves the batch untouched", func() {
		boom := errors.New("rejected")
		_, err := s.store.Execute(s.ctx, batch.ID,
			func(*models.FulfillmentBatch) error { return boom },
			func(b *models.FulfillmentBatch) { b.Counts.Mailed = 99 },
		)
		s.ErrorIs(err, boom)

		stored, err := s.store.FindByID(s.ctx, batch.ID)
		s.Require().NoError(err)
		s.Equal(0, stored.Counts.Mailed)
	})
}
