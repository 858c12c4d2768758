package service

import (
	"context"
	"fmt"

	"coursecert/internal/audit"
	"coursecert/internal/fulfillment/stock"
	dErrors "coursecert/pkg/domain-errors"
	"coursecert/pkg/requestcontext"
)

// AddStock registers newly printed serials for a jurisdiction. The intake
// is all-or-nothing: one duplicate serial rejects the whole delivery so a
// partially registered print run never exists.
func (s *Service) AddStock(ctx context.Context, jurisdiction string, values []string) (int, error) {
	actor, err := s.authorize(ctx)
	if err != nil {
		return 0, err
	}
	if jurisdiction == "" {
		return 0, dErrors.New(dErrors.CodeBadRequest, "jurisdiction is required")
	}
	if len(values) == 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "at least one serial is required")
	}
	now := requestcontext.Now(ctx).UTC()

	serials := make([]*stock.Serial, 0, len(values))
	for _, value := range values {
		if value == "" {
			return 0, dErrors.New(dErrors.CodeBadRequest, "serial values cannot be empty")
		}
		serials = append(serials, &stock.Serial{
			Value:        value,
			Jurisdiction: jurisdiction,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	if err := s.stock.Add(ctx, serials); err != nil {
		return 0, storeErr(err, fmt.Sprintf("register %d serials", len(serials)))
	}

	s.emit(ctx, audit.Event{
		Action:  audit.ActionStockAdded,
		ActorID: actor,
		Reason:  fmt.Sprintf("%d serials for %s", len(serials), jurisdiction),
	})
	s.logger.InfoContext(ctx, "stock registered",
		"jurisdiction", jurisdiction, "serials", len(serials))
	return len(serials), nil
}

// ListStock returns every serial registered for a jurisdiction.
func (s *Service) ListStock(ctx context.Context, jurisdiction string) ([]*stock.Serial, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	if jurisdiction == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "jurisdiction is required")
	}
	serials, err := s.stock.List(ctx, jurisdiction)
	if err != nil {
		return nil, storeErr(err, "list stock")
	}
	return serials, nil
}

// AvailableStock counts unclaimed serials for a jurisdiction.
func (s *Service) AvailableStock(ctx context.Context, jurisdiction string) (int, error) {
	if _, err := s.authorize(ctx); err != nil {
		return 0, err
	}
	available, err := s.stock.Available(ctx, jurisdiction)
	if err != nil {
		return 0, storeErr(err, "count available stock")
	}
	return available, nil
}
