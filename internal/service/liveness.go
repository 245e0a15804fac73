package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/repo"
)

// Liveness answers whether a tracked agent is backed by an open trip or an
// active delivery. The broadcast layer uses it to flag orphaned samples.
type Liveness struct {
	trips      repo.TripRepo
	deliveries repo.DeliveryRepo
}

// NewLiveness constructs a Liveness over the trip and delivery repos.
func NewLiveness(trips repo.TripRepo, deliveries repo.DeliveryRepo) *Liveness {
	return &Liveness{trips: trips, deliveries: deliveries}
}

// IsLive reports whether correlatedID names an open trip or non-terminal
// delivery of the given kind that agentID is entitled to track: the trip's
// owner or the delivery's assigned courier. It returns domain.ErrForbidden
// when the record belongs to someone else. Any other error means the record
// could not be read; callers treat that as not live.
func (l *Liveness) IsLive(ctx context.Context, kind domain.AgentKind, correlatedID, agentID uuid.UUID) (bool, error) {
	switch kind {
	case domain.AgentTrip:
		t, err := l.trips.GetByID(ctx, correlatedID)
		if err != nil {
			return false, fmt.Errorf("service.Liveness.IsLive: %w", err)
		}
		if t.OwnerID != agentID {
			return false, fmt.Errorf("service.Liveness.IsLive: %w: trip belongs to another user", domain.ErrForbidden)
		}
		return t.Status == domain.TripInProgress, nil
	case domain.AgentDelivery:
		d, err := l.deliveries.GetByID(ctx, correlatedID)
		if err != nil {
			return false, fmt.Errorf("service.Liveness.IsLive: %w", err)
		}
		if d.CourierID == nil || *d.CourierID != agentID {
			return false, fmt.Errorf("service.Liveness.IsLive: %w: delivery is not assigned to this courier", domain.ErrForbidden)
		}
		return !d.Status.Terminal(), nil
	}
	return false, fmt.Errorf("service.Liveness.IsLive: agent kind %q: %w", kind, domain.ErrValidation)
}
