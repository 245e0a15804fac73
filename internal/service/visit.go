package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/repo"
)

// CreateVisitInput is the client-supplied part of a new visit.
type CreateVisitInput struct {
	TripID     uuid.UUID
	CustomerID uuid.UUID
	Summary    string
	Outcome    string
	Location   *domain.GeoPoint
	Media      []string
	Mode       domain.VisitMode
}

// VisitService implements the visit sub-machine nested in an open trip.
type VisitService struct {
	trips    repo.TripRepo
	visits   repo.VisitRepo
	activity ActivityLog
	now      func() time.Time
}

// NewVisitService constructs a VisitService. activity may be nil.
func NewVisitService(trips repo.TripRepo, visits repo.VisitRepo, activity ActivityLog) *VisitService {
	if activity == nil {
		activity = noopActivity{}
	}
	return &VisitService{trips: trips, visits: visits, activity: activity, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (s *VisitService) SetClock(now func() time.Time) { s.now = now }

// Create logs a visit inside an open trip. In REPORT mode the visit is
// recorded as COMPLETED in one call; in PLANNED mode it awaits check-in.
// Returns domain.ErrPrecondition if the trip is not IN_PROGRESS.
func (s *VisitService) Create(ctx context.Context, actor domain.Actor, in CreateVisitInput) (domain.Visit, error) {
	if in.CustomerID == uuid.Nil {
		return domain.Visit{}, fmt.Errorf("service.VisitService.Create: %w: customer_id is required", domain.ErrValidation)
	}
	if in.Location != nil {
		if err := in.Location.Validate(); err != nil {
			return domain.Visit{}, fmt.Errorf("service.VisitService.Create: %w", err)
		}
	}
	if _, err := s.ownedTrip(ctx, actor, in.TripID); err != nil {
		return domain.Visit{}, fmt.Errorf("service.VisitService.Create: %w", err)
	}

	now := s.now()
	v := domain.Visit{
		TripID:     in.TripID,
		CustomerID: in.CustomerID,
		Location:   in.Location,
		Summary:    strings.TrimSpace(in.Summary),
		Outcome:    strings.TrimSpace(in.Outcome),
		Media:      in.Media,
	}
	switch in.Mode {
	case domain.VisitModePlanned:
		v.Status = domain.VisitPlanned
	case domain.VisitModeReport, "":
		if v.Summary == "" {
			return domain.Visit{}, fmt.Errorf("service.VisitService.Create: %w: summary is required for a visit report", domain.ErrValidation)
		}
		v.Status = domain.VisitCompleted
		v.CheckInAt, v.CheckOutAt = &now, &now
	default:
		return domain.Visit{}, fmt.Errorf("service.VisitService.Create: %w: unknown mode %q", domain.ErrValidation, in.Mode)
	}

	created, err := s.visits.Create(ctx, v)
	if err != nil {
		return domain.Visit{}, fmt.Errorf("service.VisitService.Create: %w", err)
	}
	if created.Status == domain.VisitCompleted {
		s.recordCompleted(ctx, actor, created)
	}
	return created, nil
}

// CheckIn moves a PLANNED visit to CHECKED_IN. The trip must still be open.
func (s *VisitService) CheckIn(ctx context.Context, actor domain.Actor, visitID uuid.UUID, loc *domain.GeoPoint) (domain.Visit, error) {
	if loc != nil {
		if err := loc.Validate(); err != nil {
			return domain.Visit{}, fmt.Errorf("service.VisitService.CheckIn: %w", err)
		}
	}
	v, err := s.step(ctx, actor, visitID, domain.VisitCheckedIn)
	if err != nil {
		return domain.Visit{}, fmt.Errorf("service.VisitService.CheckIn: %w", err)
	}
	from := v.Status
	now := s.now()
	v.Status = domain.VisitCheckedIn
	v.CheckInAt = &now
	if loc != nil {
		v.Location = loc
	}

	updated, err := s.visits.Transition(ctx, v, from, true)
	if err != nil {
		return domain.Visit{}, fmt.Errorf("service.VisitService.CheckIn: %w", err)
	}
	return updated, nil
}

// CheckOut completes a CHECKED_IN visit and records time spent on site.
func (s *VisitService) CheckOut(ctx context.Context, actor domain.Actor, visitID uuid.UUID, summary, outcome string) (domain.Visit, error) {
	v, err := s.step(ctx, actor, visitID, domain.VisitCompleted)
	if err != nil {
		return domain.Visit{}, fmt.Errorf("service.VisitService.CheckOut: %w", err)
	}
	from := v.Status
	now := s.now()
	v.Status = domain.VisitCompleted
	v.CheckOutAt = &now
	if v.CheckInAt != nil {
		v.DurationMinutes = int(now.Sub(*v.CheckInAt) / time.Minute)
	}
	if t := strings.TrimSpace(summary); t != "" {
		v.Summary = t
	}
	if t := strings.TrimSpace(outcome); t != "" {
		v.Outcome = t
	}

	updated, err := s.visits.Transition(ctx, v, from, false)
	if err != nil {
		return domain.Visit{}, fmt.Errorf("service.VisitService.CheckOut: %w", err)
	}
	s.recordCompleted(ctx, actor, updated)
	return updated, nil
}

// Cancel moves a non-terminal visit to CANCELED.
func (s *VisitService) Cancel(ctx context.Context, actor domain.Actor, visitID uuid.UUID) (domain.Visit, error) {
	v, err := s.step(ctx, actor, visitID, domain.VisitCanceled)
	if err != nil {
		return domain.Visit{}, fmt.Errorf("service.VisitService.Cancel: %w", err)
	}
	from := v.Status
	v.Status = domain.VisitCanceled

	updated, err := s.visits.Transition(ctx, v, from, false)
	if err != nil {
		return domain.Visit{}, fmt.Errorf("service.VisitService.Cancel: %w", err)
	}
	return updated, nil
}

// ListByTrip returns a trip's visits. Always returns a non-nil slice.
func (s *VisitService) ListByTrip(ctx context.Context, actor domain.Actor, tripID uuid.UUID) ([]domain.Visit, error) {
	if _, err := s.ownedTrip(ctx, actor, tripID); err != nil {
		return nil, fmt.Errorf("service.VisitService.ListByTrip: %w", err)
	}
	visits, err := s.visits.ListByTrip(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("service.VisitService.ListByTrip: %w", err)
	}
	if visits == nil {
		return []domain.Visit{}, nil
	}
	return visits, nil
}

// step loads a visit the actor may change and checks the requested edge.
func (s *VisitService) step(ctx context.Context, actor domain.Actor, visitID uuid.UUID, to domain.VisitStatus) (domain.Visit, error) {
	v, err := s.visits.GetByID(ctx, visitID)
	if err != nil {
		return domain.Visit{}, err
	}
	if _, err := s.ownedTrip(ctx, actor, v.TripID); err != nil {
		return domain.Visit{}, err
	}
	if v.Status.Terminal() {
		return domain.Visit{}, fmt.Errorf("%w: visit is %s", domain.ErrTerminalState, v.Status)
	}
	if !domain.CanTransitionVisit(v.Status, to) {
		if to == domain.VisitCompleted && v.Status == domain.VisitPlanned {
			return domain.Visit{}, fmt.Errorf("%w: check in before checking out", domain.ErrInvalidTransition)
		}
		return domain.Visit{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, v.Status, to)
	}
	return v, nil
}

func (s *VisitService) ownedTrip(ctx context.Context, actor domain.Actor, tripID uuid.UUID) (domain.Trip, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return domain.Trip{}, err
	}
	if trip.OwnerID != actor.UserID && !backOffice(actor) {
		return domain.Trip{}, fmt.Errorf("%w: trip belongs to another user", domain.ErrForbidden)
	}
	return trip, nil
}

func (s *VisitService) recordCompleted(ctx context.Context, actor domain.Actor, v domain.Visit) {
	msg := "Customer visit completed"
	if v.Summary != "" {
		msg += ": " + v.Summary
	}
	record(ctx, s.activity, domain.ActivityVisitCompleted, actor, v.ID, s.now(), msg, map[string]string{
		"trip_id":     v.TripID.String(),
		"customer_id": v.CustomerID.String(),
		"outcome":     v.Outcome,
	})
}
