package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/repo"
)

// TripConfig holds the tunables of the trip state machine.
type TripConfig struct {
	// StaleThreshold is the age at which an open trip is force-completed.
	StaleThreshold time.Duration
	// MileageRate is the cost per km stamped on new trips.
	MileageRate float64
}

// StartTripInput is the client-supplied part of a new trip.
type StartTripInput struct {
	StartLocation   domain.GeoPoint
	Purpose         string
	VehicleLabel    string
	StartOdometerKm *float64
}

// EndTripInput is the client-supplied part of closing a trip.
type EndTripInput struct {
	EndLocation   *domain.GeoPoint
	EndOdometerKm *float64
}

// TripService implements the trip state machine: IN_PROGRESS → COMPLETED.
type TripService struct {
	trips       repo.TripRepo
	checkpoints repo.CheckpointRepo
	activity    ActivityLog
	tracker     Tracker
	cfg         TripConfig
	now         func() time.Time
}

// NewTripService constructs a TripService. activity and tracker may be nil.
func NewTripService(trips repo.TripRepo, checkpoints repo.CheckpointRepo, activity ActivityLog, tracker Tracker, cfg TripConfig) *TripService {
	if activity == nil {
		activity = noopActivity{}
	}
	if tracker == nil {
		tracker = noopTracker{}
	}
	if cfg.MileageRate <= 0 {
		cfg.MileageRate = domain.DefaultMileageRate
	}
	return &TripService{trips: trips, checkpoints: checkpoints, activity: activity, tracker: tracker, cfg: cfg, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (s *TripService) SetClock(now func() time.Time) { s.now = now }

// Start opens a trip for the actor.
// Returns domain.ErrConflict if the actor already has a trip in progress.
func (s *TripService) Start(ctx context.Context, actor domain.Actor, in StartTripInput) (domain.Trip, error) {
	if err := in.StartLocation.Validate(); err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Start: %w", err)
	}
	in.Purpose = strings.TrimSpace(in.Purpose)
	if in.Purpose == "" {
		return domain.Trip{}, fmt.Errorf("service.TripService.Start: %w: purpose is required", domain.ErrValidation)
	}
	if in.StartOdometerKm != nil && *in.StartOdometerKm < 0 {
		return domain.Trip{}, fmt.Errorf("service.TripService.Start: %w: odometer must not be negative", domain.ErrValidation)
	}

	now := s.now()
	trip, err := s.trips.Create(ctx, domain.Trip{
		OwnerID:         actor.UserID,
		StartTime:       now,
		StartLocation:   in.StartLocation,
		Purpose:         in.Purpose,
		VehicleLabel:    in.VehicleLabel,
		StartOdometerKm: in.StartOdometerKm,
		MileageRate:     s.cfg.MileageRate,
	})
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Start: %w", err)
	}

	record(ctx, s.activity, domain.ActivityTripStarted, actor, trip.ID, now,
		fmt.Sprintf("Trip started: %s", trip.Purpose), nil)
	return trip, nil
}

// AddCheckpoint appends a position sample to an open trip and feeds it to
// the live position store.
// Returns domain.ErrInvalidState if the trip is not IN_PROGRESS.
func (s *TripService) AddCheckpoint(ctx context.Context, actor domain.Actor, tripID uuid.UUID, loc domain.GeoPoint, capturedAt time.Time) (domain.Checkpoint, error) {
	if err := loc.Validate(); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("service.TripService.AddCheckpoint: %w", err)
	}
	trip, err := s.owned(ctx, actor, tripID)
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("service.TripService.AddCheckpoint: %w", err)
	}
	if capturedAt.IsZero() {
		capturedAt = s.now()
	}

	cp, err := s.checkpoints.Append(ctx, domain.Checkpoint{TripID: tripID, Location: loc, CapturedAt: capturedAt})
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("service.TripService.AddCheckpoint: %w", err)
	}

	s.tracker.Ingest(ctx, domain.LivePosition{
		AgentID:      trip.OwnerID,
		Kind:         domain.AgentTrip,
		CorrelatedID: trip.ID,
		Lat:          loc.Lat,
		Lon:          loc.Lon,
		Accuracy:     loc.Accuracy,
		CapturedAt:   capturedAt,
	})
	return cp, nil
}

// End closes an open trip, computing duration, distance and cost.
// Returns domain.ErrInvalidState if the trip is already completed; repeated
// calls are rejected rather than treated as no-ops.
func (s *TripService) End(ctx context.Context, actor domain.Actor, tripID uuid.UUID, in EndTripInput) (domain.Trip, error) {
	if in.EndLocation != nil {
		if err := in.EndLocation.Validate(); err != nil {
			return domain.Trip{}, fmt.Errorf("service.TripService.End: %w", err)
		}
	}
	trip, err := s.owned(ctx, actor, tripID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.End: %w", err)
	}
	if trip.Status != domain.TripInProgress {
		return domain.Trip{}, fmt.Errorf("service.TripService.End: %w: trip is already completed", domain.ErrInvalidState)
	}
	path, err := s.checkpoints.ListByTrip(ctx, tripID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.End: %w", err)
	}

	now := s.now()
	completed, err := s.trips.Complete(ctx, tripID, trip.Complete(now, in.EndLocation, in.EndOdometerKm, path))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.End: %w", err)
	}

	s.tracker.EndTracking(tripID)
	record(ctx, s.activity, domain.ActivityTripEnded, actor, tripID, now,
		fmt.Sprintf("Trip ended after %d min, %.2f km", completed.DurationMinutes, completed.DistanceKm),
		map[string]string{"reason": string(domain.CompletionUser)})
	return completed, nil
}

// RecoverStaleTrips force-completes every trip that has been IN_PROGRESS for
// at least the configured threshold, with end time = now and reason RECOVERY.
// Running it twice in a row closes nothing the second time.
func (s *TripService) RecoverStaleTrips(ctx context.Context) ([]domain.Trip, error) {
	now := s.now()
	recovered, err := s.trips.RecoverStale(ctx, now.Add(-s.cfg.StaleThreshold), now)
	if err != nil {
		return nil, fmt.Errorf("service.TripService.RecoverStaleTrips: %w", err)
	}

	for _, t := range recovered {
		slog.WarnContext(ctx, "trip recovered",
			"trip_id", t.ID,
			"owner_id", t.OwnerID,
			"started_at", t.StartTime,
			"threshold", s.cfg.StaleThreshold.String(),
		)
		s.tracker.EndTracking(t.ID)
		record(ctx, s.activity, domain.ActivityTripRecovered, domain.SystemActor, t.ID, now,
			fmt.Sprintf("Trip force-completed after %s without end", s.cfg.StaleThreshold),
			map[string]string{
				"reason":   string(domain.CompletionRecovery),
				"owner_id": t.OwnerID.String(),
			})
	}
	return recovered, nil
}

// RunRecovery calls RecoverStaleTrips every interval until ctx is done.
func (s *TripService) RunRecovery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RecoverStaleTrips(ctx); err != nil {
				slog.ErrorContext(ctx, "stale trip recovery failed", "error", err)
			}
		}
	}
}

// GetByID returns a trip visible to the actor.
func (s *TripService) GetByID(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Trip, error) {
	trip, err := s.owned(ctx, actor, id)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.GetByID: %w", err)
	}
	return trip, nil
}

// GetActive returns the owner's trip in progress, or domain.ErrNotFound.
func (s *TripService) GetActive(ctx context.Context, ownerID uuid.UUID) (domain.Trip, error) {
	trip, err := s.trips.GetActiveByOwner(ctx, ownerID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.GetActive: %w", err)
	}
	return trip, nil
}

// List returns trips matching filter. Always returns a non-nil slice.
func (s *TripService) List(ctx context.Context, filter domain.TripFilter, page domain.PaginationParams) ([]domain.Trip, error) {
	trips, err := s.trips.List(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("service.TripService.List: %w", err)
	}
	if trips == nil {
		return []domain.Trip{}, nil
	}
	return trips, nil
}

// ListCheckpoints returns a trip's checkpoints in capture order.
func (s *TripService) ListCheckpoints(ctx context.Context, actor domain.Actor, tripID uuid.UUID) ([]domain.Checkpoint, error) {
	if _, err := s.owned(ctx, actor, tripID); err != nil {
		return nil, fmt.Errorf("service.TripService.ListCheckpoints: %w", err)
	}
	cps, err := s.checkpoints.ListByTrip(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("service.TripService.ListCheckpoints: %w", err)
	}
	return cps, nil
}

// Validate records administrative validation of a completed trip.
func (s *TripService) Validate(ctx context.Context, actor domain.Actor, tripID uuid.UUID, notes string) (domain.Trip, error) {
	trip, err := s.trips.MarkValidated(ctx, tripID, actor.UserID, s.now(), strings.TrimSpace(notes))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Validate: %w", err)
	}
	return trip, nil
}

// Reimburse records reimbursement. The trip must have been validated first.
func (s *TripService) Reimburse(ctx context.Context, actor domain.Actor, tripID uuid.UUID) (domain.Trip, error) {
	trip, err := s.trips.MarkReimbursed(ctx, tripID, actor.UserID, s.now())
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Reimburse: %w", err)
	}
	return trip, nil
}

// owned loads a trip and checks that a field agent only touches their own.
// Back-office roles may read any trip.
func (s *TripService) owned(ctx context.Context, actor domain.Actor, tripID uuid.UUID) (domain.Trip, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return domain.Trip{}, err
	}
	if trip.OwnerID != actor.UserID && !backOffice(actor) {
		return domain.Trip{}, fmt.Errorf("%w: trip belongs to another user", domain.ErrForbidden)
	}
	return trip, nil
}

func backOffice(actor domain.Actor) bool {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleDispatcher, domain.RoleAccountant:
		return true
	}
	return actor.IsSystem()
}
