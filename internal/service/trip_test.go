package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/repo"
	"github.com/pkordes/fieldops/internal/service"
)

// mockTripRepo is a hand-written test double for repo.TripRepo.
// Each method is a function field; set only the ones your test needs.
type mockTripRepo struct {
	create           func(ctx context.Context, trip domain.Trip) (domain.Trip, error)
	getByID          func(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	getActiveByOwner func(ctx context.Context, ownerID uuid.UUID) (domain.Trip, error)
	list             func(ctx context.Context, filter domain.TripFilter, page domain.PaginationParams) ([]domain.Trip, error)
	complete         func(ctx context.Context, id uuid.UUID, c domain.TripCompletion) (domain.Trip, error)
	recoverStale     func(ctx context.Context, cutoff, now time.Time) ([]domain.Trip, error)
	markValidated    func(ctx context.Context, id, by uuid.UUID, at time.Time, notes string) (domain.Trip, error)
	markReimbursed   func(ctx context.Context, id, by uuid.UUID, at time.Time) (domain.Trip, error)
}

func (m *mockTripRepo) Create(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	return m.create(ctx, trip)
}
func (m *mockTripRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	return m.getByID(ctx, id)
}
func (m *mockTripRepo) GetActiveByOwner(ctx context.Context, ownerID uuid.UUID) (domain.Trip, error) {
	return m.getActiveByOwner(ctx, ownerID)
}
func (m *mockTripRepo) List(ctx context.Context, filter domain.TripFilter, page domain.PaginationParams) ([]domain.Trip, error) {
	return m.list(ctx, filter, page)
}
func (m *mockTripRepo) Complete(ctx context.Context, id uuid.UUID, c domain.TripCompletion) (domain.Trip, error) {
	return m.complete(ctx, id, c)
}
func (m *mockTripRepo) RecoverStale(ctx context.Context, cutoff, now time.Time) ([]domain.Trip, error) {
	return m.recoverStale(ctx, cutoff, now)
}
func (m *mockTripRepo) MarkValidated(ctx context.Context, id, by uuid.UUID, at time.Time, notes string) (domain.Trip, error) {
	return m.markValidated(ctx, id, by, at, notes)
}
func (m *mockTripRepo) MarkReimbursed(ctx context.Context, id, by uuid.UUID, at time.Time) (domain.Trip, error) {
	return m.markReimbursed(ctx, id, by, at)
}

// compile-time check: mockTripRepo must satisfy repo.TripRepo.
var _ repo.TripRepo = (*mockTripRepo)(nil)

func startInput() service.StartTripInput {
	return service.StartTripInput{
		StartLocation: domain.GeoPoint{Lat: 48.8566, Lon: 2.3522},
		Purpose:       "customer round",
	}
}

// ---- Start -----------------------------------------------------------------

func TestTripService_Start(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	agent := actor(domain.RoleCommercial)

	got, err := f.trips.Start(context.Background(), agent, startInput())

	require.NoError(t, err)
	assert.Equal(t, domain.TripInProgress, got.Status)
	assert.Equal(t, agent.UserID, got.OwnerID)
	assert.True(t, got.StartTime.Equal(t0))
	assert.Equal(t, domain.DefaultMileageRate, got.MileageRate)
	assert.Equal(t, []string{domain.ActivityTripStarted}, f.activity.kinds())
}

func TestTripService_Start_Validation(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	negative := -1.0

	cases := map[string]service.StartTripInput{
		"latitude out of range": {StartLocation: domain.GeoPoint{Lat: 91, Lon: 0}, Purpose: "x"},
		"blank purpose":         {StartLocation: domain.GeoPoint{Lat: 1, Lon: 1}, Purpose: "   "},
		"negative odometer":     {StartLocation: domain.GeoPoint{Lat: 1, Lon: 1}, Purpose: "x", StartOdometerKm: &negative},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.trips.Start(context.Background(), actor(domain.RoleDelivery), in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestTripService_Start_ConcurrentCallsYieldOneTrip(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	agent := actor(domain.RoleCommercial)

	const n = 20
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.trips.Start(context.Background(), agent, startInput())
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrConflict)
	}
	assert.Equal(t, 1, ok)
}

func TestTripService_Start_RepoErrorPropagates(t *testing.T) {
	dbErr := errors.New("connection reset")
	trips := &mockTripRepo{
		create: func(context.Context, domain.Trip) (domain.Trip, error) { return domain.Trip{}, dbErr },
	}
	svc := service.NewTripService(trips, nil, nil, nil, service.TripConfig{})

	_, err := svc.Start(context.Background(), actor(domain.RoleDelivery), startInput())

	assert.ErrorIs(t, err, dbErr)
}

// ---- Checkpoints -----------------------------------------------------------

func TestTripService_AddCheckpoint_FeedsTracker(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	agent := actor(domain.RoleDelivery)
	trip, err := f.trips.Start(ctx, agent, startInput())
	require.NoError(t, err)

	at := t0.Add(5 * time.Minute)
	_, err = f.trips.AddCheckpoint(ctx, agent, trip.ID, domain.GeoPoint{Lat: 48.86, Lon: 2.36}, at)
	require.NoError(t, err)

	require.Len(t, f.tracker.ingested, 1)
	p := f.tracker.ingested[0]
	assert.Equal(t, agent.UserID, p.AgentID)
	assert.Equal(t, domain.AgentTrip, p.Kind)
	assert.Equal(t, trip.ID, p.CorrelatedID)
	assert.True(t, p.CapturedAt.Equal(at))
}

func TestTripService_AddCheckpoint_OtherOwnersTrip(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	trip, err := f.trips.Start(ctx, actor(domain.RoleCommercial), startInput())
	require.NoError(t, err)

	_, err = f.trips.AddCheckpoint(ctx, actor(domain.RoleCommercial), trip.ID, domain.GeoPoint{Lat: 1, Lon: 1}, t0)

	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestTripService_AddCheckpoint_CompletedTrip(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	agent := actor(domain.RoleCommercial)
	trip, err := f.trips.Start(ctx, agent, startInput())
	require.NoError(t, err)
	_, err = f.trips.End(ctx, agent, trip.ID, service.EndTripInput{})
	require.NoError(t, err)

	_, err = f.trips.AddCheckpoint(ctx, agent, trip.ID, domain.GeoPoint{Lat: 1, Lon: 1}, t0)

	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

// ---- End -------------------------------------------------------------------

func TestTripService_End_ComputesFigures(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	agent := actor(domain.RoleCommercial)
	trip, err := f.trips.Start(ctx, agent, service.StartTripInput{StartLocation: domain.GeoPoint{Lat: 0, Lon: 0}, Purpose: "survey"})
	require.NoError(t, err)
	_, err = f.trips.AddCheckpoint(ctx, agent, trip.ID, domain.GeoPoint{Lat: 0, Lon: 1}, t0.Add(30*time.Minute))
	require.NoError(t, err)

	f.clock.Advance(90 * time.Minute)
	end := domain.GeoPoint{Lat: 0, Lon: 2}
	got, err := f.trips.End(ctx, agent, trip.ID, service.EndTripInput{EndLocation: &end})

	require.NoError(t, err)
	assert.Equal(t, domain.TripCompleted, got.Status)
	assert.Equal(t, domain.CompletionUser, got.CompletionReason)
	assert.Equal(t, 90, got.DurationMinutes)
	// Two one-degree hops along the equator.
	assert.InDelta(t, 222.39, got.DistanceKm, 0.05)
	assert.InDelta(t, got.DistanceKm*domain.DefaultMileageRate, got.TotalCost, 0.01)
	assert.Equal(t, []uuid.UUID{trip.ID}, f.tracker.endedIDs())
	assert.Contains(t, f.activity.kinds(), domain.ActivityTripEnded)
}

func TestTripService_End_PrefersOdometer(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	agent := actor(domain.RoleDelivery)
	startKm, endKm := 1000.0, 1042.5
	in := startInput()
	in.StartOdometerKm = &startKm
	trip, err := f.trips.Start(ctx, agent, in)
	require.NoError(t, err)

	got, err := f.trips.End(ctx, agent, trip.ID, service.EndTripInput{EndOdometerKm: &endKm})

	require.NoError(t, err)
	assert.InDelta(t, 42.5, got.DistanceKm, 1e-9)
}

func TestTripService_End_Twice(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	agent := actor(domain.RoleCommercial)
	trip, err := f.trips.Start(ctx, agent, startInput())
	require.NoError(t, err)
	_, err = f.trips.End(ctx, agent, trip.ID, service.EndTripInput{})
	require.NoError(t, err)

	_, err = f.trips.End(ctx, agent, trip.ID, service.EndTripInput{})

	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestTripService_End_NotFound(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})

	_, err := f.trips.End(context.Background(), actor(domain.RoleCommercial), uuid.New(), service.EndTripInput{})

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ---- Recovery --------------------------------------------------------------

func TestTripService_RecoverStaleTrips(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	stale, err := f.trips.Start(ctx, actor(domain.RoleCommercial), startInput())
	require.NoError(t, err)

	f.clock.Advance(23 * time.Hour)
	fresh, err := f.trips.Start(ctx, actor(domain.RoleCommercial), startInput())
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	recovered, err := f.trips.RecoverStaleTrips(ctx)

	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, stale.ID, recovered[0].ID)
	assert.Equal(t, domain.CompletionRecovery, recovered[0].CompletionReason)
	require.NotNil(t, recovered[0].EndTime)
	assert.True(t, recovered[0].EndTime.Equal(f.clock.Now()), "end time is the recovery time")
	assert.Contains(t, f.tracker.endedIDs(), stale.ID)
	assert.Contains(t, f.activity.kinds(), domain.ActivityTripRecovered)

	again, err := f.trips.RecoverStaleTrips(ctx)
	require.NoError(t, err)
	assert.Empty(t, again, "a second sweep closes nothing")

	got, err := f.trips.GetByID(ctx, admin, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TripInProgress, got.Status)
}

func TestTripService_RecoverStaleTrips_AtThreshold(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	agent := actor(domain.RoleCommercial)
	abandoned, err := f.trips.Start(ctx, agent, startInput())
	require.NoError(t, err)

	f.clock.Advance(24*time.Hour - time.Second)
	recovered, err := f.trips.RecoverStaleTrips(ctx)
	require.NoError(t, err)
	assert.Empty(t, recovered, "one second short of the threshold")

	f.clock.Advance(time.Second)
	recovered, err = f.trips.RecoverStaleTrips(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, abandoned.ID, recovered[0].ID)
	require.NotNil(t, recovered[0].EndTime)
	assert.True(t, recovered[0].EndTime.Equal(t0.Add(24*time.Hour)))
	assert.Equal(t, 24*60, recovered[0].DurationMinutes)

	next, err := f.trips.Start(ctx, agent, startInput())
	require.NoError(t, err, "the owner can start again once the stale trip is closed")
	assert.NotEqual(t, abandoned.ID, next.ID)
	assert.Equal(t, domain.TripInProgress, next.Status)
}

func TestTripService_RunRecovery_StopsWithContext(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.trips.RunRecovery(ctx, time.Millisecond) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunRecovery did not return after cancel")
	}
}

// ---- Administration ---------------------------------------------------------

func TestTripService_ValidateThenReimburse(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	agent := actor(domain.RoleCommercial)
	accountant := actor(domain.RoleAccountant)
	trip, err := f.trips.Start(ctx, agent, startInput())
	require.NoError(t, err)

	_, err = f.trips.Validate(ctx, accountant, trip.ID, "ok")
	assert.ErrorIs(t, err, domain.ErrInvalidState, "an open trip cannot be validated")

	_, err = f.trips.End(ctx, agent, trip.ID, service.EndTripInput{})
	require.NoError(t, err)

	_, err = f.trips.Reimburse(ctx, accountant, trip.ID)
	assert.ErrorIs(t, err, domain.ErrPrecondition, "reimbursement needs validation first")

	validated, err := f.trips.Validate(ctx, accountant, trip.ID, "  matches fuel receipts ")
	require.NoError(t, err)
	assert.Equal(t, "matches fuel receipts", validated.AdminNotes)

	reimbursed, err := f.trips.Reimburse(ctx, accountant, trip.ID)
	require.NoError(t, err)
	require.NotNil(t, reimbursed.ReimbursedBy)
	assert.Equal(t, accountant.UserID, *reimbursed.ReimbursedBy)
}

func TestTripService_GetByID_BackOfficeSeesAll(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	trip, err := f.trips.Start(ctx, actor(domain.RoleCommercial), startInput())
	require.NoError(t, err)

	_, err = f.trips.GetByID(ctx, actor(domain.RoleAccountant), trip.ID)
	assert.NoError(t, err)

	_, err = f.trips.GetByID(ctx, actor(domain.RoleDelivery), trip.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
