package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/service"
)

func openTrip(t *testing.T, f *fixture, owner domain.Actor) domain.Trip {
	t.Helper()
	trip, err := f.trips.Start(context.Background(), owner, startInput())
	require.NoError(t, err)
	return trip
}

func TestVisitService_Create_Report(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	agent := actor(domain.RoleCommercial)
	trip := openTrip(t, f, agent)

	v, err := f.visits.Create(context.Background(), agent, service.CreateVisitInput{
		TripID: trip.ID, CustomerID: uuid.New(), Summary: "presented spring catalogue", Outcome: "order placed",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.VisitCompleted, v.Status)
	assert.NotNil(t, v.CheckInAt)
	assert.NotNil(t, v.CheckOutAt)
	assert.Contains(t, f.activity.kinds(), domain.ActivityVisitCompleted)
}

func TestVisitService_Create_ReportNeedsSummary(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	agent := actor(domain.RoleCommercial)
	trip := openTrip(t, f, agent)

	_, err := f.visits.Create(context.Background(), agent, service.CreateVisitInput{TripID: trip.ID, CustomerID: uuid.New()})

	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestVisitService_Create_ClosedTrip(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	agent := actor(domain.RoleCommercial)
	trip := openTrip(t, f, agent)
	_, err := f.trips.End(ctx, agent, trip.ID, service.EndTripInput{})
	require.NoError(t, err)

	_, err = f.visits.Create(ctx, agent, service.CreateVisitInput{TripID: trip.ID, CustomerID: uuid.New(), Mode: domain.VisitModePlanned})

	assert.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestVisitService_PlannedLifecycle(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	agent := actor(domain.RoleCommercial)
	trip := openTrip(t, f, agent)

	v, err := f.visits.Create(ctx, agent, service.CreateVisitInput{TripID: trip.ID, CustomerID: uuid.New(), Mode: domain.VisitModePlanned})
	require.NoError(t, err)
	assert.Equal(t, domain.VisitPlanned, v.Status)

	_, err = f.visits.CheckOut(ctx, agent, v.ID, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "check-out before check-in")

	f.clock.Advance(5 * time.Minute)
	v, err = f.visits.CheckIn(ctx, agent, v.ID, &domain.GeoPoint{Lat: 43.3, Lon: 5.4})
	require.NoError(t, err)
	assert.Equal(t, domain.VisitCheckedIn, v.Status)

	f.clock.Advance(25 * time.Minute)
	v, err = f.visits.CheckOut(ctx, agent, v.ID, "demo done", "follow-up next week")
	require.NoError(t, err)
	assert.Equal(t, domain.VisitCompleted, v.Status)
	assert.Equal(t, 25, v.DurationMinutes)
	assert.Equal(t, "demo done", v.Summary)

	_, err = f.visits.Cancel(ctx, agent, v.ID)
	assert.ErrorIs(t, err, domain.ErrTerminalState)
}

func TestVisitService_CheckIn_AfterTripClosed(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	agent := actor(domain.RoleCommercial)
	trip := openTrip(t, f, agent)
	v, err := f.visits.Create(ctx, agent, service.CreateVisitInput{TripID: trip.ID, CustomerID: uuid.New(), Mode: domain.VisitModePlanned})
	require.NoError(t, err)
	_, err = f.trips.End(ctx, agent, trip.ID, service.EndTripInput{})
	require.NoError(t, err)

	_, err = f.visits.CheckIn(ctx, agent, v.ID, nil)
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	canceled, err := f.visits.Cancel(ctx, agent, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VisitCanceled, canceled.Status)
}

func TestVisitService_ListByTrip_Ownership(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	agent := actor(domain.RoleCommercial)
	trip := openTrip(t, f, agent)
	_, err := f.visits.Create(ctx, agent, service.CreateVisitInput{TripID: trip.ID, CustomerID: uuid.New(), Summary: "quick stop"})
	require.NoError(t, err)

	got, err := f.visits.ListByTrip(ctx, agent, trip.ID)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = f.visits.ListByTrip(ctx, actor(domain.RoleCommercial), trip.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
