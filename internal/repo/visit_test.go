package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fieldops/internal/domain"
)

func TestVisitRepo_CreateAndCheckIn(t *testing.T) {
	trips, _, visits := newTestTripRepos(t)
	ctx := context.Background()
	trip := mustStartTrip(t, trips, uuid.New())

	v, err := visits.Create(ctx, domain.Visit{TripID: trip.ID, CustomerID: uuid.New(), Status: domain.VisitPlanned, Media: []string{}})
	require.NoError(t, err)
	assert.Equal(t, domain.VisitPlanned, v.Status)
	assert.Empty(t, v.Media)

	at := trip.StartTime.Add(10 * time.Minute)
	v.Status = domain.VisitCheckedIn
	v.CheckInAt = &at
	got, err := visits.Transition(ctx, v, domain.VisitPlanned, true)

	require.NoError(t, err)
	assert.Equal(t, domain.VisitCheckedIn, got.Status)
	require.NotNil(t, got.CheckInAt)
	assert.True(t, got.CheckInAt.Equal(at))
}

func TestVisitRepo_Create_ClosedTrip(t *testing.T) {
	trips, _, visits := newTestTripRepos(t)
	ctx := context.Background()
	trip := mustStartTrip(t, trips, uuid.New())
	_, err := trips.Complete(ctx, trip.ID, domain.TripCompletion{EndTime: trip.StartTime.Add(time.Minute), Reason: domain.CompletionUser})
	require.NoError(t, err)

	_, err = visits.Create(ctx, domain.Visit{TripID: trip.ID, CustomerID: uuid.New(), Status: domain.VisitPlanned})

	assert.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestVisitRepo_Transition_StaleFromStatus(t *testing.T) {
	trips, _, visits := newTestTripRepos(t)
	ctx := context.Background()
	trip := mustStartTrip(t, trips, uuid.New())
	v, err := visits.Create(ctx, domain.Visit{TripID: trip.ID, CustomerID: uuid.New(), Status: domain.VisitPlanned})
	require.NoError(t, err)

	v.Status = domain.VisitCompleted
	_, err = visits.Transition(ctx, v, domain.VisitCheckedIn, true)

	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestVisitRepo_Transition_CancelAfterTripClosed(t *testing.T) {
	trips, _, visits := newTestTripRepos(t)
	ctx := context.Background()
	trip := mustStartTrip(t, trips, uuid.New())
	v, err := visits.Create(ctx, domain.Visit{TripID: trip.ID, CustomerID: uuid.New(), Status: domain.VisitPlanned})
	require.NoError(t, err)
	_, err = trips.Complete(ctx, trip.ID, domain.TripCompletion{EndTime: trip.StartTime.Add(time.Minute), Reason: domain.CompletionUser})
	require.NoError(t, err)

	v.Status = domain.VisitCheckedIn
	_, err = visits.Transition(ctx, v, domain.VisitPlanned, true)
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	v.Status = domain.VisitCanceled
	got, err := visits.Transition(ctx, v, domain.VisitPlanned, false)
	require.NoError(t, err)
	assert.Equal(t, domain.VisitCanceled, got.Status)
}
