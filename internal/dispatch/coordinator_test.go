package dispatch_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fieldops/internal/blob"
	"github.com/pkordes/fieldops/internal/dispatch"
	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/events"
	"github.com/pkordes/fieldops/internal/repo/memrepo"
	"github.com/pkordes/fieldops/internal/service"
	"github.com/pkordes/fieldops/internal/tracking"
	"github.com/pkordes/fieldops/testutil"
)

var (
	admin      = domain.Actor{UserID: uuid.New(), Role: domain.RoleAdmin}
	dispatcher = domain.Actor{UserID: uuid.New(), Role: domain.RoleDispatcher}
)

func actor(role domain.Role) domain.Actor {
	return domain.Actor{UserID: uuid.New(), Role: role}
}

func newCoordinator(t *testing.T) *dispatch.Coordinator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memrepo.New()
	blobs := blob.NewMemoryStore()
	rec := events.NewLogOnly(logger)

	tracker := tracking.NewService(tracking.NewStore(), tracking.NewHub(8, logger), service.NewLiveness(store.Trips(), store.Deliveries()), logger)
	trips := service.NewTripService(store.Trips(), store.Checkpoints(), rec, tracker, service.TripConfig{StaleThreshold: 24 * time.Hour})
	visits := service.NewVisitService(store.Trips(), store.Visits(), rec)
	deliveries := service.NewDeliveryService(store, store.Deliveries(), store.DeliveryEvents(), store.Couriers(), blobs, tracker, rec, service.DeliveryConfig{})
	couriers := service.NewCourierService(store, store.Couriers(), store.CourierDocuments(), blobs, rec)
	exports := service.NewExportService(store.Trips(), store.Visits())
	return dispatch.New(trips, visits, deliveries, couriers, exports, tracker)
}

func onboard(t *testing.T, c *dispatch.Coordinator) domain.Actor {
	t.Helper()
	ctx := context.Background()
	courier := actor(domain.RoleDelivery)
	_, err := c.SubmitApplication(ctx, courier, service.SubmitApplicationInput{
		VehicleType: "bike", PayoutHolder: testutil.PersonName(), PayoutIBAN: "DE89370400440532013000",
	})
	require.NoError(t, err)
	for _, typ := range domain.RequiredDocuments {
		doc, err := c.UploadDocument(ctx, courier, service.UploadDocumentInput{Type: typ, ContentType: "image/png", Body: strings.NewReader("scan")})
		require.NoError(t, err)
		_, err = c.ReviewDocument(ctx, admin, doc.ID, domain.DocApproved, "")
		require.NoError(t, err)
	}
	return courier
}

func newDelivery(t *testing.T, c *dispatch.Coordinator) domain.Delivery {
	t.Helper()
	fx := testutil.DeliveryFixture(dispatcher.UserID)
	d, err := c.CreateDelivery(context.Background(), dispatcher, service.CreateDeliveryInput{
		OrderRef: fx.OrderRef, CustomerID: fx.CustomerID, Pickup: fx.Pickup, Dropoff: fx.Dropoff, FeeCents: fx.FeeCents,
	})
	require.NoError(t, err)
	return d
}

func TestCoordinator_RoleDenials(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"commercial creates delivery", func() error {
			_, err := c.CreateDelivery(ctx, actor(domain.RoleCommercial), service.CreateDeliveryInput{})
			return err
		}},
		{"accountant starts trip", func() error {
			_, err := c.StartTrip(ctx, actor(domain.RoleAccountant), service.StartTripInput{})
			return err
		}},
		{"courier reviews document", func() error {
			_, err := c.ReviewDocument(ctx, actor(domain.RoleDelivery), uuid.New(), domain.DocApproved, "")
			return err
		}},
		{"dispatcher suspends courier", func() error {
			_, err := c.SuspendCourier(ctx, dispatcher, uuid.New(), "no")
			return err
		}},
		{"courier lists trips", func() error {
			_, err := c.ListTrips(ctx, actor(domain.RoleDelivery), domain.TripFilter{}, domain.PaginationParams{})
			return err
		}},
		{"courier observes positions", func() error {
			_, err := c.ActiveAgents(ctx, actor(domain.RoleDelivery), nil)
			return err
		}},
		{"commercial reimburses trip", func() error {
			_, err := c.ReimburseTrip(ctx, actor(domain.RoleCommercial), uuid.New())
			return err
		}},
		{"dispatcher exports expenses", func() error {
			_, err := c.ExportExpenses(ctx, dispatcher, domain.ExpenseFilter{})
			return err
		}},
		{"admin applies as courier", func() error {
			_, err := c.SubmitApplication(ctx, admin, service.SubmitApplicationInput{})
			return err
		}},
		{"courier lists couriers", func() error {
			_, err := c.ListCouriers(ctx, actor(domain.RoleDelivery), domain.CourierFilter{}, domain.PaginationParams{})
			return err
		}},
		{"accountant lists courier documents", func() error {
			_, err := c.MyDocuments(ctx, actor(domain.RoleAccountant))
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), domain.ErrForbidden)
		})
	}
}

func TestCoordinator_SystemActorBypassesRoles(t *testing.T) {
	c := newCoordinator(t)

	recovered, err := c.RecoverStaleTrips(context.Background(), domain.SystemActor)

	require.NoError(t, err)
	assert.Empty(t, recovered)
}

func TestCoordinator_TripOverview(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()
	agent := actor(domain.RoleCommercial)
	fx := testutil.TripFixture(agent.UserID)

	trip, err := c.StartTrip(ctx, agent, service.StartTripInput{StartLocation: fx.StartLocation, Purpose: fx.Purpose})
	require.NoError(t, err)
	_, err = c.AddCheckpoint(ctx, agent, trip.ID, testutil.Point(), time.Now())
	require.NoError(t, err)
	_, err = c.CreateVisit(ctx, agent, service.CreateVisitInput{TripID: trip.ID, CustomerID: uuid.New(), Summary: "walk-in"})
	require.NoError(t, err)

	ov, err := c.TripOverview(ctx, agent, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, trip.ID, ov.Trip.ID)
	assert.Len(t, ov.Visits, 1)
	assert.Len(t, ov.Checkpoints, 1)

	_, err = c.TripOverview(ctx, actor(domain.RoleCommercial), trip.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden, "another field agent cannot read the trip")

	_, err = c.TripOverview(ctx, actor(domain.RoleAccountant), trip.ID)
	assert.NoError(t, err, "back office reads every trip")

	_, err = c.TripOverview(ctx, agent, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.EndTrip(ctx, agent, trip.ID, service.EndTripInput{})
	require.NoError(t, err)
	rows, err := c.ExportExpenses(ctx, actor(domain.RoleAccountant), domain.ExpenseFilter{OwnerID: &agent.UserID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, trip.ID, rows[0].TripID)
	assert.Equal(t, 1, rows[0].VisitCount)
}

func TestCoordinator_CourierSeesOnlyOwnDeliveries(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()
	mine := onboard(t, c)
	other := onboard(t, c)

	d1 := newDelivery(t, c)
	d2 := newDelivery(t, c)
	newDelivery(t, c)
	_, err := c.AssignDelivery(ctx, dispatcher, d1.ID, mine.UserID)
	require.NoError(t, err)
	_, err = c.AssignDelivery(ctx, dispatcher, d2.ID, other.UserID)
	require.NoError(t, err)

	list, err := c.ListDeliveries(ctx, mine, domain.DeliveryFilter{CourierID: &other.UserID}, domain.PaginationParams{})
	require.NoError(t, err)
	require.Len(t, list, 1, "a courier filter naming someone else is overridden")
	assert.Equal(t, d1.ID, list[0].ID)

	all, err := c.ListDeliveries(ctx, dispatcher, domain.DeliveryFilter{}, domain.PaginationParams{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	detail, err := c.GetDelivery(ctx, mine, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, d1.ID, detail.Delivery.ID)
	assert.Len(t, detail.History, 2)

	_, err = c.GetDelivery(ctx, mine, d2.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = c.AddNote(ctx, mine, d2.ID, "wrong door")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	ev, err := c.AddNote(ctx, mine, d1.ID, "gate code 4411")
	require.NoError(t, err)
	assert.Equal(t, "gate code 4411", ev.Note)
}

func TestCoordinator_CourierListings(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()
	approved := onboard(t, c)
	pending := actor(domain.RoleDelivery)
	_, err := c.SubmitApplication(ctx, pending, service.SubmitApplicationInput{
		VehicleType: "bike", PayoutHolder: testutil.PersonName(), PayoutIBAN: "DE89370400440532013000",
	})
	require.NoError(t, err)
	doc, err := c.UploadDocument(ctx, pending, service.UploadDocumentInput{Type: domain.DocIDCard, ContentType: "image/png", Body: strings.NewReader("scan")})
	require.NoError(t, err)
	_, err = c.ReviewDocument(ctx, admin, doc.ID, domain.DocRejected, "document is cropped")
	require.NoError(t, err)

	mine, err := c.MyDocuments(ctx, pending)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, domain.DocRejected, mine[0].Status)
	assert.Equal(t, "document is cropped", mine[0].RejectionReason)

	all, err := c.ListCouriers(ctx, dispatcher, domain.CourierFilter{}, domain.NewPaginationParams(nil, nil))
	require.NoError(t, err)
	assert.Len(t, all, 2)

	available := true
	on, err := c.ListCouriers(ctx, admin, domain.CourierFilter{Available: &available}, domain.NewPaginationParams(nil, nil))
	require.NoError(t, err)
	require.Len(t, on, 1)
	assert.Equal(t, approved.UserID, on[0].UserID)

	rejected := domain.CourierRejected
	off, err := c.ListCouriers(ctx, admin, domain.CourierFilter{Status: &rejected}, domain.NewPaginationParams(nil, nil))
	require.NoError(t, err)
	require.Len(t, off, 1)
	assert.Equal(t, pending.UserID, off[0].UserID)

	bogus := domain.CourierStatus("ON_LEAVE")
	_, err = c.ListCouriers(ctx, admin, domain.CourierFilter{Status: &bogus}, domain.NewPaginationParams(nil, nil))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCoordinator_LivePositions(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()
	courier := onboard(t, c)
	d := newDelivery(t, c)
	_, err := c.AssignDelivery(ctx, dispatcher, d.ID, courier.UserID)
	require.NoError(t, err)

	_, applied, err := c.UpdateDeliveryLocation(ctx, courier, d.ID, domain.GeoPoint{Lat: 45.76, Lon: 4.84}, time.Now())
	require.NoError(t, err)
	require.True(t, applied)

	kind := domain.AgentDelivery
	active, err := c.ActiveAgents(ctx, dispatcher, &kind)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, d.ID, active[0].CorrelatedID)
	assert.False(t, active[0].Orphaned)

	pos, err := c.AgentPosition(ctx, dispatcher, courier.UserID)
	require.NoError(t, err)
	assert.InDelta(t, 45.76, pos.Lat, 1e-9)

	_, err = c.CancelDelivery(ctx, dispatcher, d.ID, "customer unreachable")
	require.NoError(t, err)
	active, err = c.ActiveAgents(ctx, dispatcher, &kind)
	require.NoError(t, err)
	assert.Empty(t, active, "closing the delivery ends its tracking")

	_, err = c.AgentPosition(ctx, dispatcher, courier.UserID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
