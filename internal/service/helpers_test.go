package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fieldops/internal/blob"
	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/repo/memrepo"
	"github.com/pkordes/fieldops/internal/service"
)

var t0 = time.Date(2026, 4, 14, 8, 0, 0, 0, time.UTC)

// clock is a manually advanced time source shared by a test's services.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: t0} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingActivity collects activity records.
type recordingActivity struct {
	mu   sync.Mutex
	recs []domain.Activity
}

func (r *recordingActivity) Record(_ context.Context, a domain.Activity) {
	r.mu.Lock()
	r.recs = append(r.recs, a)
	r.mu.Unlock()
}

func (r *recordingActivity) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.recs))
	for _, a := range r.recs {
		out = append(out, a.Kind)
	}
	return out
}

// recordingTracker captures what the state machines feed the broadcast layer.
type recordingTracker struct {
	mu       sync.Mutex
	ingested []domain.LivePosition
	ended    []uuid.UUID
}

func (r *recordingTracker) Ingest(_ context.Context, p domain.LivePosition) (domain.LivePosition, bool) {
	r.mu.Lock()
	r.ingested = append(r.ingested, p)
	r.mu.Unlock()
	return p, true
}

func (r *recordingTracker) EndTracking(id uuid.UUID) {
	r.mu.Lock()
	r.ended = append(r.ended, id)
	r.mu.Unlock()
}

func (r *recordingTracker) endedIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.ended...)
}

var _ service.Tracker = (*recordingTracker)(nil)

// fixture wires every service over one in-memory store and clock.
type fixture struct {
	store      *memrepo.Store
	clock      *clock
	activity   *recordingActivity
	tracker    *recordingTracker
	blobs      *blob.MemoryStore
	trips      *service.TripService
	visits     *service.VisitService
	deliveries *service.DeliveryService
	couriers   *service.CourierService
}

func newFixture(cfg service.DeliveryConfig) *fixture {
	f := &fixture{
		clock:    newClock(),
		activity: &recordingActivity{},
		tracker:  &recordingTracker{},
		blobs:    blob.NewMemoryStore(),
	}
	f.store = memrepo.New().WithClock(f.clock.Now)
	s := f.store

	f.trips = service.NewTripService(s.Trips(), s.Checkpoints(), f.activity, f.tracker, service.TripConfig{StaleThreshold: 24 * time.Hour})
	f.trips.SetClock(f.clock.Now)
	f.visits = service.NewVisitService(s.Trips(), s.Visits(), f.activity)
	f.visits.SetClock(f.clock.Now)
	f.deliveries = service.NewDeliveryService(s, s.Deliveries(), s.DeliveryEvents(), s.Couriers(), f.blobs, f.tracker, f.activity, cfg)
	f.deliveries.SetClock(f.clock.Now)
	f.couriers = service.NewCourierService(s, s.Couriers(), s.CourierDocuments(), f.blobs, f.activity)
	f.couriers.SetClock(f.clock.Now)
	return f
}

func actor(role domain.Role) domain.Actor {
	return domain.Actor{UserID: uuid.New(), Role: role}
}

var (
	admin      = domain.Actor{UserID: uuid.MustParse("00000000-0000-0000-0000-00000000a001"), Role: domain.RoleAdmin}
	dispatcher = domain.Actor{UserID: uuid.MustParse("00000000-0000-0000-0000-00000000d001"), Role: domain.RoleDispatcher}
)
