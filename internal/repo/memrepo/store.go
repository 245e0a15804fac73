// Package memrepo is an in-memory implementation of the repo interfaces.
// It keeps the same conditional-write semantics as the Postgres repos so
// service tests can exercise races without a database. A transaction holds
// the store lock for its whole duration and restores a snapshot on error.
package memrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/repo"
)

type txKey struct{}

type data struct {
	trips       []domain.Trip
	checkpoints []domain.Checkpoint
	visits      []domain.Visit
	deliveries  []domain.Delivery
	events      []domain.DeliveryEvent
	couriers    []domain.CourierProfile
	documents   []domain.CourierDocument
}

func (d *data) clone() *data {
	return &data{
		trips:       append([]domain.Trip(nil), d.trips...),
		checkpoints: append([]domain.Checkpoint(nil), d.checkpoints...),
		visits:      append([]domain.Visit(nil), d.visits...),
		deliveries:  append([]domain.Delivery(nil), d.deliveries...),
		events:      append([]domain.DeliveryEvent(nil), d.events...),
		couriers:    append([]domain.CourierProfile(nil), d.couriers...),
		documents:   append([]domain.CourierDocument(nil), d.documents...),
	}
}

// Store holds every table in memory.
type Store struct {
	mu  sync.Mutex
	d   *data
	now func() time.Time
}

// New returns an empty Store using time.Now for row timestamps.
func New() *Store {
	return &Store{d: &data{}, now: time.Now}
}

// WithClock replaces the clock used for created_at/updated_at.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

var _ repo.TxManager = (*Store)(nil)

// RunInTx serializes fn against every other store access and rolls back
// all changes if fn returns an error or panics.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) == s {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	defer func() {
		if p := recover(); p != nil {
			s.d = snapshot
			panic(p)
		}
		if err != nil {
			s.d = snapshot
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, s))
}

// lock takes the store lock unless ctx already runs inside this store's transaction.
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Trips() repo.TripRepo                       { return tripRepo{s} }
func (s *Store) Checkpoints() repo.CheckpointRepo           { return checkpointRepo{s} }
func (s *Store) Visits() repo.VisitRepo                     { return visitRepo{s} }
func (s *Store) Deliveries() repo.DeliveryRepo              { return deliveryRepo{s} }
func (s *Store) DeliveryEvents() repo.DeliveryEventRepo     { return eventRepo{s} }
func (s *Store) Couriers() repo.CourierRepo                 { return courierRepo{s} }
func (s *Store) CourierDocuments() repo.CourierDocumentRepo { return documentRepo{s} }

func paginate[T any](in []T, page domain.PaginationParams) []T {
	if page.Limit <= 0 {
		return in
	}
	start := page.Offset()
	if start >= len(in) {
		return []T{}
	}
	end := start + page.Limit
	if end > len(in) {
		end = len(in)
	}
	return in[start:end]
}

// ---- trips -----------------------------------------------------------------

type tripRepo struct{ s *Store }

func (r tripRepo) find(id uuid.UUID) int {
	for i, t := range r.s.d.trips {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (r tripRepo) Create(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	defer r.s.lock(ctx)()
	for _, t := range r.s.d.trips {
		if t.OwnerID == trip.OwnerID && t.Status == domain.TripInProgress {
			return domain.Trip{}, fmt.Errorf("memrepo.TripRepo.Create: %w: owner already has a trip in progress", domain.ErrConflict)
		}
	}
	now := r.s.now()
	trip.ID = uuid.New()
	trip.Status = domain.TripInProgress
	trip.EndTime = nil
	trip.CreatedAt, trip.UpdatedAt = now, now
	if trip.StartTime.IsZero() {
		trip.StartTime = now
	}
	r.s.d.trips = append(r.s.d.trips, trip)
	return trip, nil
}

func (r tripRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	defer r.s.lock(ctx)()
	i := r.find(id)
	if i < 0 {
		return domain.Trip{}, fmt.Errorf("memrepo.TripRepo.GetByID: %w", domain.ErrNotFound)
	}
	return r.s.d.trips[i], nil
}

func (r tripRepo) GetActiveByOwner(ctx context.Context, ownerID uuid.UUID) (domain.Trip, error) {
	defer r.s.lock(ctx)()
	for _, t := range r.s.d.trips {
		if t.OwnerID == ownerID && t.Status == domain.TripInProgress {
			return t, nil
		}
	}
	return domain.Trip{}, fmt.Errorf("memrepo.TripRepo.GetActiveByOwner: %w", domain.ErrNotFound)
}

func (r tripRepo) List(ctx context.Context, filter domain.TripFilter, page domain.PaginationParams) ([]domain.Trip, error) {
	defer r.s.lock(ctx)()
	out := []domain.Trip{}
	for _, t := range r.s.d.trips {
		if filter.OwnerID != nil && t.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return paginate(out, page), nil
}

func (r tripRepo) Complete(ctx context.Context, id uuid.UUID, c domain.TripCompletion) (domain.Trip, error) {
	defer r.s.lock(ctx)()
	i := r.find(id)
	if i < 0 {
		return domain.Trip{}, fmt.Errorf("memrepo.TripRepo.Complete: %w", domain.ErrNotFound)
	}
	t := r.s.d.trips[i]
	if t.Status != domain.TripInProgress {
		return domain.Trip{}, fmt.Errorf("memrepo.TripRepo.Complete: %w: trip is already completed", domain.ErrInvalidState)
	}
	end := c.EndTime
	t.Status = domain.TripCompleted
	t.EndTime = &end
	t.EndLocation = c.EndLocation
	t.EndOdometerKm = c.EndOdometerKm
	t.DistanceKm = c.DistanceKm
	t.DurationMinutes = c.DurationMinutes
	t.TotalCost = c.TotalCost
	t.CompletionReason = c.Reason
	t.UpdatedAt = r.s.now()
	r.s.d.trips[i] = t
	return t, nil
}

func (r tripRepo) RecoverStale(ctx context.Context, cutoff, now time.Time) ([]domain.Trip, error) {
	defer r.s.lock(ctx)()
	out := []domain.Trip{}
	for i, t := range r.s.d.trips {
		if t.Status != domain.TripInProgress || t.StartTime.After(cutoff) {
			continue
		}
		end := now
		t.Status = domain.TripCompleted
		t.EndTime = &end
		t.CompletionReason = domain.CompletionRecovery
		if d := now.Sub(t.StartTime); d > 0 {
			t.DurationMinutes = int(d / time.Minute)
		}
		t.UpdatedAt = r.s.now()
		r.s.d.trips[i] = t
		out = append(out, t)
	}
	return out, nil
}

func (r tripRepo) MarkValidated(ctx context.Context, id, by uuid.UUID, at time.Time, notes string) (domain.Trip, error) {
	defer r.s.lock(ctx)()
	i := r.find(id)
	if i < 0 {
		return domain.Trip{}, fmt.Errorf("memrepo.TripRepo.MarkValidated: %w", domain.ErrNotFound)
	}
	t := r.s.d.trips[i]
	if t.Status != domain.TripCompleted || t.ValidatedAt != nil {
		return domain.Trip{}, fmt.Errorf("memrepo.TripRepo.MarkValidated: %w: trip must be completed and not yet validated", domain.ErrInvalidState)
	}
	t.ValidatedBy, t.ValidatedAt, t.AdminNotes = &by, &at, notes
	r.s.d.trips[i] = t
	return t, nil
}

func (r tripRepo) MarkReimbursed(ctx context.Context, id, by uuid.UUID, at time.Time) (domain.Trip, error) {
	defer r.s.lock(ctx)()
	i := r.find(id)
	if i < 0 {
		return domain.Trip{}, fmt.Errorf("memrepo.TripRepo.MarkReimbursed: %w", domain.ErrNotFound)
	}
	t := r.s.d.trips[i]
	if t.ValidatedAt == nil || t.ReimbursedAt != nil {
		return domain.Trip{}, fmt.Errorf("memrepo.TripRepo.MarkReimbursed: %w: trip must be validated and not yet reimbursed", domain.ErrPrecondition)
	}
	t.ReimbursedBy, t.ReimbursedAt = &by, &at
	r.s.d.trips[i] = t
	return t, nil
}

// ---- checkpoints -----------------------------------------------------------

type checkpointRepo struct{ s *Store }

func (r checkpointRepo) Append(ctx context.Context, cp domain.Checkpoint) (domain.Checkpoint, error) {
	defer r.s.lock(ctx)()
	i := tripRepo(r).find(cp.TripID)
	if i < 0 {
		return domain.Checkpoint{}, fmt.Errorf("memrepo.CheckpointRepo.Append: %w", domain.ErrNotFound)
	}
	if st := r.s.d.trips[i].Status; st != domain.TripInProgress {
		return domain.Checkpoint{}, fmt.Errorf("memrepo.CheckpointRepo.Append: %w: trip is %s", domain.ErrInvalidState, st)
	}
	cp.ID = uuid.New()
	cp.CreatedAt = r.s.now()
	r.s.d.checkpoints = append(r.s.d.checkpoints, cp)
	return cp, nil
}

func (r checkpointRepo) ListByTrip(ctx context.Context, tripID uuid.UUID) ([]domain.Checkpoint, error) {
	defer r.s.lock(ctx)()
	out := []domain.Checkpoint{}
	for _, cp := range r.s.d.checkpoints {
		if cp.TripID == tripID {
			out = append(out, cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}

// ---- visits ----------------------------------------------------------------

type visitRepo struct{ s *Store }

func (r visitRepo) find(id uuid.UUID) int {
	for i, v := range r.s.d.visits {
		if v.ID == id {
			return i
		}
	}
	return -1
}

func (r visitRepo) tripOpen(tripID uuid.UUID) (bool, bool) {
	i := tripRepo(r).find(tripID)
	if i < 0 {
		return false, false
	}
	return true, r.s.d.trips[i].Status == domain.TripInProgress
}

func (r visitRepo) Create(ctx context.Context, v domain.Visit) (domain.Visit, error) {
	defer r.s.lock(ctx)()
	exists, open := r.tripOpen(v.TripID)
	if !exists {
		return domain.Visit{}, fmt.Errorf("memrepo.VisitRepo.Create: %w", domain.ErrNotFound)
	}
	if !open {
		return domain.Visit{}, fmt.Errorf("memrepo.VisitRepo.Create: %w: trip is %s", domain.ErrPrecondition, domain.TripCompleted)
	}
	now := r.s.now()
	v.ID = uuid.New()
	v.CreatedAt, v.UpdatedAt = now, now
	if v.Media == nil {
		v.Media = []string{}
	}
	r.s.d.visits = append(r.s.d.visits, v)
	return v, nil
}

func (r visitRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Visit, error) {
	defer r.s.lock(ctx)()
	i := r.find(id)
	if i < 0 {
		return domain.Visit{}, fmt.Errorf("memrepo.VisitRepo.GetByID: %w", domain.ErrNotFound)
	}
	return r.s.d.visits[i], nil
}

func (r visitRepo) ListByTrip(ctx context.Context, tripID uuid.UUID) ([]domain.Visit, error) {
	defer r.s.lock(ctx)()
	out := []domain.Visit{}
	for _, v := range r.s.d.visits {
		if v.TripID == tripID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r visitRepo) Transition(ctx context.Context, v domain.Visit, from domain.VisitStatus, requireOpenTrip bool) (domain.Visit, error) {
	defer r.s.lock(ctx)()
	i := r.find(v.ID)
	if i < 0 {
		return domain.Visit{}, fmt.Errorf("memrepo.VisitRepo.Transition: %w", domain.ErrNotFound)
	}
	cur := r.s.d.visits[i]
	if cur.Status != from {
		return domain.Visit{}, fmt.Errorf("memrepo.VisitRepo.Transition: %w: visit is %s", domain.ErrInvalidTransition, cur.Status)
	}
	if _, open := r.tripOpen(cur.TripID); requireOpenTrip && !open {
		return domain.Visit{}, fmt.Errorf("memrepo.VisitRepo.Transition: %w: trip is no longer in progress", domain.ErrPrecondition)
	}
	v.TripID, v.CustomerID, v.CreatedAt = cur.TripID, cur.CustomerID, cur.CreatedAt
	v.UpdatedAt = r.s.now()
	if v.Media == nil {
		v.Media = []string{}
	}
	r.s.d.visits[i] = v
	return v, nil
}

// ---- deliveries ------------------------------------------------------------

type deliveryRepo struct{ s *Store }

func (r deliveryRepo) find(id uuid.UUID) int {
	for i, d := range r.s.d.deliveries {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func (r deliveryRepo) miss(op string, id uuid.UUID) error {
	i := r.find(id)
	if i < 0 {
		return fmt.Errorf("memrepo.DeliveryRepo.%s: %w", op, domain.ErrNotFound)
	}
	st := r.s.d.deliveries[i].Status
	if st.Terminal() {
		return fmt.Errorf("memrepo.DeliveryRepo.%s: %w: delivery is %s", op, domain.ErrTerminalState, st)
	}
	return fmt.Errorf("memrepo.DeliveryRepo.%s: %w: delivery is %s", op, domain.ErrInvalidTransition, st)
}

func (r deliveryRepo) Create(ctx context.Context, d domain.Delivery) (domain.Delivery, error) {
	defer r.s.lock(ctx)()
	now := r.s.now()
	d.ID = uuid.New()
	d.Status = domain.DeliveryCreated
	d.CourierID = nil
	d.CreatedAt, d.UpdatedAt = now, now
	r.s.d.deliveries = append(r.s.d.deliveries, d)
	return d, nil
}

func (r deliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Delivery, error) {
	defer r.s.lock(ctx)()
	i := r.find(id)
	if i < 0 {
		return domain.Delivery{}, fmt.Errorf("memrepo.DeliveryRepo.GetByID: %w", domain.ErrNotFound)
	}
	return r.s.d.deliveries[i], nil
}

func (r deliveryRepo) Lock(ctx context.Context, id uuid.UUID) (domain.Delivery, error) {
	return r.GetByID(ctx, id)
}

func (r deliveryRepo) List(ctx context.Context, filter domain.DeliveryFilter, page domain.PaginationParams) ([]domain.Delivery, error) {
	defer r.s.lock(ctx)()
	out := []domain.Delivery{}
	for i := len(r.s.d.deliveries) - 1; i >= 0; i-- {
		d := r.s.d.deliveries[i]
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		if filter.CourierID != nil && (d.CourierID == nil || *d.CourierID != *filter.CourierID) {
			continue
		}
		out = append(out, d)
	}
	return paginate(out, page), nil
}

func (r deliveryRepo) Assign(ctx context.Context, id, courierID uuid.UUID, status domain.DeliveryStatus, at time.Time) (domain.Delivery, error) {
	defer r.s.lock(ctx)()
	i := r.find(id)
	if i < 0 || r.s.d.deliveries[i].Status != domain.DeliveryCreated || r.s.d.deliveries[i].CourierID != nil {
		return domain.Delivery{}, r.miss("Assign", id)
	}
	d := r.s.d.deliveries[i]
	c := courierID
	d.CourierID = &c
	d.Status = status
	d.Stamp(domain.DeliveryOffered, at)
	if status == domain.DeliveryAccepted {
		d.Stamp(domain.DeliveryAccepted, at)
	}
	d.UpdatedAt = r.s.now()
	r.s.d.deliveries[i] = d
	return d, nil
}

func (r deliveryRepo) Transition(ctx context.Context, id uuid.UUID, from, to domain.DeliveryStatus, at time.Time, cancelReason string) (domain.Delivery, error) {
	defer r.s.lock(ctx)()
	i := r.find(id)
	if i < 0 || r.s.d.deliveries[i].Status != from {
		return domain.Delivery{}, r.miss("Transition", id)
	}
	d := r.s.d.deliveries[i]
	d.Status = to
	d.Stamp(to, at)
	if to == domain.DeliveryCanceled {
		d.CancelReason = cancelReason
	}
	d.UpdatedAt = r.s.now()
	r.s.d.deliveries[i] = d
	return d, nil
}

func (r deliveryRepo) SetProof(ctx context.Context, id uuid.UUID, proof domain.Proof) (domain.Delivery, error) {
	defer r.s.lock(ctx)()
	i := r.find(id)
	if i < 0 || r.s.d.deliveries[i].Status != domain.DeliveryAtDropoff {
		return domain.Delivery{}, r.miss("SetProof", id)
	}
	d := r.s.d.deliveries[i]
	p := proof
	d.Proof = &p
	d.UpdatedAt = r.s.now()
	r.s.d.deliveries[i] = d
	return d, nil
}

func (r deliveryRepo) CountActiveByCourier(ctx context.Context, courierID uuid.UUID) (int, error) {
	defer r.s.lock(ctx)()
	n := 0
	for _, d := range r.s.d.deliveries {
		if d.CourierID != nil && *d.CourierID == courierID && !d.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

// ---- delivery events -------------------------------------------------------

type eventRepo struct{ s *Store }

func (r eventRepo) Append(ctx context.Context, e domain.DeliveryEvent) (domain.DeliveryEvent, error) {
	defer r.s.lock(ctx)()
	seq := 0
	for _, x := range r.s.d.events {
		if x.DeliveryID == e.DeliveryID && x.Seq > seq {
			seq = x.Seq
		}
	}
	e.ID = uuid.New()
	e.Seq = seq + 1
	r.s.d.events = append(r.s.d.events, e)
	return e, nil
}

func (r eventRepo) ListByDelivery(ctx context.Context, deliveryID uuid.UUID) ([]domain.DeliveryEvent, error) {
	defer r.s.lock(ctx)()
	out := []domain.DeliveryEvent{}
	for _, e := range r.s.d.events {
		if e.DeliveryID == deliveryID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ---- couriers --------------------------------------------------------------

type courierRepo struct{ s *Store }

func (r courierRepo) findBy(match func(domain.CourierProfile) bool) int {
	for i, p := range r.s.d.couriers {
		if match(p) {
			return i
		}
	}
	return -1
}

func (r courierRepo) GetOrCreate(ctx context.Context, userID uuid.UUID) (domain.CourierProfile, error) {
	defer r.s.lock(ctx)()
	if i := r.findBy(func(p domain.CourierProfile) bool { return p.UserID == userID }); i >= 0 {
		return r.s.d.couriers[i], nil
	}
	now := r.s.now()
	p := domain.CourierProfile{ID: uuid.New(), UserID: userID, Status: domain.CourierDraft, CreatedAt: now, UpdatedAt: now}
	r.s.d.couriers = append(r.s.d.couriers, p)
	return p, nil
}

func (r courierRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (domain.CourierProfile, error) {
	defer r.s.lock(ctx)()
	i := r.findBy(func(p domain.CourierProfile) bool { return p.UserID == userID })
	if i < 0 {
		return domain.CourierProfile{}, fmt.Errorf("memrepo.CourierRepo.GetByUserID: %w", domain.ErrNotFound)
	}
	return r.s.d.couriers[i], nil
}

func (r courierRepo) LockByUserID(ctx context.Context, userID uuid.UUID) (domain.CourierProfile, error) {
	return r.GetByUserID(ctx, userID)
}

func (r courierRepo) LockByID(ctx context.Context, id uuid.UUID) (domain.CourierProfile, error) {
	defer r.s.lock(ctx)()
	i := r.findBy(func(p domain.CourierProfile) bool { return p.ID == id })
	if i < 0 {
		return domain.CourierProfile{}, fmt.Errorf("memrepo.CourierRepo.LockByID: %w", domain.ErrNotFound)
	}
	return r.s.d.couriers[i], nil
}

func (r courierRepo) Save(ctx context.Context, p domain.CourierProfile) (domain.CourierProfile, error) {
	defer r.s.lock(ctx)()
	i := r.findBy(func(x domain.CourierProfile) bool { return x.ID == p.ID })
	if i < 0 {
		return domain.CourierProfile{}, fmt.Errorf("memrepo.CourierRepo.Save: %w", domain.ErrNotFound)
	}
	if p.IsAvailable && p.Status != domain.CourierApproved {
		return domain.CourierProfile{}, fmt.Errorf("memrepo.CourierRepo.Save: %w: available courier must be approved", domain.ErrValidation)
	}
	p.UserID, p.CreatedAt = r.s.d.couriers[i].UserID, r.s.d.couriers[i].CreatedAt
	p.UpdatedAt = r.s.now()
	r.s.d.couriers[i] = p
	return p, nil
}

func (r courierRepo) ListByStatus(ctx context.Context, status domain.CourierStatus) ([]domain.CourierProfile, error) {
	defer r.s.lock(ctx)()
	out := []domain.CourierProfile{}
	for _, p := range r.s.d.couriers {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r courierRepo) List(ctx context.Context, filter domain.CourierFilter, page domain.PaginationParams) ([]domain.CourierProfile, error) {
	defer r.s.lock(ctx)()
	out := []domain.CourierProfile{}
	for _, p := range r.s.d.couriers {
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.Available != nil && p.IsAvailable != *filter.Available {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page), nil
}

// ---- courier documents -----------------------------------------------------

type documentRepo struct{ s *Store }

func (r documentRepo) find(id uuid.UUID) int {
	for i, d := range r.s.d.documents {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func (r documentRepo) Create(ctx context.Context, doc domain.CourierDocument) (domain.CourierDocument, error) {
	defer r.s.lock(ctx)()
	doc.ID = uuid.New()
	doc.Status = domain.DocPending
	doc.UploadedAt = r.s.now()
	r.s.d.documents = append(r.s.d.documents, doc)
	return doc, nil
}

func (r documentRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.CourierDocument, error) {
	defer r.s.lock(ctx)()
	i := r.find(id)
	if i < 0 {
		return domain.CourierDocument{}, fmt.Errorf("memrepo.CourierDocumentRepo.GetByID: %w", domain.ErrNotFound)
	}
	return r.s.d.documents[i], nil
}

func (r documentRepo) ListByProfile(ctx context.Context, profileID uuid.UUID) ([]domain.CourierDocument, error) {
	defer r.s.lock(ctx)()
	out := []domain.CourierDocument{}
	for _, d := range r.s.d.documents {
		if d.ProfileID == profileID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r documentRepo) ListPending(ctx context.Context) ([]domain.CourierDocument, error) {
	defer r.s.lock(ctx)()
	submitted := map[uuid.UUID]bool{}
	for _, p := range r.s.d.couriers {
		submitted[p.ID] = p.Status != domain.CourierDraft
	}
	out := []domain.CourierDocument{}
	for _, d := range r.s.d.documents {
		if d.Status == domain.DocPending && submitted[d.ProfileID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r documentRepo) Review(ctx context.Context, id uuid.UUID, status domain.DocumentStatus, reviewer uuid.UUID, reason string, at time.Time) (domain.CourierDocument, error) {
	defer r.s.lock(ctx)()
	i := r.find(id)
	if i < 0 {
		return domain.CourierDocument{}, fmt.Errorf("memrepo.CourierDocumentRepo.Review: %w", domain.ErrNotFound)
	}
	d := r.s.d.documents[i]
	if d.Status != domain.DocPending {
		return domain.CourierDocument{}, fmt.Errorf("memrepo.CourierDocumentRepo.Review: %w: document already %s", domain.ErrTerminalState, d.Status)
	}
	d.Status = status
	d.ReviewerID = &reviewer
	d.RejectionReason = reason
	d.ReviewedAt = &at
	r.s.d.documents[i] = d
	return d, nil
}
