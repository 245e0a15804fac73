// Package dispatch is the single entry point for commands and queries. It
// applies the role capability map once per call and then delegates to the
// state machine services.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/policy"
	"github.com/pkordes/fieldops/internal/service"
	"github.com/pkordes/fieldops/internal/tracking"
)

// TripOverview is a trip with its visits and checkpoints.
type TripOverview struct {
	Trip        domain.Trip         `json:"trip"`
	Visits      []domain.Visit      `json:"visits"`
	Checkpoints []domain.Checkpoint `json:"checkpoints"`
}

// DeliveryDetail is a delivery with its ordered event history.
type DeliveryDetail struct {
	Delivery domain.Delivery        `json:"delivery"`
	History  []domain.DeliveryEvent `json:"history"`
}

// CourierDetail is a courier profile with its documents.
type CourierDetail struct {
	Profile   domain.CourierProfile    `json:"profile"`
	Documents []domain.CourierDocument `json:"documents"`
}

// Coordinator guards and routes every operation.
type Coordinator struct {
	trips      *service.TripService
	visits     *service.VisitService
	deliveries *service.DeliveryService
	couriers   *service.CourierService
	exports    *service.ExportService
	tracking   *tracking.Service
}

// New wires a Coordinator.
func New(trips *service.TripService, visits *service.VisitService, deliveries *service.DeliveryService, couriers *service.CourierService, exports *service.ExportService, tracker *tracking.Service) *Coordinator {
	return &Coordinator{
		trips:      trips,
		visits:     visits,
		deliveries: deliveries,
		couriers:   couriers,
		exports:    exports,
		tracking:   tracker,
	}
}

func guard(actor domain.Actor, op policy.Operation) error {
	if err := policy.Check(actor, op); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}

// ---- trips -----------------------------------------------------------------

// StartTrip opens a trip for the caller.
func (c *Coordinator) StartTrip(ctx context.Context, actor domain.Actor, in service.StartTripInput) (domain.Trip, error) {
	if err := guard(actor, policy.TripStart); err != nil {
		return domain.Trip{}, err
	}
	return c.trips.Start(ctx, actor, in)
}

// AddCheckpoint records a GPS sample on the caller's open trip.
func (c *Coordinator) AddCheckpoint(ctx context.Context, actor domain.Actor, tripID uuid.UUID, loc domain.GeoPoint, capturedAt time.Time) (domain.Checkpoint, error) {
	if err := guard(actor, policy.TripCheckpoint); err != nil {
		return domain.Checkpoint{}, err
	}
	return c.trips.AddCheckpoint(ctx, actor, tripID, loc, capturedAt)
}

// EndTrip completes the caller's trip and computes its cost figures.
func (c *Coordinator) EndTrip(ctx context.Context, actor domain.Actor, tripID uuid.UUID, in service.EndTripInput) (domain.Trip, error) {
	if err := guard(actor, policy.TripEnd); err != nil {
		return domain.Trip{}, err
	}
	return c.trips.End(ctx, actor, tripID, in)
}

// GetTrip returns a trip visible to the caller.
func (c *Coordinator) GetTrip(ctx context.Context, actor domain.Actor, tripID uuid.UUID) (domain.Trip, error) {
	if err := guard(actor, policy.TripRead); err != nil {
		return domain.Trip{}, err
	}
	return c.trips.GetByID(ctx, actor, tripID)
}

// ActiveTrip returns the caller's own trip in progress.
func (c *Coordinator) ActiveTrip(ctx context.Context, actor domain.Actor) (domain.Trip, error) {
	if err := guard(actor, policy.TripStart); err != nil {
		return domain.Trip{}, err
	}
	return c.trips.GetActive(ctx, actor.UserID)
}

// ListTrips returns a filtered page of trips for the back office.
func (c *Coordinator) ListTrips(ctx context.Context, actor domain.Actor, filter domain.TripFilter, page domain.PaginationParams) ([]domain.Trip, error) {
	if err := guard(actor, policy.TripList); err != nil {
		return nil, err
	}
	return c.trips.List(ctx, filter, page)
}

// TripOverview loads a trip, its visits and its checkpoints concurrently.
func (c *Coordinator) TripOverview(ctx context.Context, actor domain.Actor, tripID uuid.UUID) (TripOverview, error) {
	if err := guard(actor, policy.TripRead); err != nil {
		return TripOverview{}, err
	}

	var out TripOverview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := c.trips.GetByID(gctx, actor, tripID)
		out.Trip = t
		return err
	})
	g.Go(func() error {
		v, err := c.visits.ListByTrip(gctx, actor, tripID)
		out.Visits = v
		return err
	})
	g.Go(func() error {
		cps, err := c.trips.ListCheckpoints(gctx, actor, tripID)
		out.Checkpoints = cps
		return err
	})
	if err := g.Wait(); err != nil {
		return TripOverview{}, err
	}
	return out, nil
}

// RecoverStaleTrips force-completes abandoned trips.
func (c *Coordinator) RecoverStaleTrips(ctx context.Context, actor domain.Actor) ([]domain.Trip, error) {
	if err := guard(actor, policy.TripRecover); err != nil {
		return nil, err
	}
	return c.trips.RecoverStaleTrips(ctx)
}

// ValidateTrip marks a completed trip as checked by accounting.
func (c *Coordinator) ValidateTrip(ctx context.Context, actor domain.Actor, tripID uuid.UUID, notes string) (domain.Trip, error) {
	if err := guard(actor, policy.TripValidate); err != nil {
		return domain.Trip{}, err
	}
	return c.trips.Validate(ctx, actor, tripID, notes)
}

// ReimburseTrip marks a validated trip as paid out.
func (c *Coordinator) ReimburseTrip(ctx context.Context, actor domain.Actor, tripID uuid.UUID) (domain.Trip, error) {
	if err := guard(actor, policy.TripReimburse); err != nil {
		return domain.Trip{}, err
	}
	return c.trips.Reimburse(ctx, actor, tripID)
}

// ExportExpenses returns the mileage expense rows for completed trips.
func (c *Coordinator) ExportExpenses(ctx context.Context, actor domain.Actor, filter domain.ExpenseFilter) ([]domain.ExpenseRow, error) {
	if err := guard(actor, policy.TripExport); err != nil {
		return nil, err
	}
	return c.exports.Export(ctx, filter)
}

// ---- visits ----------------------------------------------------------------

// CreateVisit logs a customer visit on an open trip.
func (c *Coordinator) CreateVisit(ctx context.Context, actor domain.Actor, in service.CreateVisitInput) (domain.Visit, error) {
	if err := guard(actor, policy.VisitWrite); err != nil {
		return domain.Visit{}, err
	}
	return c.visits.Create(ctx, actor, in)
}

// CheckIn starts a planned visit.
func (c *Coordinator) CheckIn(ctx context.Context, actor domain.Actor, visitID uuid.UUID, loc *domain.GeoPoint) (domain.Visit, error) {
	if err := guard(actor, policy.VisitWrite); err != nil {
		return domain.Visit{}, err
	}
	return c.visits.CheckIn(ctx, actor, visitID, loc)
}

// CheckOut closes a visit with its summary and outcome.
func (c *Coordinator) CheckOut(ctx context.Context, actor domain.Actor, visitID uuid.UUID, summary, outcome string) (domain.Visit, error) {
	if err := guard(actor, policy.VisitWrite); err != nil {
		return domain.Visit{}, err
	}
	return c.visits.CheckOut(ctx, actor, visitID, summary, outcome)
}

// CancelVisit cancels a visit that is not yet finished.
func (c *Coordinator) CancelVisit(ctx context.Context, actor domain.Actor, visitID uuid.UUID) (domain.Visit, error) {
	if err := guard(actor, policy.VisitWrite); err != nil {
		return domain.Visit{}, err
	}
	return c.visits.Cancel(ctx, actor, visitID)
}

// ListVisits returns the visits of a trip.
func (c *Coordinator) ListVisits(ctx context.Context, actor domain.Actor, tripID uuid.UUID) ([]domain.Visit, error) {
	if err := guard(actor, policy.TripRead); err != nil {
		return nil, err
	}
	return c.visits.ListByTrip(ctx, actor, tripID)
}

// ---- deliveries ------------------------------------------------------------

// CreateDelivery registers a new delivery order.
func (c *Coordinator) CreateDelivery(ctx context.Context, actor domain.Actor, in service.CreateDeliveryInput) (domain.Delivery, error) {
	if err := guard(actor, policy.DeliveryCreate); err != nil {
		return domain.Delivery{}, err
	}
	return c.deliveries.Create(ctx, actor, in)
}

// AssignDelivery offers a delivery to an approved courier.
func (c *Coordinator) AssignDelivery(ctx context.Context, actor domain.Actor, deliveryID, courierUserID uuid.UUID) (domain.Delivery, error) {
	if err := guard(actor, policy.DeliveryAssign); err != nil {
		return domain.Delivery{}, err
	}
	return c.deliveries.Assign(ctx, actor, deliveryID, courierUserID)
}

// UpdateDeliveryStatus moves a delivery one step along its lifecycle.
func (c *Coordinator) UpdateDeliveryStatus(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, next domain.DeliveryStatus, geo *domain.GeoPoint) (domain.Delivery, error) {
	if err := guard(actor, policy.DeliveryDrive); err != nil {
		return domain.Delivery{}, err
	}
	return c.deliveries.UpdateStatus(ctx, actor, deliveryID, next, geo)
}

// UpdateDeliveryLocation publishes the assigned courier's position.
func (c *Coordinator) UpdateDeliveryLocation(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, loc domain.GeoPoint, capturedAt time.Time) (domain.LivePosition, bool, error) {
	if err := guard(actor, policy.DeliveryDrive); err != nil {
		return domain.LivePosition{}, false, err
	}
	return c.deliveries.UpdateLocation(ctx, actor, deliveryID, loc, capturedAt)
}

// AddProof attaches proof of delivery.
func (c *Coordinator) AddProof(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, in service.ProofInput) (domain.Delivery, error) {
	if err := guard(actor, policy.DeliveryDrive); err != nil {
		return domain.Delivery{}, err
	}
	return c.deliveries.AddProof(ctx, actor, deliveryID, in)
}

// AddNote appends a free-text note to a delivery's history.
func (c *Coordinator) AddNote(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, note string) (domain.DeliveryEvent, error) {
	if err := guard(actor, policy.DeliveryNote); err != nil {
		return domain.DeliveryEvent{}, err
	}
	if err := c.visibleDelivery(ctx, actor, deliveryID); err != nil {
		return domain.DeliveryEvent{}, err
	}
	return c.deliveries.AddNote(ctx, actor, deliveryID, note)
}

// CancelDelivery cancels a non-terminal delivery with a reason.
func (c *Coordinator) CancelDelivery(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, reason string) (domain.Delivery, error) {
	if err := guard(actor, policy.DeliveryCancel); err != nil {
		return domain.Delivery{}, err
	}
	return c.deliveries.Cancel(ctx, actor, deliveryID, reason)
}

// GetDelivery returns a delivery with its full event history, fetched
// concurrently. Couriers only see deliveries assigned to them.
func (c *Coordinator) GetDelivery(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID) (DeliveryDetail, error) {
	if err := guard(actor, policy.DeliveryRead); err != nil {
		return DeliveryDetail{}, err
	}

	var out DeliveryDetail
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := c.deliveries.GetByID(gctx, deliveryID)
		out.Delivery = d
		return err
	})
	g.Go(func() error {
		h, err := c.deliveries.History(gctx, deliveryID)
		out.History = h
		return err
	})
	if err := g.Wait(); err != nil {
		return DeliveryDetail{}, err
	}
	if err := courierOwns(actor, out.Delivery); err != nil {
		return DeliveryDetail{}, err
	}
	return out, nil
}

// ListDeliveries lists deliveries. Couriers are restricted to their own.
func (c *Coordinator) ListDeliveries(ctx context.Context, actor domain.Actor, filter domain.DeliveryFilter, page domain.PaginationParams) ([]domain.Delivery, error) {
	if err := guard(actor, policy.DeliveryRead); err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleDelivery {
		filter.CourierID = &actor.UserID
	}
	return c.deliveries.List(ctx, filter, page)
}

func (c *Coordinator) visibleDelivery(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID) error {
	if actor.Role != domain.RoleDelivery {
		return nil
	}
	d, err := c.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return err
	}
	return courierOwns(actor, d)
}

func courierOwns(actor domain.Actor, d domain.Delivery) error {
	if actor.Role != domain.RoleDelivery {
		return nil
	}
	if d.CourierID == nil || *d.CourierID != actor.UserID {
		return fmt.Errorf("dispatch: %w: delivery is not assigned to you", domain.ErrForbidden)
	}
	return nil
}

// ---- couriers --------------------------------------------------------------

// MyCourierProfile returns the caller's profile, creating a DRAFT on first access.
func (c *Coordinator) MyCourierProfile(ctx context.Context, actor domain.Actor) (domain.CourierProfile, error) {
	if err := guard(actor, policy.CourierApply); err != nil {
		return domain.CourierProfile{}, err
	}
	return c.couriers.Profile(ctx, actor)
}

// SubmitApplication files the caller's courier application.
func (c *Coordinator) SubmitApplication(ctx context.Context, actor domain.Actor, in service.SubmitApplicationInput) (domain.CourierProfile, error) {
	if err := guard(actor, policy.CourierApply); err != nil {
		return domain.CourierProfile{}, err
	}
	return c.couriers.Submit(ctx, actor, in)
}

// UploadDocument stores a credential for review.
func (c *Coordinator) UploadDocument(ctx context.Context, actor domain.Actor, in service.UploadDocumentInput) (domain.CourierDocument, error) {
	if err := guard(actor, policy.CourierApply); err != nil {
		return domain.CourierDocument{}, err
	}
	return c.couriers.UploadDocument(ctx, actor, in)
}

// SetAvailability puts the caller on or off duty.
func (c *Coordinator) SetAvailability(ctx context.Context, actor domain.Actor, available bool) (domain.CourierProfile, error) {
	if err := guard(actor, policy.CourierApply); err != nil {
		return domain.CourierProfile{}, err
	}
	return c.couriers.SetAvailability(ctx, actor, available)
}

// ReviewDocument approves or rejects a pending document.
func (c *Coordinator) ReviewDocument(ctx context.Context, actor domain.Actor, documentID uuid.UUID, decision domain.DocumentStatus, reason string) (service.ReviewResult, error) {
	if err := guard(actor, policy.CourierReview); err != nil {
		return service.ReviewResult{}, err
	}
	return c.couriers.ReviewDocument(ctx, actor, documentID, decision, reason)
}

// SuspendCourier takes a courier off dispatch.
func (c *Coordinator) SuspendCourier(ctx context.Context, actor domain.Actor, userID uuid.UUID, reason string) (domain.CourierProfile, error) {
	if err := guard(actor, policy.CourierSuspend); err != nil {
		return domain.CourierProfile{}, err
	}
	return c.couriers.Suspend(ctx, actor, userID, reason)
}

// ReinstateCourier lifts a suspension.
func (c *Coordinator) ReinstateCourier(ctx context.Context, actor domain.Actor, userID uuid.UUID) (domain.CourierProfile, error) {
	if err := guard(actor, policy.CourierSuspend); err != nil {
		return domain.CourierProfile{}, err
	}
	return c.couriers.Reinstate(ctx, actor, userID)
}

// GetCourier returns a profile with its documents.
func (c *Coordinator) GetCourier(ctx context.Context, actor domain.Actor, userID uuid.UUID) (CourierDetail, error) {
	if err := guard(actor, policy.CourierReadAll); err != nil {
		return CourierDetail{}, err
	}
	p, docs, err := c.couriers.GetProfile(ctx, userID)
	if err != nil {
		return CourierDetail{}, err
	}
	return CourierDetail{Profile: p, Documents: docs}, nil
}

// MyDocuments returns the calling courier's documents with review outcomes.
func (c *Coordinator) MyDocuments(ctx context.Context, actor domain.Actor) ([]domain.CourierDocument, error) {
	if err := guard(actor, policy.CourierApply); err != nil {
		return nil, err
	}
	return c.couriers.MyDocuments(ctx, actor)
}

// ListCouriers returns a filtered page of all courier profiles.
func (c *Coordinator) ListCouriers(ctx context.Context, actor domain.Actor, filter domain.CourierFilter, page domain.PaginationParams) ([]domain.CourierProfile, error) {
	if err := guard(actor, policy.CourierReadAll); err != nil {
		return nil, err
	}
	return c.couriers.ListCouriers(ctx, filter, page)
}

// PendingCouriers returns applications awaiting review.
func (c *Coordinator) PendingCouriers(ctx context.Context, actor domain.Actor) ([]domain.CourierProfile, error) {
	if err := guard(actor, policy.CourierReview); err != nil {
		return nil, err
	}
	return c.couriers.ListPendingCouriers(ctx)
}

// PendingDocuments returns the document review queue.
func (c *Coordinator) PendingDocuments(ctx context.Context, actor domain.Actor) ([]domain.CourierDocument, error) {
	if err := guard(actor, policy.CourierReview); err != nil {
		return nil, err
	}
	return c.couriers.ListPendingDocuments(ctx)
}

// ---- live positions --------------------------------------------------------

// ActiveAgents returns cached live positions, optionally of one kind.
func (c *Coordinator) ActiveAgents(_ context.Context, actor domain.Actor, kind *domain.AgentKind) ([]domain.LivePosition, error) {
	if err := guard(actor, policy.TrackingObserve); err != nil {
		return nil, err
	}
	return c.tracking.ListActive(kind), nil
}

// AgentPosition returns one agent's last known position.
func (c *Coordinator) AgentPosition(_ context.Context, actor domain.Actor, agentID uuid.UUID) (domain.LivePosition, error) {
	if err := guard(actor, policy.TrackingObserve); err != nil {
		return domain.LivePosition{}, err
	}
	return c.tracking.GetPosition(agentID)
}
