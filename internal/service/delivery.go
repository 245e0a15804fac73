package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/repo"
)

// DeliveryConfig holds the dispatch policy knobs.
type DeliveryConfig struct {
	// MaxActive is how many non-terminal deliveries one courier may hold.
	MaxActive int
	// AutoAccept moves an assignment straight to ACCEPTED.
	AutoAccept bool
	// RequireProof blocks COMPLETED until proof of delivery is attached.
	RequireProof bool
}

// CreateDeliveryInput is the dispatcher-supplied part of a new delivery.
type CreateDeliveryInput struct {
	OrderRef             string
	CustomerID           uuid.UUID
	Pickup               domain.Address
	Dropoff              domain.Address
	FeeCents             int64
	CourierEarningsCents int64
	TipCents             int64
}

// ProofInput is an uploaded proof-of-delivery artifact.
type ProofInput struct {
	Kind          domain.ProofKind
	ContentType   string
	Body          io.Reader
	RecipientName string
}

// DeliveryService implements the delivery state machine. Every status change
// and its DeliveryEvent are written in one transaction.
type DeliveryService struct {
	tx         repo.TxManager
	deliveries repo.DeliveryRepo
	events     repo.DeliveryEventRepo
	couriers   repo.CourierRepo
	blobs      BlobStore
	tracker    Tracker
	activity   ActivityLog
	cfg        DeliveryConfig
	now        func() time.Time
}

// NewDeliveryService constructs a DeliveryService. tracker and activity may be nil.
func NewDeliveryService(
	tx repo.TxManager,
	deliveries repo.DeliveryRepo,
	events repo.DeliveryEventRepo,
	couriers repo.CourierRepo,
	blobs BlobStore,
	tracker Tracker,
	activity ActivityLog,
	cfg DeliveryConfig,
) *DeliveryService {
	if tracker == nil {
		tracker = noopTracker{}
	}
	if activity == nil {
		activity = noopActivity{}
	}
	if cfg.MaxActive < 1 {
		cfg.MaxActive = 1
	}
	return &DeliveryService{
		tx: tx, deliveries: deliveries, events: events, couriers: couriers,
		blobs: blobs, tracker: tracker, activity: activity, cfg: cfg, now: time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *DeliveryService) SetClock(now func() time.Time) { s.now = now }

// Create records a new delivery in CREATED with no courier, plus its first event.
func (s *DeliveryService) Create(ctx context.Context, actor domain.Actor, in CreateDeliveryInput) (domain.Delivery, error) {
	if err := validateDelivery(in); err != nil {
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.Create: %w", err)
	}

	var created domain.Delivery
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.deliveries.Create(ctx, domain.Delivery{
			OrderRef:             strings.TrimSpace(in.OrderRef),
			CustomerID:           in.CustomerID,
			Pickup:               in.Pickup,
			Dropoff:              in.Dropoff,
			FeeCents:             in.FeeCents,
			CourierEarningsCents: in.CourierEarningsCents,
			TipCents:             in.TipCents,
			CreatedBy:            actor.UserID,
		})
		if err != nil {
			return err
		}
		if _, err := s.events.Append(ctx, domain.StatusEvent(d.ID, nil, domain.DeliveryCreated, actor, s.now())); err != nil {
			return err
		}
		created = d
		return nil
	})
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.Create: %w", err)
	}
	return created, nil
}

// Assign gives a CREATED delivery to a courier.
// Returns domain.ErrNotEligible unless the courier is APPROVED and
// domain.ErrConflict when the courier is already at capacity. The courier
// row lock taken here is the same one document review takes, so approval
// changes and assignments for one courier never interleave.
func (s *DeliveryService) Assign(ctx context.Context, actor domain.Actor, deliveryID, courierUserID uuid.UUID) (domain.Delivery, error) {
	var assigned domain.Delivery
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		profile, err := s.couriers.LockByUserID(ctx, courierUserID)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: user has no courier profile", domain.ErrNotEligible)
			}
			return err
		}
		if profile.Status != domain.CourierApproved {
			return fmt.Errorf("%w: courier is %s", domain.ErrNotEligible, profile.Status)
		}

		active, err := s.deliveries.CountActiveByCourier(ctx, courierUserID)
		if err != nil {
			return err
		}
		if active >= s.cfg.MaxActive {
			return fmt.Errorf("%w: courier already holds %d active deliveries", domain.ErrConflict, active)
		}

		target := domain.DeliveryOffered
		if s.cfg.AutoAccept {
			target = domain.DeliveryAccepted
		}
		now := s.now()
		d, err := s.deliveries.Assign(ctx, deliveryID, courierUserID, target, now)
		if err != nil {
			return err
		}

		from := domain.DeliveryCreated
		if _, err := s.events.Append(ctx, domain.StatusEvent(d.ID, &from, domain.DeliveryOffered, actor, now)); err != nil {
			return err
		}
		if target == domain.DeliveryAccepted {
			offered := domain.DeliveryOffered
			if _, err := s.events.Append(ctx, domain.StatusEvent(d.ID, &offered, domain.DeliveryAccepted, actor, now)); err != nil {
				return err
			}
		}
		assigned = d
		return nil
	})
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.Assign: %w", err)
	}

	record(ctx, s.activity, domain.ActivityDeliveryTransition, actor, assigned.ID, s.now(),
		fmt.Sprintf("Delivery assigned, now %s", assigned.Status),
		map[string]string{"courier_id": courierUserID.String(), "status": string(assigned.Status)})
	return assigned, nil
}

// UpdateStatus moves a delivery one step along its path.
// Out-of-order requests fail with domain.ErrInvalidTransition and leave the
// delivery untouched. OFFERED is only reached by Assign and CANCELED only by Cancel.
func (s *DeliveryService) UpdateStatus(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, next domain.DeliveryStatus, geo *domain.GeoPoint) (domain.Delivery, error) {
	if geo != nil {
		if err := geo.Validate(); err != nil {
			return domain.Delivery{}, fmt.Errorf("service.DeliveryService.UpdateStatus: %w", err)
		}
	}
	switch next {
	case domain.DeliveryOffered:
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.UpdateStatus: %w: use assignment to offer a delivery", domain.ErrInvalidTransition)
	case domain.DeliveryCanceled:
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.UpdateStatus: %w: use cancel to cancel a delivery", domain.ErrInvalidTransition)
	}

	var updated domain.Delivery
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.deliveries.Lock(ctx, deliveryID)
		if err != nil {
			return err
		}
		if err := canDrive(actor, d); err != nil {
			return err
		}
		if err := domain.CheckTransition(d.Status, next); err != nil {
			return err
		}
		if next == domain.DeliveryCompleted && s.cfg.RequireProof && d.Proof == nil {
			return fmt.Errorf("%w: proof of delivery is required before completion", domain.ErrPrecondition)
		}

		now := s.now()
		from := d.Status
		u, err := s.deliveries.Transition(ctx, d.ID, from, next, now, "")
		if err != nil {
			return err
		}
		e := domain.StatusEvent(d.ID, &from, next, actor, now)
		e.Location = geo
		if _, err := s.events.Append(ctx, e); err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.UpdateStatus: %w", err)
	}

	if updated.Status.Terminal() {
		s.tracker.EndTracking(updated.ID)
	}
	record(ctx, s.activity, domain.ActivityDeliveryTransition, actor, updated.ID, s.now(),
		fmt.Sprintf("Delivery is now %s", updated.Status),
		map[string]string{"status": string(updated.Status)})
	return updated, nil
}

// UpdateLocation publishes the assigned courier's position. It writes the
// live position store only; no DeliveryEvent is produced.
func (s *DeliveryService) UpdateLocation(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, loc domain.GeoPoint, capturedAt time.Time) (domain.LivePosition, bool, error) {
	if err := loc.Validate(); err != nil {
		return domain.LivePosition{}, false, fmt.Errorf("service.DeliveryService.UpdateLocation: %w", err)
	}
	d, err := s.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return domain.LivePosition{}, false, fmt.Errorf("service.DeliveryService.UpdateLocation: %w", err)
	}
	if d.CourierID == nil || *d.CourierID != actor.UserID {
		return domain.LivePosition{}, false, fmt.Errorf("service.DeliveryService.UpdateLocation: %w: only the assigned courier may report location", domain.ErrForbidden)
	}
	if d.Status.Terminal() {
		return domain.LivePosition{}, false, fmt.Errorf("service.DeliveryService.UpdateLocation: %w: delivery is %s", domain.ErrTerminalState, d.Status)
	}
	if capturedAt.IsZero() {
		capturedAt = s.now()
	}

	pos, applied := s.tracker.Ingest(ctx, domain.LivePosition{
		AgentID:      actor.UserID,
		Kind:         domain.AgentDelivery,
		CorrelatedID: d.ID,
		Lat:          loc.Lat,
		Lon:          loc.Lon,
		Accuracy:     loc.Accuracy,
		CapturedAt:   capturedAt,
	})
	return pos, applied, nil
}

// AddProof attaches proof of delivery. Only valid while AT_DROPOFF.
func (s *DeliveryService) AddProof(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, in ProofInput) (domain.Delivery, error) {
	if !in.Kind.Valid() {
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.AddProof: %w: unknown proof kind %q", domain.ErrValidation, in.Kind)
	}
	if in.Body == nil {
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.AddProof: %w: proof payload is required", domain.ErrValidation)
	}
	d, err := s.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.AddProof: %w", err)
	}
	if err := canDrive(actor, d); err != nil {
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.AddProof: %w", err)
	}
	if err := proofAllowed(d.Status); err != nil {
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.AddProof: %w", err)
	}

	key := fmt.Sprintf("deliveries/%s/proof-%s-%s", d.ID, strings.ToLower(string(in.Kind)), uuid.NewString())
	ref, err := s.blobs.Put(ctx, key, in.ContentType, in.Body)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.AddProof: store proof: %w", err)
	}

	var updated domain.Delivery
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.deliveries.SetProof(ctx, d.ID, domain.Proof{Kind: in.Kind, Ref: ref, RecipientName: strings.TrimSpace(in.RecipientName)})
		if err != nil {
			return err
		}
		status := u.Status
		if _, err := s.events.Append(ctx, domain.DeliveryEvent{
			DeliveryID: u.ID,
			Kind:       domain.EventProofAdded,
			FromStatus: &status,
			ToStatus:   status,
			ActorID:    actor.UserID,
			ActorRole:  actor.Role,
			OccurredAt: s.now(),
			ProofRef:   ref,
		}); err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.AddProof: %w", err)
	}
	return updated, nil
}

// AddNote appends a NOTE_ADDED event to a non-terminal delivery.
func (s *DeliveryService) AddNote(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, note string) (domain.DeliveryEvent, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return domain.DeliveryEvent{}, fmt.Errorf("service.DeliveryService.AddNote: %w: note is required", domain.ErrValidation)
	}

	var appended domain.DeliveryEvent
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.deliveries.Lock(ctx, deliveryID)
		if err != nil {
			return err
		}
		if d.Status.Terminal() {
			return fmt.Errorf("%w: delivery is %s", domain.ErrTerminalState, d.Status)
		}
		status := d.Status
		e, err := s.events.Append(ctx, domain.DeliveryEvent{
			DeliveryID: d.ID,
			Kind:       domain.EventNoteAdded,
			FromStatus: &status,
			ToStatus:   status,
			ActorID:    actor.UserID,
			ActorRole:  actor.Role,
			OccurredAt: s.now(),
			Note:       note,
		})
		appended = e
		return err
	})
	if err != nil {
		return domain.DeliveryEvent{}, fmt.Errorf("service.DeliveryService.AddNote: %w", err)
	}
	return appended, nil
}

// Cancel moves a non-terminal delivery to CANCELED with a reason.
func (s *DeliveryService) Cancel(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, reason string) (domain.Delivery, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.Cancel: %w: reason is required", domain.ErrValidation)
	}

	var canceled domain.Delivery
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.deliveries.Lock(ctx, deliveryID)
		if err != nil {
			return err
		}
		if err := domain.CheckTransition(d.Status, domain.DeliveryCanceled); err != nil {
			return err
		}

		now := s.now()
		from := d.Status
		u, err := s.deliveries.Transition(ctx, d.ID, from, domain.DeliveryCanceled, now, reason)
		if err != nil {
			return err
		}
		e := domain.StatusEvent(d.ID, &from, domain.DeliveryCanceled, actor, now)
		e.Note = reason
		if _, err := s.events.Append(ctx, e); err != nil {
			return err
		}
		canceled = u
		return nil
	})
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.Cancel: %w", err)
	}

	s.tracker.EndTracking(canceled.ID)
	record(ctx, s.activity, domain.ActivityDeliveryTransition, actor, canceled.ID, s.now(),
		"Delivery canceled: "+reason, map[string]string{"status": string(domain.DeliveryCanceled)})
	return canceled, nil
}

// GetByID returns a single delivery.
func (s *DeliveryService) GetByID(ctx context.Context, id uuid.UUID) (domain.Delivery, error) {
	d, err := s.deliveries.GetByID(ctx, id)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("service.DeliveryService.GetByID: %w", err)
	}
	return d, nil
}

// History returns the delivery's events in append order.
func (s *DeliveryService) History(ctx context.Context, id uuid.UUID) ([]domain.DeliveryEvent, error) {
	events, err := s.events.ListByDelivery(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service.DeliveryService.History: %w", err)
	}
	if events == nil {
		return []domain.DeliveryEvent{}, nil
	}
	return events, nil
}

// List returns deliveries matching filter. Always returns a non-nil slice.
func (s *DeliveryService) List(ctx context.Context, filter domain.DeliveryFilter, page domain.PaginationParams) ([]domain.Delivery, error) {
	out, err := s.deliveries.List(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("service.DeliveryService.List: %w", err)
	}
	if out == nil {
		return []domain.Delivery{}, nil
	}
	return out, nil
}

// canDrive allows the assigned courier and dispatch staff to move a delivery.
func canDrive(actor domain.Actor, d domain.Delivery) error {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleDispatcher:
		return nil
	}
	if d.CourierID != nil && *d.CourierID == actor.UserID {
		return nil
	}
	return fmt.Errorf("%w: delivery is not assigned to you", domain.ErrForbidden)
}

func proofAllowed(status domain.DeliveryStatus) error {
	switch {
	case status == domain.DeliveryAtDropoff:
		return nil
	case status.Terminal():
		return fmt.Errorf("%w: delivery is %s", domain.ErrTerminalState, status)
	default:
		return fmt.Errorf("%w: proof can only be added at dropoff, delivery is %s", domain.ErrInvalidState, status)
	}
}

func validateDelivery(in CreateDeliveryInput) error {
	if in.CustomerID == uuid.Nil {
		return fmt.Errorf("%w: customer_id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(in.Pickup.Line) == "" || strings.TrimSpace(in.Dropoff.Line) == "" {
		return fmt.Errorf("%w: pickup and dropoff addresses are required", domain.ErrValidation)
	}
	for _, a := range []domain.Address{in.Pickup, in.Dropoff} {
		if (a.Lat == nil) != (a.Lon == nil) {
			return fmt.Errorf("%w: address coordinates need both lat and lon", domain.ErrValidation)
		}
		if a.Lat != nil {
			if err := (domain.GeoPoint{Lat: *a.Lat, Lon: *a.Lon}).Validate(); err != nil {
				return err
			}
		}
	}
	if in.FeeCents < 0 || in.CourierEarningsCents < 0 || in.TipCents < 0 {
		return fmt.Errorf("%w: amounts must not be negative", domain.ErrValidation)
	}
	return nil
}
