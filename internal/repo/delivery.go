package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/fieldops/internal/domain"
)

// DeliveryRepo defines the persistence operations for Deliveries.
// Every status change is a conditional update on the previous status, so two
// concurrent writers cannot both apply a transition from the same state.
type DeliveryRepo interface {
	Create(ctx context.Context, d domain.Delivery) (domain.Delivery, error)

	// GetByID retrieves a single delivery. Returns domain.ErrNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Delivery, error)

	// Lock retrieves a delivery with a row lock held until the surrounding
	// transaction ends. Outside a transaction it behaves like GetByID.
	Lock(ctx context.Context, id uuid.UUID) (domain.Delivery, error)

	// List returns deliveries matching filter, newest first.
	List(ctx context.Context, filter domain.DeliveryFilter, page domain.PaginationParams) ([]domain.Delivery, error)

	// Assign sets the courier on an unassigned CREATED delivery and moves it to status.
	Assign(ctx context.Context, id, courierID uuid.UUID, status domain.DeliveryStatus, at time.Time) (domain.Delivery, error)

	// Transition moves a delivery from → to, stamping the matching timestamp.
	// Returns domain.ErrTerminalState or domain.ErrInvalidTransition when the
	// stored status is no longer from.
	Transition(ctx context.Context, id uuid.UUID, from, to domain.DeliveryStatus, at time.Time, cancelReason string) (domain.Delivery, error)

	// SetProof attaches proof of delivery while the delivery is AT_DROPOFF.
	SetProof(ctx context.Context, id uuid.UUID, proof domain.Proof) (domain.Delivery, error)

	// CountActiveByCourier counts the courier's non-terminal deliveries.
	CountActiveByCourier(ctx context.Context, courierID uuid.UUID) (int, error)
}

type pgDeliveryRepo struct {
	db db
}

// NewDeliveryRepo constructs a DeliveryRepo backed by the provided db connection.
func NewDeliveryRepo(db db) DeliveryRepo {
	return &pgDeliveryRepo{db: db}
}

const deliveryColumns = `id, order_ref, customer_id, courier_id, status,
	pickup_line, pickup_lat, pickup_lon, dropoff_line, dropoff_lat, dropoff_lon,
	fee_cents, courier_earnings_cents, tip_cents,
	proof_kind, proof_ref, recipient_name, cancel_reason, created_by,
	offered_at, accepted_at, picked_up_at, completed_at, canceled_at,
	created_at, updated_at`

// Create inserts a new CREATED delivery.
func (r *pgDeliveryRepo) Create(ctx context.Context, d domain.Delivery) (domain.Delivery, error) {
	q := `
		INSERT INTO deliveries (order_ref, customer_id, status,
		                        pickup_line, pickup_lat, pickup_lon, dropoff_line, dropoff_lat, dropoff_lon,
		                        fee_cents, courier_earnings_cents, tip_cents, created_by)
		VALUES (@order_ref, @customer_id, 'CREATED',
		        @pickup_line, @pickup_lat, @pickup_lon, @dropoff_line, @dropoff_lat, @dropoff_lon,
		        @fee_cents, @courier_earnings_cents, @tip_cents, @created_by)
		RETURNING ` + deliveryColumns

	args := pgx.NamedArgs{
		"order_ref":              d.OrderRef,
		"customer_id":            d.CustomerID,
		"pickup_line":            d.Pickup.Line,
		"pickup_lat":             d.Pickup.Lat,
		"pickup_lon":             d.Pickup.Lon,
		"dropoff_line":           d.Dropoff.Line,
		"dropoff_lat":            d.Dropoff.Lat,
		"dropoff_lon":            d.Dropoff.Lon,
		"fee_cents":              d.FeeCents,
		"courier_earnings_cents": d.CourierEarningsCents,
		"tip_cents":              d.TipCents,
		"created_by":             d.CreatedBy,
	}

	result, err := scanDelivery(conn(ctx, r.db).QueryRow(ctx, q, args))
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("repo.DeliveryRepo.Create: %w", err)
	}
	return result, nil
}

// GetByID retrieves a delivery by primary key.
func (r *pgDeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Delivery, error) {
	q := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id = @id`

	result, err := scanDelivery(conn(ctx, r.db).QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("repo.DeliveryRepo.GetByID: %w", err)
	}
	return result, nil
}

// Lock retrieves a delivery FOR UPDATE.
func (r *pgDeliveryRepo) Lock(ctx context.Context, id uuid.UUID) (domain.Delivery, error) {
	q := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id = @id FOR UPDATE`

	result, err := scanDelivery(conn(ctx, r.db).QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("repo.DeliveryRepo.Lock: %w", err)
	}
	return result, nil
}

// List returns deliveries ordered by created_at descending.
func (r *pgDeliveryRepo) List(ctx context.Context, filter domain.DeliveryFilter, page domain.PaginationParams) ([]domain.Delivery, error) {
	q := `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE (@status::text IS NULL OR status = @status)
		  AND (@courier_id::uuid IS NULL OR courier_id = @courier_id)
		ORDER BY created_at DESC
		LIMIT @limit OFFSET @offset`

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	args := pgx.NamedArgs{
		"status":     status,
		"courier_id": filter.CourierID,
		"limit":      page.Limit,
		"offset":     page.Offset(),
	}

	rows, err := conn(ctx, r.db).Query(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("repo.DeliveryRepo.List: %w", err)
	}
	defer rows.Close()

	out := []domain.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.DeliveryRepo.List: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.DeliveryRepo.List: rows: %w", err)
	}
	return out, nil
}

// Assign claims an unassigned CREATED delivery for the courier.
func (r *pgDeliveryRepo) Assign(ctx context.Context, id, courierID uuid.UUID, status domain.DeliveryStatus, at time.Time) (domain.Delivery, error) {
	q := `
		UPDATE deliveries
		SET courier_id  = @courier_id,
		    status      = @status,
		    offered_at  = @at,
		    accepted_at = CASE WHEN @status = 'ACCEPTED' THEN @at ELSE NULL END,
		    updated_at  = now()
		WHERE id = @id AND status = 'CREATED' AND courier_id IS NULL
		RETURNING ` + deliveryColumns

	args := pgx.NamedArgs{"id": id, "courier_id": courierID, "status": string(status), "at": at}

	result, err := scanDelivery(conn(ctx, r.db).QueryRow(ctx, q, args))
	if errors.Is(err, domain.ErrNotFound) {
		err = r.explainMiss(ctx, id)
	}
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("repo.DeliveryRepo.Assign: %w", err)
	}
	return result, nil
}

// transitionStamp names the timestamp column stamped on entering a status.
var transitionStamp = map[domain.DeliveryStatus]string{
	domain.DeliveryOffered:   "offered_at",
	domain.DeliveryAccepted:  "accepted_at",
	domain.DeliveryPickedUp:  "picked_up_at",
	domain.DeliveryCompleted: "completed_at",
	domain.DeliveryCanceled:  "canceled_at",
}

// Transition applies from → to only if the stored status still equals from.
func (r *pgDeliveryRepo) Transition(ctx context.Context, id uuid.UUID, from, to domain.DeliveryStatus, at time.Time, cancelReason string) (domain.Delivery, error) {
	stamp := ""
	if col, ok := transitionStamp[to]; ok {
		stamp = col + " = @at,"
	}
	q := `
		UPDATE deliveries
		SET status = @to, ` + stamp + `
		    cancel_reason = CASE WHEN @to = 'CANCELED' THEN @cancel_reason ELSE cancel_reason END,
		    updated_at = now()
		WHERE id = @id AND status = @from
		RETURNING ` + deliveryColumns

	args := pgx.NamedArgs{
		"id":            id,
		"from":          string(from),
		"to":            string(to),
		"at":            at,
		"cancel_reason": cancelReason,
	}

	result, err := scanDelivery(conn(ctx, r.db).QueryRow(ctx, q, args))
	if errors.Is(err, domain.ErrNotFound) {
		err = r.explainMiss(ctx, id)
	}
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("repo.DeliveryRepo.Transition: %w", err)
	}
	return result, nil
}

// SetProof attaches proof while the delivery is AT_DROPOFF.
func (r *pgDeliveryRepo) SetProof(ctx context.Context, id uuid.UUID, proof domain.Proof) (domain.Delivery, error) {
	q := `
		UPDATE deliveries
		SET proof_kind = @kind, proof_ref = @ref, recipient_name = @recipient, updated_at = now()
		WHERE id = @id AND status = 'AT_DROPOFF'
		RETURNING ` + deliveryColumns

	args := pgx.NamedArgs{"id": id, "kind": string(proof.Kind), "ref": proof.Ref, "recipient": proof.RecipientName}

	result, err := scanDelivery(conn(ctx, r.db).QueryRow(ctx, q, args))
	if errors.Is(err, domain.ErrNotFound) {
		err = r.explainMiss(ctx, id)
	}
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("repo.DeliveryRepo.SetProof: %w", err)
	}
	return result, nil
}

// CountActiveByCourier counts deliveries the courier holds that are not yet terminal.
func (r *pgDeliveryRepo) CountActiveByCourier(ctx context.Context, courierID uuid.UUID) (int, error) {
	const q = `
		SELECT count(*) FROM deliveries
		WHERE courier_id = @courier_id AND status NOT IN ('COMPLETED', 'CANCELED')`

	var n int
	if err := conn(ctx, r.db).QueryRow(ctx, q, pgx.NamedArgs{"courier_id": courierID}).Scan(&n); err != nil {
		return 0, fmt.Errorf("repo.DeliveryRepo.CountActiveByCourier: %w", err)
	}
	return n, nil
}

// explainMiss classifies a conditional write that matched no row.
func (r *pgDeliveryRepo) explainMiss(ctx context.Context, id uuid.UUID) error {
	var status string
	err := conn(ctx, r.db).QueryRow(ctx, `SELECT status FROM deliveries WHERE id = @id`, pgx.NamedArgs{"id": id}).Scan(&status)
	if err != nil {
		return noRows(err, domain.ErrNotFound)
	}
	if domain.DeliveryStatus(status).Terminal() {
		return fmt.Errorf("%w: delivery is %s", domain.ErrTerminalState, status)
	}
	return fmt.Errorf("%w: delivery is %s", domain.ErrInvalidTransition, status)
}

func scanDelivery(s scanner) (domain.Delivery, error) {
	var (
		d                   domain.Delivery
		id, customer        pgtype.UUID
		courier, createdBy  pgtype.UUID
		status              string
		proofKind, proofRef *string
		recipient           string
	)
	err := s.Scan(
		&id, &d.OrderRef, &customer, &courier, &status,
		&d.Pickup.Line, &d.Pickup.Lat, &d.Pickup.Lon, &d.Dropoff.Line, &d.Dropoff.Lat, &d.Dropoff.Lon,
		&d.FeeCents, &d.CourierEarningsCents, &d.TipCents,
		&proofKind, &proofRef, &recipient, &d.CancelReason, &createdBy,
		&d.OfferedAt, &d.AcceptedAt, &d.PickedUpAt, &d.CompletedAt, &d.CanceledAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return domain.Delivery{}, noRows(err, domain.ErrNotFound)
	}
	d.ID = uuid.UUID(id.Bytes)
	d.CustomerID = uuid.UUID(customer.Bytes)
	d.CourierID = uuidPtr(courier)
	d.CreatedBy = uuid.UUID(createdBy.Bytes)
	d.Status = domain.DeliveryStatus(status)
	if proofKind != nil && proofRef != nil {
		d.Proof = &domain.Proof{Kind: domain.ProofKind(*proofKind), Ref: *proofRef, RecipientName: recipient}
	}
	return d, nil
}
