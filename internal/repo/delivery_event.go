package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/fieldops/internal/domain"
)

// DeliveryEventRepo is the append-only audit trail of a delivery.
// There is deliberately no update or delete; the table rejects both.
type DeliveryEventRepo interface {
	// Append stores e with the next seq for its delivery. Callers append in the
	// same transaction as the delivery row write they record.
	Append(ctx context.Context, e domain.DeliveryEvent) (domain.DeliveryEvent, error)

	// ListByDelivery returns the full history ordered by seq.
	ListByDelivery(ctx context.Context, deliveryID uuid.UUID) ([]domain.DeliveryEvent, error)
}

type pgDeliveryEventRepo struct {
	db db
}

// NewDeliveryEventRepo constructs a DeliveryEventRepo backed by the provided db connection.
func NewDeliveryEventRepo(db db) DeliveryEventRepo {
	return &pgDeliveryEventRepo{db: db}
}

const deliveryEventColumns = `id, delivery_id, seq, kind, from_status, to_status, actor_id, actor_role,
	occurred_at, lat, lon, accuracy, proof_ref, note`

// Append inserts the event. seq is computed in the same statement; the
// (delivery_id, seq) unique key rejects a concurrent duplicate.
func (r *pgDeliveryEventRepo) Append(ctx context.Context, e domain.DeliveryEvent) (domain.DeliveryEvent, error) {
	q := `
		INSERT INTO delivery_events (delivery_id, seq, kind, from_status, to_status, actor_id, actor_role,
		                             occurred_at, lat, lon, accuracy, proof_ref, note)
		VALUES (@delivery_id,
		        (SELECT COALESCE(MAX(seq), 0) + 1 FROM delivery_events WHERE delivery_id = @delivery_id),
		        @kind, @from_status, @to_status, @actor_id, @actor_role,
		        @occurred_at, @lat, @lon, @accuracy, @proof_ref, @note)
		RETURNING ` + deliveryEventColumns

	var from *string
	if e.FromStatus != nil {
		s := string(*e.FromStatus)
		from = &s
	}
	args := pgx.NamedArgs{
		"delivery_id": e.DeliveryID,
		"kind":        string(e.Kind),
		"from_status": from,
		"to_status":   string(e.ToStatus),
		"actor_id":    e.ActorID,
		"actor_role":  string(e.ActorRole),
		"occurred_at": e.OccurredAt,
		"proof_ref":   e.ProofRef,
		"note":        e.Note,
		"lat":         nil,
		"lon":         nil,
		"accuracy":    nil,
	}
	if e.Location != nil {
		args["lat"] = e.Location.Lat
		args["lon"] = e.Location.Lon
		args["accuracy"] = e.Location.Accuracy
	}

	result, err := scanDeliveryEvent(conn(ctx, r.db).QueryRow(ctx, q, args))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.DeliveryEvent{}, fmt.Errorf("repo.DeliveryEventRepo.Append: %w: concurrent event append", domain.ErrConflict)
		}
		return domain.DeliveryEvent{}, fmt.Errorf("repo.DeliveryEventRepo.Append: %w", err)
	}
	return result, nil
}

// ListByDelivery returns the history in append order.
func (r *pgDeliveryEventRepo) ListByDelivery(ctx context.Context, deliveryID uuid.UUID) ([]domain.DeliveryEvent, error) {
	q := `SELECT ` + deliveryEventColumns + ` FROM delivery_events WHERE delivery_id = @delivery_id ORDER BY seq`

	rows, err := conn(ctx, r.db).Query(ctx, q, pgx.NamedArgs{"delivery_id": deliveryID})
	if err != nil {
		return nil, fmt.Errorf("repo.DeliveryEventRepo.ListByDelivery: %w", err)
	}
	defer rows.Close()

	out := []domain.DeliveryEvent{}
	for rows.Next() {
		e, err := scanDeliveryEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.DeliveryEventRepo.ListByDelivery: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.DeliveryEventRepo.ListByDelivery: rows: %w", err)
	}
	return out, nil
}

func scanDeliveryEvent(s scanner) (domain.DeliveryEvent, error) {
	var (
		e                  domain.DeliveryEvent
		id, deliveryID     pgtype.UUID
		actor              pgtype.UUID
		kind, to, role     string
		from               *string
		lat, lon, accuracy *float64
	)
	err := s.Scan(&id, &deliveryID, &e.Seq, &kind, &from, &to, &actor, &role,
		&e.OccurredAt, &lat, &lon, &accuracy, &e.ProofRef, &e.Note)
	if err != nil {
		return domain.DeliveryEvent{}, noRows(err, domain.ErrNotFound)
	}
	e.ID = uuid.UUID(id.Bytes)
	e.DeliveryID = uuid.UUID(deliveryID.Bytes)
	e.ActorID = uuid.UUID(actor.Bytes)
	e.Kind = domain.DeliveryEventKind(kind)
	e.ToStatus = domain.DeliveryStatus(to)
	e.ActorRole = domain.Role(role)
	if from != nil {
		fs := domain.DeliveryStatus(*from)
		e.FromStatus = &fs
	}
	if lat != nil && lon != nil {
		e.Location = &domain.GeoPoint{Lat: *lat, Lon: *lon, Accuracy: accuracy}
	}
	return e, nil
}
