package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/fieldops/internal/domain"
)

// VisitRepo defines the persistence operations for Visits.
type VisitRepo interface {
	// Create inserts a visit only while its trip is IN_PROGRESS.
	// Returns domain.ErrPrecondition for a closed trip, domain.ErrNotFound for a missing one.
	Create(ctx context.Context, v domain.Visit) (domain.Visit, error)

	// GetByID retrieves a single visit. Returns domain.ErrNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Visit, error)

	// ListByTrip returns a trip's visits in creation order.
	ListByTrip(ctx context.Context, tripID uuid.UUID) ([]domain.Visit, error)

	// Transition writes v's status and visit fields if the stored status is
	// still from. With requireOpenTrip the parent trip must also be IN_PROGRESS.
	// Returns domain.ErrInvalidTransition when the visit moved concurrently and
	// domain.ErrPrecondition when the trip closed.
	Transition(ctx context.Context, v domain.Visit, from domain.VisitStatus, requireOpenTrip bool) (domain.Visit, error)
}

type pgVisitRepo struct {
	db db
}

// NewVisitRepo constructs a VisitRepo backed by the provided db connection.
func NewVisitRepo(db db) VisitRepo {
	return &pgVisitRepo{db: db}
}

const visitColumns = `id, trip_id, customer_id, status, check_in_at, check_out_at, duration_minutes,
	lat, lon, accuracy, summary, outcome, media, created_at, updated_at`

// Create inserts the visit in one statement guarded by the trip status.
func (r *pgVisitRepo) Create(ctx context.Context, v domain.Visit) (domain.Visit, error) {
	q := `
		INSERT INTO visits (trip_id, customer_id, status, check_in_at, check_out_at, duration_minutes,
		                    lat, lon, accuracy, summary, outcome, media)
		SELECT t.id, @customer_id, @status, @check_in_at, @check_out_at, @duration_minutes,
		       @lat, @lon, @accuracy, @summary, @outcome, @media
		FROM trips t
		WHERE t.id = @trip_id AND t.status = 'IN_PROGRESS'
		RETURNING ` + visitColumns

	args := visitArgs(v)
	args["trip_id"] = v.TripID
	args["customer_id"] = v.CustomerID

	result, err := scanVisit(conn(ctx, r.db).QueryRow(ctx, q, args))
	if errors.Is(err, domain.ErrNotFound) {
		err = tripMiss(ctx, conn(ctx, r.db), v.TripID, domain.ErrPrecondition)
	}
	if err != nil {
		return domain.Visit{}, fmt.Errorf("repo.VisitRepo.Create: %w", err)
	}
	return result, nil
}

// GetByID retrieves a visit by primary key.
func (r *pgVisitRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Visit, error) {
	q := `SELECT ` + visitColumns + ` FROM visits WHERE id = @id`

	result, err := scanVisit(conn(ctx, r.db).QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Visit{}, fmt.Errorf("repo.VisitRepo.GetByID: %w", err)
	}
	return result, nil
}

// ListByTrip returns visits ordered by created_at ascending.
func (r *pgVisitRepo) ListByTrip(ctx context.Context, tripID uuid.UUID) ([]domain.Visit, error) {
	q := `SELECT ` + visitColumns + ` FROM visits WHERE trip_id = @trip_id ORDER BY created_at`

	rows, err := conn(ctx, r.db).Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.VisitRepo.ListByTrip: %w", err)
	}
	defer rows.Close()

	out := []domain.Visit{}
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.VisitRepo.ListByTrip: scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.VisitRepo.ListByTrip: rows: %w", err)
	}
	return out, nil
}

// Transition performs a conditional update keyed on the previous status.
func (r *pgVisitRepo) Transition(ctx context.Context, v domain.Visit, from domain.VisitStatus, requireOpenTrip bool) (domain.Visit, error) {
	q := `
		UPDATE visits
		SET status           = @status,
		    check_in_at      = @check_in_at,
		    check_out_at     = @check_out_at,
		    duration_minutes = @duration_minutes,
		    lat              = @lat,
		    lon              = @lon,
		    accuracy         = @accuracy,
		    summary          = @summary,
		    outcome          = @outcome,
		    media            = @media,
		    updated_at       = now()
		WHERE id = @id AND status = @from
		  AND (NOT @require_open OR EXISTS (
		        SELECT 1 FROM trips t WHERE t.id = visits.trip_id AND t.status = 'IN_PROGRESS'))
		RETURNING ` + visitColumns

	args := visitArgs(v)
	args["id"] = v.ID
	args["from"] = string(from)
	args["require_open"] = requireOpenTrip

	result, err := scanVisit(conn(ctx, r.db).QueryRow(ctx, q, args))
	if errors.Is(err, domain.ErrNotFound) {
		err = r.explainMiss(ctx, v.ID, from)
	}
	if err != nil {
		return domain.Visit{}, fmt.Errorf("repo.VisitRepo.Transition: %w", err)
	}
	return result, nil
}

func (r *pgVisitRepo) explainMiss(ctx context.Context, id uuid.UUID, from domain.VisitStatus) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return domain.ErrNotFound
	}
	if current.Status != from {
		return fmt.Errorf("%w: visit is %s", domain.ErrInvalidTransition, current.Status)
	}
	return fmt.Errorf("%w: trip is no longer in progress", domain.ErrPrecondition)
}

func visitArgs(v domain.Visit) pgx.NamedArgs {
	media := v.Media
	if media == nil {
		media = []string{}
	}
	args := pgx.NamedArgs{
		"status":           string(v.Status),
		"check_in_at":      v.CheckInAt,
		"check_out_at":     v.CheckOutAt,
		"duration_minutes": v.DurationMinutes,
		"summary":          v.Summary,
		"outcome":          v.Outcome,
		"media":            media,
		"lat":              nil,
		"lon":              nil,
		"accuracy":         nil,
	}
	if v.Location != nil {
		args["lat"] = v.Location.Lat
		args["lon"] = v.Location.Lon
		args["accuracy"] = v.Location.Accuracy
	}
	return args
}

func scanVisit(s scanner) (domain.Visit, error) {
	var (
		v                    domain.Visit
		id, tripID, customer pgtype.UUID
		status               string
		lat, lon, acc        *float64
	)
	err := s.Scan(
		&id, &tripID, &customer, &status, &v.CheckInAt, &v.CheckOutAt, &v.DurationMinutes,
		&lat, &lon, &acc, &v.Summary, &v.Outcome, &v.Media, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return domain.Visit{}, noRows(err, domain.ErrNotFound)
	}
	v.ID = uuid.UUID(id.Bytes)
	v.TripID = uuid.UUID(tripID.Bytes)
	v.CustomerID = uuid.UUID(customer.Bytes)
	v.Status = domain.VisitStatus(status)
	if lat != nil && lon != nil {
		v.Location = &domain.GeoPoint{Lat: *lat, Lon: *lon, Accuracy: acc}
	}
	return v, nil
}
