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

// TripRepo defines the persistence operations for Trips.
// The service layer depends on this interface, not the concrete Postgres implementation,
// which allows the service to be unit-tested with a mock or the in-memory store.
type TripRepo interface {
	// Create inserts a new IN_PROGRESS trip. Returns domain.ErrConflict if the
	// owner already has one; the unique partial index decides, not a prior read.
	Create(ctx context.Context, trip domain.Trip) (domain.Trip, error)

	// GetByID retrieves a single trip by its UUID primary key.
	// Returns domain.ErrNotFound if no trip with that ID exists.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error)

	// GetActiveByOwner returns the owner's IN_PROGRESS trip or domain.ErrNotFound.
	GetActiveByOwner(ctx context.Context, ownerID uuid.UUID) (domain.Trip, error)

	// List returns trips matching filter ordered by start_time descending.
	List(ctx context.Context, filter domain.TripFilter, page domain.PaginationParams) ([]domain.Trip, error)

	// Complete closes an IN_PROGRESS trip. Returns domain.ErrInvalidState when
	// the trip is already completed and domain.ErrNotFound when it does not exist.
	Complete(ctx context.Context, id uuid.UUID, c domain.TripCompletion) (domain.Trip, error)

	// RecoverStale completes every IN_PROGRESS trip started at or before cutoff
	// with end_time = now and reason RECOVERY, returning the trips it closed.
	RecoverStale(ctx context.Context, cutoff, now time.Time) ([]domain.Trip, error)

	// MarkValidated sets the validation fields of a COMPLETED, not yet validated trip.
	MarkValidated(ctx context.Context, id, by uuid.UUID, at time.Time, notes string) (domain.Trip, error)

	// MarkReimbursed sets the reimbursement fields of a validated, not yet reimbursed trip.
	MarkReimbursed(ctx context.Context, id, by uuid.UUID, at time.Time) (domain.Trip, error)
}

// pgTripRepo is the Postgres implementation of TripRepo.
type pgTripRepo struct {
	db db
}

// NewTripRepo constructs a TripRepo backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewTripRepo(db db) TripRepo {
	return &pgTripRepo{db: db}
}

const tripColumns = `id, owner_id, status, start_time, end_time,
	start_lat, start_lon, start_accuracy, end_lat, end_lon, end_accuracy,
	purpose, vehicle_label, start_odometer_km, end_odometer_km,
	completion_reason, distance_km, duration_minutes, mileage_rate, total_cost,
	validated_by, validated_at, reimbursed_by, reimbursed_at, admin_notes,
	created_at, updated_at`

// Create inserts a new trip row and returns the full persisted record.
func (r *pgTripRepo) Create(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	q := `
		INSERT INTO trips (owner_id, status, start_time, start_lat, start_lon, start_accuracy,
		                   purpose, vehicle_label, start_odometer_km, mileage_rate)
		VALUES (@owner_id, 'IN_PROGRESS', @start_time, @start_lat, @start_lon, @start_accuracy,
		        @purpose, @vehicle_label, @start_odometer_km, @mileage_rate)
		RETURNING ` + tripColumns

	args := pgx.NamedArgs{
		"owner_id":          trip.OwnerID,
		"start_time":        trip.StartTime,
		"start_lat":         trip.StartLocation.Lat,
		"start_lon":         trip.StartLocation.Lon,
		"start_accuracy":    trip.StartLocation.Accuracy, // nil becomes NULL
		"purpose":           trip.Purpose,
		"vehicle_label":     trip.VehicleLabel,
		"start_odometer_km": trip.StartOdometerKm,
		"mileage_rate":      trip.MileageRate,
	}

	result, err := scanTrip(conn(ctx, r.db).QueryRow(ctx, q, args))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Trip{}, fmt.Errorf("repo.TripRepo.Create: %w: owner already has a trip in progress", domain.ErrConflict)
		}
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Create: %w", err)
	}
	return result, nil
}

// GetByID retrieves a trip by primary key.
func (r *pgTripRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	q := `SELECT ` + tripColumns + ` FROM trips WHERE id = @id`

	result, err := scanTrip(conn(ctx, r.db).QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.GetByID: %w", err)
	}
	return result, nil
}

// GetActiveByOwner retrieves the owner's open trip.
func (r *pgTripRepo) GetActiveByOwner(ctx context.Context, ownerID uuid.UUID) (domain.Trip, error) {
	q := `SELECT ` + tripColumns + ` FROM trips WHERE owner_id = @owner_id AND status = 'IN_PROGRESS'`

	result, err := scanTrip(conn(ctx, r.db).QueryRow(ctx, q, pgx.NamedArgs{"owner_id": ownerID}))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.GetActiveByOwner: %w", err)
	}
	return result, nil
}

// List returns trips ordered by start_time descending (most recent first).
func (r *pgTripRepo) List(ctx context.Context, filter domain.TripFilter, page domain.PaginationParams) ([]domain.Trip, error) {
	q := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE (@owner_id::uuid IS NULL OR owner_id = @owner_id)
		  AND (@status::text IS NULL OR status = @status)
		ORDER BY start_time DESC
		LIMIT @limit OFFSET @offset`

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	args := pgx.NamedArgs{
		"owner_id": filter.OwnerID,
		"status":   status,
		"limit":    page.Limit,
		"offset":   page.Offset(),
	}

	rows, err := conn(ctx, r.db).Query(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.List: %w", err)
	}
	trips, err := collectTrips(rows)
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.List: %w", err)
	}
	return trips, nil
}

// Complete closes the trip only if it is still IN_PROGRESS.
func (r *pgTripRepo) Complete(ctx context.Context, id uuid.UUID, c domain.TripCompletion) (domain.Trip, error) {
	q := `
		UPDATE trips
		SET status            = 'COMPLETED',
		    end_time          = @end_time,
		    end_lat           = @end_lat,
		    end_lon           = @end_lon,
		    end_accuracy      = @end_accuracy,
		    end_odometer_km   = @end_odometer_km,
		    distance_km       = @distance_km,
		    duration_minutes  = @duration_minutes,
		    total_cost        = @total_cost,
		    completion_reason = @reason,
		    updated_at        = now()
		WHERE id = @id AND status = 'IN_PROGRESS'
		RETURNING ` + tripColumns

	args := pgx.NamedArgs{
		"id":               id,
		"end_time":         c.EndTime,
		"end_odometer_km":  c.EndOdometerKm,
		"distance_km":      c.DistanceKm,
		"duration_minutes": c.DurationMinutes,
		"total_cost":       c.TotalCost,
		"reason":           string(c.Reason),
		"end_lat":          nil,
		"end_lon":          nil,
		"end_accuracy":     nil,
	}
	if c.EndLocation != nil {
		args["end_lat"] = c.EndLocation.Lat
		args["end_lon"] = c.EndLocation.Lon
		args["end_accuracy"] = c.EndLocation.Accuracy
	}

	result, err := scanTrip(conn(ctx, r.db).QueryRow(ctx, q, args))
	if errors.Is(err, domain.ErrNotFound) {
		err = r.explainMiss(ctx, id, domain.ErrInvalidState, "trip is already completed")
	}
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Complete: %w", err)
	}
	return result, nil
}

// RecoverStale force-completes abandoned trips in a single conditional update.
func (r *pgTripRepo) RecoverStale(ctx context.Context, cutoff, now time.Time) ([]domain.Trip, error) {
	q := `
		UPDATE trips
		SET status            = 'COMPLETED',
		    end_time          = @now,
		    completion_reason = 'RECOVERY',
		    duration_minutes  = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM (@now - start_time)) / 60))::int,
		    updated_at        = now()
		WHERE status = 'IN_PROGRESS' AND start_time <= @cutoff
		RETURNING ` + tripColumns

	rows, err := conn(ctx, r.db).Query(ctx, q, pgx.NamedArgs{"now": now, "cutoff": cutoff})
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.RecoverStale: %w", err)
	}
	trips, err := collectTrips(rows)
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.RecoverStale: %w", err)
	}
	return trips, nil
}

// MarkValidated records an administrative validation on a completed trip.
func (r *pgTripRepo) MarkValidated(ctx context.Context, id, by uuid.UUID, at time.Time, notes string) (domain.Trip, error) {
	q := `
		UPDATE trips
		SET validated_by = @by, validated_at = @at, admin_notes = @notes, updated_at = now()
		WHERE id = @id AND status = 'COMPLETED' AND validated_at IS NULL
		RETURNING ` + tripColumns

	result, err := scanTrip(conn(ctx, r.db).QueryRow(ctx, q, pgx.NamedArgs{"id": id, "by": by, "at": at, "notes": notes}))
	if errors.Is(err, domain.ErrNotFound) {
		err = r.explainMiss(ctx, id, domain.ErrInvalidState, "trip must be completed and not yet validated")
	}
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.MarkValidated: %w", err)
	}
	return result, nil
}

// MarkReimbursed records reimbursement of a validated trip.
func (r *pgTripRepo) MarkReimbursed(ctx context.Context, id, by uuid.UUID, at time.Time) (domain.Trip, error) {
	q := `
		UPDATE trips
		SET reimbursed_by = @by, reimbursed_at = @at, updated_at = now()
		WHERE id = @id AND validated_at IS NOT NULL AND reimbursed_at IS NULL
		RETURNING ` + tripColumns

	result, err := scanTrip(conn(ctx, r.db).QueryRow(ctx, q, pgx.NamedArgs{"id": id, "by": by, "at": at}))
	if errors.Is(err, domain.ErrNotFound) {
		err = r.explainMiss(ctx, id, domain.ErrPrecondition, "trip must be validated and not yet reimbursed")
	}
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.MarkReimbursed: %w", err)
	}
	return result, nil
}

// explainMiss distinguishes a missing trip from a failed condition after a
// conditional write matched no row.
func (r *pgTripRepo) explainMiss(ctx context.Context, id uuid.UUID, kind error, msg string) error {
	var exists bool
	err := conn(ctx, r.db).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trips WHERE id = @id)`, pgx.NamedArgs{"id": id}).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: %s", kind, msg)
}

func collectTrips(rows pgx.Rows) ([]domain.Trip, error) {
	defer rows.Close()
	trips := []domain.Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return trips, nil
}

// scanTrip maps a single database row into a domain.Trip.
// It handles the UUID and nullable location conversions.
func scanTrip(s scanner) (domain.Trip, error) {
	var (
		t                    domain.Trip
		id, owner            pgtype.UUID
		validatedBy, reimbBy pgtype.UUID
		status               string
		reason               *string
		endLat, endLon       *float64
		endAcc               *float64
	)

	err := s.Scan(
		&id, &owner, &status, &t.StartTime, &t.EndTime,
		&t.StartLocation.Lat, &t.StartLocation.Lon, &t.StartLocation.Accuracy, &endLat, &endLon, &endAcc,
		&t.Purpose, &t.VehicleLabel, &t.StartOdometerKm, &t.EndOdometerKm,
		&reason, &t.DistanceKm, &t.DurationMinutes, &t.MileageRate, &t.TotalCost,
		&validatedBy, &t.ValidatedAt, &reimbBy, &t.ReimbursedAt, &t.AdminNotes,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.Trip{}, noRows(err, domain.ErrNotFound)
	}

	t.ID = uuid.UUID(id.Bytes)
	t.OwnerID = uuid.UUID(owner.Bytes)
	t.Status = domain.TripStatus(status)
	if reason != nil {
		t.CompletionReason = domain.CompletionReason(*reason)
	}
	if endLat != nil && endLon != nil {
		t.EndLocation = &domain.GeoPoint{Lat: *endLat, Lon: *endLon, Accuracy: endAcc}
	}
	t.ValidatedBy = uuidPtr(validatedBy)
	t.ReimbursedBy = uuidPtr(reimbBy)
	return t, nil
}

// uuidPtr converts a nullable pgtype.UUID into *uuid.UUID.
func uuidPtr(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}
