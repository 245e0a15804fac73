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

// CheckpointRepo defines the append-only persistence of trip checkpoints.
type CheckpointRepo interface {
	// Append inserts a checkpoint only while its trip is IN_PROGRESS.
	// Returns domain.ErrInvalidState for a closed trip, domain.ErrNotFound for a missing one.
	Append(ctx context.Context, cp domain.Checkpoint) (domain.Checkpoint, error)

	// ListByTrip returns a trip's checkpoints ordered by captured_at ascending.
	ListByTrip(ctx context.Context, tripID uuid.UUID) ([]domain.Checkpoint, error)
}

type pgCheckpointRepo struct {
	db db
}

// NewCheckpointRepo constructs a CheckpointRepo backed by the provided db connection.
func NewCheckpointRepo(db db) CheckpointRepo {
	return &pgCheckpointRepo{db: db}
}

const checkpointColumns = `id, trip_id, lat, lon, accuracy, captured_at, created_at`

// Append writes the checkpoint in one statement guarded by the trip status.
func (r *pgCheckpointRepo) Append(ctx context.Context, cp domain.Checkpoint) (domain.Checkpoint, error) {
	q := `
		INSERT INTO trip_checkpoints (trip_id, lat, lon, accuracy, captured_at)
		SELECT t.id, @lat, @lon, @accuracy, @captured_at
		FROM trips t
		WHERE t.id = @trip_id AND t.status = 'IN_PROGRESS'
		RETURNING ` + checkpointColumns

	args := pgx.NamedArgs{
		"trip_id":     cp.TripID,
		"lat":         cp.Location.Lat,
		"lon":         cp.Location.Lon,
		"accuracy":    cp.Location.Accuracy,
		"captured_at": cp.CapturedAt,
	}

	result, err := scanCheckpoint(conn(ctx, r.db).QueryRow(ctx, q, args))
	if errors.Is(err, domain.ErrNotFound) {
		err = tripMiss(ctx, conn(ctx, r.db), cp.TripID, domain.ErrInvalidState)
	}
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("repo.CheckpointRepo.Append: %w", err)
	}
	return result, nil
}

// ListByTrip returns checkpoints in capture order.
func (r *pgCheckpointRepo) ListByTrip(ctx context.Context, tripID uuid.UUID) ([]domain.Checkpoint, error) {
	q := `SELECT ` + checkpointColumns + ` FROM trip_checkpoints WHERE trip_id = @trip_id ORDER BY captured_at, created_at`

	rows, err := conn(ctx, r.db).Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.CheckpointRepo.ListByTrip: %w", err)
	}
	defer rows.Close()

	out := []domain.Checkpoint{}
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.CheckpointRepo.ListByTrip: scan: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.CheckpointRepo.ListByTrip: rows: %w", err)
	}
	return out, nil
}

func scanCheckpoint(s scanner) (domain.Checkpoint, error) {
	var (
		cp         domain.Checkpoint
		id, tripID pgtype.UUID
	)
	err := s.Scan(&id, &tripID, &cp.Location.Lat, &cp.Location.Lon, &cp.Location.Accuracy, &cp.CapturedAt, &cp.CreatedAt)
	if err != nil {
		return domain.Checkpoint{}, noRows(err, domain.ErrNotFound)
	}
	cp.ID = uuid.UUID(id.Bytes)
	cp.TripID = uuid.UUID(tripID.Bytes)
	return cp, nil
}

// tripMiss explains why a statement guarded on an open trip matched nothing:
// the trip is missing, or it is closed and kind applies.
func tripMiss(ctx context.Context, q db, tripID uuid.UUID, kind error) error {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM trips WHERE id = @id`, pgx.NamedArgs{"id": tripID}).Scan(&status)
	if err != nil {
		return noRows(err, domain.ErrNotFound)
	}
	return fmt.Errorf("%w: trip is %s", kind, status)
}
