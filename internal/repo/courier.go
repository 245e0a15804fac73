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

// CourierRepo defines the persistence operations for courier profiles.
type CourierRepo interface {
	// GetOrCreate returns the user's profile, creating a DRAFT one on first access.
	GetOrCreate(ctx context.Context, userID uuid.UUID) (domain.CourierProfile, error)

	// GetByUserID returns domain.ErrNotFound when the user has no profile.
	GetByUserID(ctx context.Context, userID uuid.UUID) (domain.CourierProfile, error)

	// LockByUserID returns the profile with a row lock held until the
	// surrounding transaction ends. Approval and assignment both take this
	// lock, which serializes them per courier.
	LockByUserID(ctx context.Context, userID uuid.UUID) (domain.CourierProfile, error)

	// LockByID is LockByUserID keyed on the profile id.
	LockByID(ctx context.Context, id uuid.UUID) (domain.CourierProfile, error)

	// Save overwrites the mutable fields of the profile.
	Save(ctx context.Context, p domain.CourierProfile) (domain.CourierProfile, error)

	// ListByStatus returns profiles in the given status, oldest first.
	ListByStatus(ctx context.Context, status domain.CourierStatus) ([]domain.CourierProfile, error)

	// List returns one page of profiles matching filter, newest first.
	List(ctx context.Context, filter domain.CourierFilter, page domain.PaginationParams) ([]domain.CourierProfile, error)
}

// CourierDocumentRepo defines the persistence operations for courier documents.
type CourierDocumentRepo interface {
	Create(ctx context.Context, doc domain.CourierDocument) (domain.CourierDocument, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.CourierDocument, error)
	ListByProfile(ctx context.Context, profileID uuid.UUID) ([]domain.CourierDocument, error)

	// ListPending returns PENDING documents of profiles past DRAFT.
	ListPending(ctx context.Context) ([]domain.CourierDocument, error)

	// Review decides a PENDING document. Returns domain.ErrTerminalState when
	// the document was already reviewed.
	Review(ctx context.Context, id uuid.UUID, status domain.DocumentStatus, reviewer uuid.UUID, reason string, at time.Time) (domain.CourierDocument, error)
}

type pgCourierRepo struct {
	db db
}

// NewCourierRepo constructs a CourierRepo backed by the provided db connection.
func NewCourierRepo(db db) CourierRepo {
	return &pgCourierRepo{db: db}
}

const courierColumns = `id, user_id, status, is_available, vehicle_type, vehicle_plate,
	payout_holder, payout_iban, suspension_reason, approved_at, created_at, updated_at`

// GetOrCreate inserts a DRAFT profile if none exists and returns the stored row.
func (r *pgCourierRepo) GetOrCreate(ctx context.Context, userID uuid.UUID) (domain.CourierProfile, error) {
	const ins = `INSERT INTO courier_profiles (user_id) VALUES (@user_id) ON CONFLICT (user_id) DO NOTHING`
	if _, err := conn(ctx, r.db).Exec(ctx, ins, pgx.NamedArgs{"user_id": userID}); err != nil {
		return domain.CourierProfile{}, fmt.Errorf("repo.CourierRepo.GetOrCreate: %w", err)
	}
	p, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return domain.CourierProfile{}, fmt.Errorf("repo.CourierRepo.GetOrCreate: %w", err)
	}
	return p, nil
}

// GetByUserID retrieves a profile by its owning user.
func (r *pgCourierRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (domain.CourierProfile, error) {
	q := `SELECT ` + courierColumns + ` FROM courier_profiles WHERE user_id = @user_id`

	p, err := scanCourier(conn(ctx, r.db).QueryRow(ctx, q, pgx.NamedArgs{"user_id": userID}))
	if err != nil {
		return domain.CourierProfile{}, fmt.Errorf("repo.CourierRepo.GetByUserID: %w", err)
	}
	return p, nil
}

// LockByUserID retrieves a profile FOR UPDATE.
func (r *pgCourierRepo) LockByUserID(ctx context.Context, userID uuid.UUID) (domain.CourierProfile, error) {
	q := `SELECT ` + courierColumns + ` FROM courier_profiles WHERE user_id = @user_id FOR UPDATE`

	p, err := scanCourier(conn(ctx, r.db).QueryRow(ctx, q, pgx.NamedArgs{"user_id": userID}))
	if err != nil {
		return domain.CourierProfile{}, fmt.Errorf("repo.CourierRepo.LockByUserID: %w", err)
	}
	return p, nil
}

// LockByID retrieves a profile FOR UPDATE by primary key.
func (r *pgCourierRepo) LockByID(ctx context.Context, id uuid.UUID) (domain.CourierProfile, error) {
	q := `SELECT ` + courierColumns + ` FROM courier_profiles WHERE id = @id FOR UPDATE`

	p, err := scanCourier(conn(ctx, r.db).QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.CourierProfile{}, fmt.Errorf("repo.CourierRepo.LockByID: %w", err)
	}
	return p, nil
}

// Save writes the profile's mutable fields.
func (r *pgCourierRepo) Save(ctx context.Context, p domain.CourierProfile) (domain.CourierProfile, error) {
	q := `
		UPDATE courier_profiles
		SET status            = @status,
		    is_available      = @is_available,
		    vehicle_type      = @vehicle_type,
		    vehicle_plate     = @vehicle_plate,
		    payout_holder     = @payout_holder,
		    payout_iban       = @payout_iban,
		    suspension_reason = @suspension_reason,
		    approved_at       = @approved_at,
		    updated_at        = now()
		WHERE id = @id
		RETURNING ` + courierColumns

	args := pgx.NamedArgs{
		"id":                p.ID,
		"status":            string(p.Status),
		"is_available":      p.IsAvailable,
		"vehicle_type":      p.VehicleType,
		"vehicle_plate":     p.VehiclePlate,
		"payout_holder":     p.PayoutHolder,
		"payout_iban":       p.PayoutIBAN,
		"suspension_reason": p.SuspensionReason,
		"approved_at":       p.ApprovedAt,
	}

	result, err := scanCourier(conn(ctx, r.db).QueryRow(ctx, q, args))
	if err != nil {
		return domain.CourierProfile{}, fmt.Errorf("repo.CourierRepo.Save: %w", err)
	}
	return result, nil
}

// ListByStatus returns profiles in one onboarding state.
func (r *pgCourierRepo) ListByStatus(ctx context.Context, status domain.CourierStatus) ([]domain.CourierProfile, error) {
	q := `SELECT ` + courierColumns + ` FROM courier_profiles WHERE status = @status ORDER BY updated_at`

	rows, err := conn(ctx, r.db).Query(ctx, q, pgx.NamedArgs{"status": string(status)})
	if err != nil {
		return nil, fmt.Errorf("repo.CourierRepo.ListByStatus: %w", err)
	}
	defer rows.Close()

	out, err := collectCouriers(rows)
	if err != nil {
		return nil, fmt.Errorf("repo.CourierRepo.ListByStatus: %w", err)
	}
	return out, nil
}

// List filters on status and availability; nil filter fields match everything.
func (r *pgCourierRepo) List(ctx context.Context, filter domain.CourierFilter, page domain.PaginationParams) ([]domain.CourierProfile, error) {
	q := `
		SELECT ` + courierColumns + `
		FROM courier_profiles
		WHERE (@status::text IS NULL OR status = @status)
		  AND (@is_available::boolean IS NULL OR is_available = @is_available)
		ORDER BY created_at DESC
		LIMIT @limit OFFSET @offset`

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	args := pgx.NamedArgs{
		"status":       status,
		"is_available": filter.Available,
		"limit":        page.Limit,
		"offset":       page.Offset(),
	}

	rows, err := conn(ctx, r.db).Query(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("repo.CourierRepo.List: %w", err)
	}
	defer rows.Close()

	out, err := collectCouriers(rows)
	if err != nil {
		return nil, fmt.Errorf("repo.CourierRepo.List: %w", err)
	}
	return out, nil
}

func collectCouriers(rows pgx.Rows) ([]domain.CourierProfile, error) {
	out := []domain.CourierProfile{}
	for rows.Next() {
		p, err := scanCourier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func scanCourier(s scanner) (domain.CourierProfile, error) {
	var (
		p          domain.CourierProfile
		id, userID pgtype.UUID
		status     string
	)
	err := s.Scan(&id, &userID, &status, &p.IsAvailable, &p.VehicleType, &p.VehiclePlate,
		&p.PayoutHolder, &p.PayoutIBAN, &p.SuspensionReason, &p.ApprovedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.CourierProfile{}, noRows(err, domain.ErrNotFound)
	}
	p.ID = uuid.UUID(id.Bytes)
	p.UserID = uuid.UUID(userID.Bytes)
	p.Status = domain.CourierStatus(status)
	return p, nil
}

type pgCourierDocumentRepo struct {
	db db
}

// NewCourierDocumentRepo constructs a CourierDocumentRepo backed by the provided db connection.
func NewCourierDocumentRepo(db db) CourierDocumentRepo {
	return &pgCourierDocumentRepo{db: db}
}

const documentColumns = `id, profile_id, type, status, file_ref, reviewer_id, rejection_reason,
	expires_at, reviewed_at, uploaded_at`

// Create inserts a PENDING document.
func (r *pgCourierDocumentRepo) Create(ctx context.Context, doc domain.CourierDocument) (domain.CourierDocument, error) {
	q := `
		INSERT INTO courier_documents (profile_id, type, status, file_ref, expires_at)
		VALUES (@profile_id, @type, 'PENDING', @file_ref, @expires_at)
		RETURNING ` + documentColumns

	args := pgx.NamedArgs{
		"profile_id": doc.ProfileID,
		"type":       string(doc.Type),
		"file_ref":   doc.FileRef,
		"expires_at": doc.ExpiresAt,
	}

	result, err := scanDocument(conn(ctx, r.db).QueryRow(ctx, q, args))
	if err != nil {
		return domain.CourierDocument{}, fmt.Errorf("repo.CourierDocumentRepo.Create: %w", err)
	}
	return result, nil
}

// GetByID retrieves a document by primary key.
func (r *pgCourierDocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.CourierDocument, error) {
	q := `SELECT ` + documentColumns + ` FROM courier_documents WHERE id = @id`

	result, err := scanDocument(conn(ctx, r.db).QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.CourierDocument{}, fmt.Errorf("repo.CourierDocumentRepo.GetByID: %w", err)
	}
	return result, nil
}

// ListByProfile returns every document of a profile, oldest first.
func (r *pgCourierDocumentRepo) ListByProfile(ctx context.Context, profileID uuid.UUID) ([]domain.CourierDocument, error) {
	q := `SELECT ` + documentColumns + ` FROM courier_documents WHERE profile_id = @profile_id ORDER BY uploaded_at`
	docs, err := r.list(ctx, q, pgx.NamedArgs{"profile_id": profileID})
	if err != nil {
		return nil, fmt.Errorf("repo.CourierDocumentRepo.ListByProfile: %w", err)
	}
	return docs, nil
}

// ListPending returns the review queue, oldest first, skipping documents of
// profiles that have not been submitted.
func (r *pgCourierDocumentRepo) ListPending(ctx context.Context) ([]domain.CourierDocument, error) {
	q := `
		SELECT ` + documentColumns + `
		FROM courier_documents
		WHERE status = 'PENDING'
		  AND profile_id IN (SELECT id FROM courier_profiles WHERE status <> 'DRAFT')
		ORDER BY uploaded_at`
	docs, err := r.list(ctx, q, pgx.NamedArgs{})
	if err != nil {
		return nil, fmt.Errorf("repo.CourierDocumentRepo.ListPending: %w", err)
	}
	return docs, nil
}

func (r *pgCourierDocumentRepo) list(ctx context.Context, q string, args pgx.NamedArgs) ([]domain.CourierDocument, error) {
	rows, err := conn(ctx, r.db).Query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.CourierDocument{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// Review decides a document only if it is still PENDING.
func (r *pgCourierDocumentRepo) Review(ctx context.Context, id uuid.UUID, status domain.DocumentStatus, reviewer uuid.UUID, reason string, at time.Time) (domain.CourierDocument, error) {
	q := `
		UPDATE courier_documents
		SET status = @status, reviewer_id = @reviewer, rejection_reason = @reason, reviewed_at = @at
		WHERE id = @id AND status = 'PENDING'
		RETURNING ` + documentColumns

	args := pgx.NamedArgs{"id": id, "status": string(status), "reviewer": reviewer, "reason": reason, "at": at}

	result, err := scanDocument(conn(ctx, r.db).QueryRow(ctx, q, args))
	if errors.Is(err, domain.ErrNotFound) {
		if cur, getErr := r.GetByID(ctx, id); getErr == nil {
			err = fmt.Errorf("%w: document already %s", domain.ErrTerminalState, cur.Status)
		}
	}
	if err != nil {
		return domain.CourierDocument{}, fmt.Errorf("repo.CourierDocumentRepo.Review: %w", err)
	}
	return result, nil
}

func scanDocument(s scanner) (domain.CourierDocument, error) {
	var (
		d             domain.CourierDocument
		id, profileID pgtype.UUID
		reviewer      pgtype.UUID
		typ, status   string
	)
	err := s.Scan(&id, &profileID, &typ, &status, &d.FileRef, &reviewer, &d.RejectionReason,
		&d.ExpiresAt, &d.ReviewedAt, &d.UploadedAt)
	if err != nil {
		return domain.CourierDocument{}, noRows(err, domain.ErrNotFound)
	}
	d.ID = uuid.UUID(id.Bytes)
	d.ProfileID = uuid.UUID(profileID.Bytes)
	d.ReviewerID = uuidPtr(reviewer)
	d.Type = domain.DocumentType(typ)
	d.Status = domain.DocumentStatus(status)
	return d, nil
}
