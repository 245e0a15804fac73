package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/repo"
)

// SubmitApplicationInput carries the courier's vehicle and payout details.
type SubmitApplicationInput struct {
	VehicleType  string
	VehiclePlate string
	PayoutHolder string
	PayoutIBAN   string
}

// UploadDocumentInput is one credential file.
type UploadDocumentInput struct {
	Type        domain.DocumentType
	ContentType string
	Body        io.Reader
	ExpiresAt   *time.Time
}

// ReviewResult is the reviewed document and the profile state after review.
type ReviewResult struct {
	Document domain.CourierDocument `json:"document"`
	Profile  domain.CourierProfile  `json:"profile"`
}

// CourierService implements the onboarding gate. ReviewDocument is the only
// operation that can move a profile into APPROVED.
type CourierService struct {
	tx        repo.TxManager
	couriers  repo.CourierRepo
	documents repo.CourierDocumentRepo
	blobs     BlobStore
	activity  ActivityLog
	now       func() time.Time
}

// NewCourierService constructs a CourierService. activity may be nil.
func NewCourierService(tx repo.TxManager, couriers repo.CourierRepo, documents repo.CourierDocumentRepo, blobs BlobStore, activity ActivityLog) *CourierService {
	if activity == nil {
		activity = noopActivity{}
	}
	return &CourierService{tx: tx, couriers: couriers, documents: documents, blobs: blobs, activity: activity, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (s *CourierService) SetClock(now func() time.Time) { s.now = now }

// Profile returns the actor's profile, creating a DRAFT one on first access.
func (s *CourierService) Profile(ctx context.Context, actor domain.Actor) (domain.CourierProfile, error) {
	p, err := s.couriers.GetOrCreate(ctx, actor.UserID)
	if err != nil {
		return domain.CourierProfile{}, fmt.Errorf("service.CourierService.Profile: %w", err)
	}
	return p, nil
}

// Submit moves the actor's application to SUBMITTED. A REJECTED courier may
// re-submit after uploading replacement documents.
func (s *CourierService) Submit(ctx context.Context, actor domain.Actor, in SubmitApplicationInput) (domain.CourierProfile, error) {
	if strings.TrimSpace(in.VehicleType) == "" {
		return domain.CourierProfile{}, fmt.Errorf("service.CourierService.Submit: %w: vehicle_type is required", domain.ErrValidation)
	}

	var saved domain.CourierProfile
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.couriers.GetOrCreate(ctx, actor.UserID); err != nil {
			return err
		}
		p, err := s.couriers.LockByUserID(ctx, actor.UserID)
		if err != nil {
			return err
		}
		switch p.Status {
		case domain.CourierDraft, domain.CourierSubmitted, domain.CourierRejected:
		default:
			return fmt.Errorf("%w: application is %s", domain.ErrInvalidState, p.Status)
		}
		p.Status = domain.CourierSubmitted
		p.IsAvailable = false
		p.VehicleType = strings.TrimSpace(in.VehicleType)
		p.VehiclePlate = strings.TrimSpace(in.VehiclePlate)
		p.PayoutHolder = strings.TrimSpace(in.PayoutHolder)
		p.PayoutIBAN = strings.ReplaceAll(strings.ToUpper(in.PayoutIBAN), " ", "")
		saved, err = s.couriers.Save(ctx, p)
		return err
	})
	if err != nil {
		return domain.CourierProfile{}, fmt.Errorf("service.CourierService.Submit: %w", err)
	}
	return saved, nil
}

// UploadDocument stores a credential as PENDING. The profile status is not changed.
func (s *CourierService) UploadDocument(ctx context.Context, actor domain.Actor, in UploadDocumentInput) (domain.CourierDocument, error) {
	if !in.Type.Valid() {
		return domain.CourierDocument{}, fmt.Errorf("service.CourierService.UploadDocument: %w: unknown document type %q", domain.ErrValidation, in.Type)
	}
	if in.Body == nil {
		return domain.CourierDocument{}, fmt.Errorf("service.CourierService.UploadDocument: %w: file is required", domain.ErrValidation)
	}
	p, err := s.couriers.GetOrCreate(ctx, actor.UserID)
	if err != nil {
		return domain.CourierDocument{}, fmt.Errorf("service.CourierService.UploadDocument: %w", err)
	}
	if p.Status == domain.CourierSuspended {
		return domain.CourierDocument{}, fmt.Errorf("service.CourierService.UploadDocument: %w: courier is suspended", domain.ErrInvalidState)
	}

	key := fmt.Sprintf("couriers/%s/%s-%s", p.ID, strings.ToLower(string(in.Type)), uuid.NewString())
	ref, err := s.blobs.Put(ctx, key, in.ContentType, in.Body)
	if err != nil {
		return domain.CourierDocument{}, fmt.Errorf("service.CourierService.UploadDocument: store file: %w", err)
	}

	doc, err := s.documents.Create(ctx, domain.CourierDocument{
		ProfileID: p.ID,
		Type:      in.Type,
		FileRef:   ref,
		ExpiresAt: in.ExpiresAt,
	})
	if err != nil {
		return domain.CourierDocument{}, fmt.Errorf("service.CourierService.UploadDocument: %w", err)
	}
	return doc, nil
}

// ReviewDocument approves or rejects a PENDING document, then recomputes the
// profile status with domain.DeriveCourierStatus under the profile row lock.
// Rejection requires a reason. Documents of a DRAFT profile cannot be reviewed
// until the courier submits.
func (s *CourierService) ReviewDocument(ctx context.Context, actor domain.Actor, documentID uuid.UUID, decision domain.DocumentStatus, reason string) (ReviewResult, error) {
	reason = strings.TrimSpace(reason)
	switch decision {
	case domain.DocApproved:
		reason = ""
	case domain.DocRejected:
		if reason == "" {
			return ReviewResult{}, fmt.Errorf("service.CourierService.ReviewDocument: %w: a rejection reason is required", domain.ErrValidation)
		}
	default:
		return ReviewResult{}, fmt.Errorf("service.CourierService.ReviewDocument: %w: decision must be APPROVED or REJECTED", domain.ErrValidation)
	}

	var res ReviewResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := s.documents.GetByID(ctx, documentID)
		if err != nil {
			return err
		}
		profile, err := s.couriers.LockByID(ctx, doc.ProfileID)
		if err != nil {
			return err
		}
		if profile.Status == domain.CourierDraft {
			return fmt.Errorf("%w: application has not been submitted", domain.ErrPrecondition)
		}
		now := s.now()
		reviewed, err := s.documents.Review(ctx, documentID, decision, actor.UserID, reason, now)
		if err != nil {
			return err
		}
		docs, err := s.documents.ListByProfile(ctx, profile.ID)
		if err != nil {
			return err
		}

		next := domain.DeriveCourierStatus(profile.Status, docs, now)
		if next != profile.Status {
			profile.Status = next
			profile.IsAvailable = next == domain.CourierApproved
			if next == domain.CourierApproved {
				profile.ApprovedAt = &now
			}
			if profile, err = s.couriers.Save(ctx, profile); err != nil {
				return err
			}
		}
		res = ReviewResult{Document: reviewed, Profile: profile}
		return nil
	})
	if err != nil {
		return ReviewResult{}, fmt.Errorf("service.CourierService.ReviewDocument: %w", err)
	}

	record(ctx, s.activity, domain.ActivityCourierReviewed, actor, res.Profile.UserID, s.now(),
		fmt.Sprintf("%s document %s; courier is %s", res.Document.Type, strings.ToLower(string(decision)), res.Profile.Status),
		map[string]string{"document_id": documentID.String(), "status": string(res.Profile.Status)})
	return res, nil
}

// Suspend takes an APPROVED courier off dispatch. Deliveries already in
// flight are left to complete; new assignments are refused.
func (s *CourierService) Suspend(ctx context.Context, actor domain.Actor, userID uuid.UUID, reason string) (domain.CourierProfile, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.CourierProfile{}, fmt.Errorf("service.CourierService.Suspend: %w: reason is required", domain.ErrValidation)
	}
	p, err := s.mutate(ctx, userID, func(_ context.Context, p *domain.CourierProfile) error {
		if p.Status != domain.CourierApproved {
			return fmt.Errorf("%w: only an approved courier can be suspended, courier is %s", domain.ErrInvalidState, p.Status)
		}
		p.Status = domain.CourierSuspended
		p.IsAvailable = false
		p.SuspensionReason = reason
		return nil
	})
	if err != nil {
		return domain.CourierProfile{}, fmt.Errorf("service.CourierService.Suspend: %w", err)
	}
	return p, nil
}

// Reinstate lifts a suspension if the required documents are still valid.
// The new status comes from domain.DeriveCourierStatus as if the application
// had just been submitted; availability stays off until the courier opts in.
func (s *CourierService) Reinstate(ctx context.Context, actor domain.Actor, userID uuid.UUID) (domain.CourierProfile, error) {
	p, err := s.mutate(ctx, userID, func(ctx context.Context, p *domain.CourierProfile) error {
		if p.Status != domain.CourierSuspended {
			return fmt.Errorf("%w: courier is not suspended", domain.ErrInvalidState)
		}
		docs, err := s.documents.ListByProfile(ctx, p.ID)
		if err != nil {
			return err
		}
		next := domain.DeriveCourierStatus(domain.CourierSubmitted, docs, s.now())
		if next != domain.CourierApproved {
			return fmt.Errorf("%w: required documents are no longer approved", domain.ErrPrecondition)
		}
		p.Status = next
		p.SuspensionReason = ""
		return nil
	})
	if err != nil {
		return domain.CourierProfile{}, fmt.Errorf("service.CourierService.Reinstate: %w", err)
	}
	return p, nil
}

// SetAvailability lets an approved courier go on or off duty.
func (s *CourierService) SetAvailability(ctx context.Context, actor domain.Actor, available bool) (domain.CourierProfile, error) {
	p, err := s.mutate(ctx, actor.UserID, func(_ context.Context, p *domain.CourierProfile) error {
		if available && p.Status != domain.CourierApproved {
			return fmt.Errorf("%w: courier is %s", domain.ErrNotEligible, p.Status)
		}
		p.IsAvailable = available
		return nil
	})
	if err != nil {
		return domain.CourierProfile{}, fmt.Errorf("service.CourierService.SetAvailability: %w", err)
	}
	return p, nil
}

// GetProfile returns a courier's profile with all uploaded documents.
func (s *CourierService) GetProfile(ctx context.Context, userID uuid.UUID) (domain.CourierProfile, []domain.CourierDocument, error) {
	p, err := s.couriers.GetByUserID(ctx, userID)
	if err != nil {
		return domain.CourierProfile{}, nil, fmt.Errorf("service.CourierService.GetProfile: %w", err)
	}
	docs, err := s.documents.ListByProfile(ctx, p.ID)
	if err != nil {
		return domain.CourierProfile{}, nil, fmt.Errorf("service.CourierService.GetProfile: %w", err)
	}
	return p, docs, nil
}

// MyDocuments returns the caller's own uploads with their review outcome and
// any rejection reason, oldest first.
func (s *CourierService) MyDocuments(ctx context.Context, actor domain.Actor) ([]domain.CourierDocument, error) {
	p, err := s.couriers.GetOrCreate(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("service.CourierService.MyDocuments: %w", err)
	}
	docs, err := s.documents.ListByProfile(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("service.CourierService.MyDocuments: %w", err)
	}
	return docs, nil
}

// ListCouriers returns one page of profiles filtered by status and availability.
func (s *CourierService) ListCouriers(ctx context.Context, filter domain.CourierFilter, page domain.PaginationParams) ([]domain.CourierProfile, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("service.CourierService.ListCouriers: %w: unknown status %q", domain.ErrValidation, *filter.Status)
	}
	out, err := s.couriers.List(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("service.CourierService.ListCouriers: %w", err)
	}
	return out, nil
}

// ListPendingCouriers returns SUBMITTED applications awaiting review.
func (s *CourierService) ListPendingCouriers(ctx context.Context) ([]domain.CourierProfile, error) {
	out, err := s.couriers.ListByStatus(ctx, domain.CourierSubmitted)
	if err != nil {
		return nil, fmt.Errorf("service.CourierService.ListPendingCouriers: %w", err)
	}
	return out, nil
}

// ListPendingDocuments returns the document review queue. Documents of
// profiles still in DRAFT are not queued.
func (s *CourierService) ListPendingDocuments(ctx context.Context) ([]domain.CourierDocument, error) {
	out, err := s.documents.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("service.CourierService.ListPendingDocuments: %w", err)
	}
	return out, nil
}

// mutate applies fn to the locked profile and saves it in one transaction.
func (s *CourierService) mutate(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, p *domain.CourierProfile) error) (domain.CourierProfile, error) {
	var saved domain.CourierProfile
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.couriers.LockByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(ctx, &p); err != nil {
			return err
		}
		saved, err = s.couriers.Save(ctx, p)
		return err
	})
	return saved, err
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
