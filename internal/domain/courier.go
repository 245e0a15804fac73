package domain

import (
	"time"

	"github.com/google/uuid"
)

// CourierStatus is the onboarding state of a CourierProfile.
type CourierStatus string

const (
	CourierDraft     CourierStatus = "DRAFT"
	CourierSubmitted CourierStatus = "SUBMITTED"
	CourierApproved  CourierStatus = "APPROVED"
	CourierRejected  CourierStatus = "REJECTED"
	CourierSuspended CourierStatus = "SUSPENDED"
)

// Valid reports whether s is a known onboarding state.
func (s CourierStatus) Valid() bool {
	switch s {
	case CourierDraft, CourierSubmitted, CourierApproved, CourierRejected, CourierSuspended:
		return true
	}
	return false
}

// DocumentType identifies a verifiable courier credential.
type DocumentType string

const (
	DocIDCard              DocumentType = "ID_CARD"
	DocDriverLicense       DocumentType = "DRIVER_LICENSE"
	DocVehicleRegistration DocumentType = "VEHICLE_REGISTRATION"
	DocInsurance           DocumentType = "INSURANCE"
	DocCriminalRecord      DocumentType = "CRIMINAL_RECORD"
)

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	switch t {
	case DocIDCard, DocDriverLicense, DocVehicleRegistration, DocInsurance, DocCriminalRecord:
		return true
	}
	return false
}

// RequiredDocuments is the minimum set that must each be APPROVED
// before a courier can be approved: identity proof and driving credential.
var RequiredDocuments = []DocumentType{DocIDCard, DocDriverLicense}

// DocumentStatus is the review state of a CourierDocument.
type DocumentStatus string

const (
	DocPending  DocumentStatus = "PENDING"
	DocApproved DocumentStatus = "APPROVED"
	DocRejected DocumentStatus = "REJECTED"
)

// CourierProfile is the onboarding record of one delivery-role user.
// IsAvailable may only be true while Status is APPROVED.
type CourierProfile struct {
	ID               uuid.UUID     `json:"id"`
	UserID           uuid.UUID     `json:"user_id"`
	Status           CourierStatus `json:"status"`
	IsAvailable      bool          `json:"is_available"`
	VehicleType      string        `json:"vehicle_type,omitempty"`
	VehiclePlate     string        `json:"vehicle_plate,omitempty"`
	PayoutHolder     string        `json:"payout_holder,omitempty"`
	PayoutIBAN       string        `json:"payout_iban,omitempty"`
	SuspensionReason string        `json:"suspension_reason,omitempty"`
	ApprovedAt       *time.Time    `json:"approved_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// CourierDocument is one credential uploaded for review.
type CourierDocument struct {
	ID              uuid.UUID      `json:"id"`
	ProfileID       uuid.UUID      `json:"profile_id"`
	Type            DocumentType   `json:"type"`
	Status          DocumentStatus `json:"status"`
	FileRef         string         `json:"file_ref"`
	ReviewerID      *uuid.UUID     `json:"reviewer_id,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	ReviewedAt      *time.Time     `json:"reviewed_at,omitempty"`
	UploadedAt      time.Time      `json:"uploaded_at"`
}

// CourierFilter narrows courier listings. Zero values match everything.
type CourierFilter struct {
	Status    *CourierStatus
	Available *bool
}

// DeriveCourierStatus recomputes a profile's status from its documents.
// It is the only source of CourierApproved: document review calls it after
// every decision, and reinstatement calls it with current set to SUBMITTED.
//
//   - DRAFT and SUSPENDED are sticky: review alone never moves them.
//   - APPROVED when every required type has an APPROVED, unexpired document.
//   - REJECTED when some required type has a REJECTED document and no approved one.
//   - SUBMITTED otherwise.
func DeriveCourierStatus(current CourierStatus, docs []CourierDocument, now time.Time) CourierStatus {
	if current == CourierDraft || current == CourierSuspended {
		return current
	}

	approved := map[DocumentType]bool{}
	rejected := map[DocumentType]bool{}
	for _, d := range docs {
		switch d.Status {
		case DocApproved:
			if d.ExpiresAt == nil || d.ExpiresAt.After(now) {
				approved[d.Type] = true
			}
		case DocRejected:
			rejected[d.Type] = true
		}
	}

	complete := true
	anyRejected := false
	for _, t := range RequiredDocuments {
		if !approved[t] {
			complete = false
			if rejected[t] {
				anyRejected = true
			}
		}
	}

	switch {
	case complete:
		return CourierApproved
	case anyRejected:
		return CourierRejected
	default:
		return CourierSubmitted
	}
}
