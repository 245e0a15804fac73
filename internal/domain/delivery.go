package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the lifecycle state of a Delivery.
type DeliveryStatus string

const (
	DeliveryCreated   DeliveryStatus = "CREATED"
	DeliveryOffered   DeliveryStatus = "OFFERED"
	DeliveryAccepted  DeliveryStatus = "ACCEPTED"
	DeliveryToPickup  DeliveryStatus = "TO_PICKUP"
	DeliveryAtPickup  DeliveryStatus = "AT_PICKUP"
	DeliveryPickedUp  DeliveryStatus = "PICKED_UP"
	DeliveryToDropoff DeliveryStatus = "TO_DROPOFF"
	DeliveryAtDropoff DeliveryStatus = "AT_DROPOFF"
	DeliveryCompleted DeliveryStatus = "COMPLETED"
	DeliveryCanceled  DeliveryStatus = "CANCELED"
)

// deliveryPath is the only forward ordering a delivery may follow.
var deliveryPath = []DeliveryStatus{
	DeliveryCreated,
	DeliveryOffered,
	DeliveryAccepted,
	DeliveryToPickup,
	DeliveryAtPickup,
	DeliveryPickedUp,
	DeliveryToDropoff,
	DeliveryAtDropoff,
	DeliveryCompleted,
}

// DeliveryPath returns a copy of the forward status ordering.
func DeliveryPath() []DeliveryStatus {
	return append([]DeliveryStatus(nil), deliveryPath...)
}

// Valid reports whether s is a known status.
func (s DeliveryStatus) Valid() bool {
	return s == DeliveryCanceled || s.index() >= 0
}

// Terminal reports whether s is COMPLETED or CANCELED.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryCompleted || s == DeliveryCanceled
}

// Next returns the single forward successor of s.
func (s DeliveryStatus) Next() (DeliveryStatus, bool) {
	i := s.index()
	if i < 0 || i+1 >= len(deliveryPath) {
		return "", false
	}
	return deliveryPath[i+1], true
}

func (s DeliveryStatus) index() int {
	for i, p := range deliveryPath {
		if p == s {
			return i
		}
	}
	return -1
}

// CanTransition reports whether from → to is an edge of the delivery graph:
// the immediate successor on the forward path, or CANCELED from any non-terminal state.
func CanTransition(from, to DeliveryStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == DeliveryCanceled {
		return true
	}
	next, ok := from.Next()
	return ok && next == to
}

// CheckTransition returns a typed error when from → to is not allowed.
func CheckTransition(from, to DeliveryStatus) error {
	if from.Terminal() {
		return fmt.Errorf("%w: delivery is %s", ErrTerminalState, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ProofKind identifies a proof-of-delivery artifact.
type ProofKind string

const (
	ProofPhoto     ProofKind = "PHOTO"
	ProofSignature ProofKind = "SIGNATURE"
)

// Valid reports whether k is a known proof kind.
func (k ProofKind) Valid() bool {
	return k == ProofPhoto || k == ProofSignature
}

// Address is a pickup or dropoff point.
type Address struct {
	Line string   `json:"line"`
	Lat  *float64 `json:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty"`
}

// Proof is the proof-of-delivery attached at AT_DROPOFF.
type Proof struct {
	Kind          ProofKind `json:"kind"`
	Ref           string    `json:"ref"`
	RecipientName string    `json:"recipient_name,omitempty"`
}

// Delivery is one parcel movement obligation.
// CourierID is set only by assignment and only to an APPROVED courier.
type Delivery struct {
	ID         uuid.UUID      `json:"id"`
	OrderRef   string         `json:"order_ref"`
	CustomerID uuid.UUID      `json:"customer_id"`
	CourierID  *uuid.UUID     `json:"courier_id,omitempty"`
	Status     DeliveryStatus `json:"status"`
	Pickup     Address        `json:"pickup"`
	Dropoff    Address        `json:"dropoff"`

	FeeCents             int64 `json:"fee_cents"`
	CourierEarningsCents int64 `json:"courier_earnings_cents"`
	TipCents             int64 `json:"tip_cents"`

	Proof        *Proof    `json:"proof,omitempty"`
	CancelReason string    `json:"cancel_reason,omitempty"`
	CreatedBy    uuid.UUID `json:"created_by"`

	OfferedAt   *time.Time `json:"offered_at,omitempty"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	PickedUpAt  *time.Time `json:"picked_up_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stamp records at in the timestamp field that belongs to status, if any.
func (d *Delivery) Stamp(status DeliveryStatus, at time.Time) {
	t := at
	switch status {
	case DeliveryOffered:
		d.OfferedAt = &t
	case DeliveryAccepted:
		d.AcceptedAt = &t
	case DeliveryPickedUp:
		d.PickedUpAt = &t
	case DeliveryCompleted:
		d.CompletedAt = &t
	case DeliveryCanceled:
		d.CanceledAt = &t
	}
}

// DeliveryFilter narrows delivery listings. Zero values match everything.
type DeliveryFilter struct {
	Status    *DeliveryStatus
	CourierID *uuid.UUID
}
