package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeliveryEventKind classifies an audit record.
type DeliveryEventKind string

const (
	EventStatusChange DeliveryEventKind = "STATUS_CHANGE"
	EventNoteAdded    DeliveryEventKind = "NOTE_ADDED"
	EventProofAdded   DeliveryEventKind = "PROOF_ADDED"
)

// DeliveryEvent is an immutable audit record. Every status change writes
// exactly one, in the same transaction as the delivery row update.
// Seq is assigned by the store and increases by one per delivery.
type DeliveryEvent struct {
	ID         uuid.UUID         `json:"id"`
	DeliveryID uuid.UUID         `json:"delivery_id"`
	Seq        int               `json:"seq"`
	Kind       DeliveryEventKind `json:"kind"`
	FromStatus *DeliveryStatus   `json:"from_status,omitempty"` // nil for the CREATED record
	ToStatus   DeliveryStatus    `json:"to_status"`
	ActorID    uuid.UUID         `json:"actor_id"`
	ActorRole  Role              `json:"actor_role"`
	OccurredAt time.Time         `json:"occurred_at"`
	Location   *GeoPoint         `json:"location,omitempty"`
	ProofRef   string            `json:"proof_ref,omitempty"`
	Note       string            `json:"note,omitempty"`
}

// StatusEvent builds a STATUS_CHANGE record for from → to.
func StatusEvent(deliveryID uuid.UUID, from *DeliveryStatus, to DeliveryStatus, actor Actor, at time.Time) DeliveryEvent {
	return DeliveryEvent{
		DeliveryID: deliveryID,
		Kind:       EventStatusChange,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		OccurredAt: at,
	}
}

// ValidateHistory checks that the STATUS_CHANGE records in events, taken in
// sequence order, form a valid walk of the delivery graph starting at CREATED.
func ValidateHistory(events []DeliveryEvent) error {
	var cur *DeliveryStatus
	lastSeq := 0
	for _, e := range events {
		if e.Seq <= lastSeq {
			return fmt.Errorf("%w: event seq %d out of order", ErrInvalidTransition, e.Seq)
		}
		lastSeq = e.Seq
		if e.Kind != EventStatusChange {
			continue
		}
		if cur == nil {
			if e.FromStatus != nil || e.ToStatus != DeliveryCreated {
				return fmt.Errorf("%w: history must start at %s", ErrInvalidTransition, DeliveryCreated)
			}
		} else {
			if e.FromStatus == nil || *e.FromStatus != *cur {
				return fmt.Errorf("%w: event %d does not continue from %s", ErrInvalidTransition, e.Seq, *cur)
			}
			if !CanTransition(*cur, e.ToStatus) {
				return fmt.Errorf("%w: %s -> %s at seq %d", ErrInvalidTransition, *cur, e.ToStatus, e.Seq)
			}
		}
		to := e.ToStatus
		cur = &to
	}
	return nil
}
