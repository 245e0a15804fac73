package domain

import (
	"time"

	"github.com/google/uuid"
)

// Activity kinds written to the activity sink.
const (
	ActivityTripStarted        = "trip.started"
	ActivityTripEnded          = "trip.ended"
	ActivityTripRecovered      = "trip.recovered"
	ActivityVisitCompleted     = "visit.completed"
	ActivityDeliveryTransition = "delivery.transition"
	ActivityCourierReviewed    = "courier.reviewed"
)

// Activity is a human-readable record for the CRM activity feed.
type Activity struct {
	ID         uuid.UUID         `json:"id"`
	Kind       string            `json:"kind"`
	ActorID    uuid.UUID         `json:"actor_id"`
	SubjectID  uuid.UUID         `json:"subject_id"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
