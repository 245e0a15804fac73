package domain

import (
	"time"

	"github.com/google/uuid"
)

// VisitStatus is the lifecycle state of a Visit.
type VisitStatus string

const (
	VisitPlanned   VisitStatus = "PLANNED"
	VisitCheckedIn VisitStatus = "CHECKED_IN"
	VisitCompleted VisitStatus = "COMPLETED"
	VisitCanceled  VisitStatus = "CANCELED"
)

// Terminal reports whether no further transition is allowed from s.
func (s VisitStatus) Terminal() bool {
	return s == VisitCompleted || s == VisitCanceled
}

// CanTransitionVisit reports whether from → to is an edge of the visit graph.
// CANCELED is reachable from any non-terminal state.
func CanTransitionVisit(from, to VisitStatus) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case VisitCanceled:
		return true
	case VisitCheckedIn:
		return from == VisitPlanned
	case VisitCompleted:
		return from == VisitCheckedIn
	}
	return false
}

// VisitMode selects how a visit is recorded at creation.
type VisitMode string

const (
	// VisitModeReport records a finished visit in one call.
	VisitModeReport VisitMode = "REPORT"
	// VisitModePlanned records a visit to be bracketed by check-in and check-out.
	VisitModePlanned VisitMode = "PLANNED"
)

// Visit is a customer interaction nested in one open trip.
type Visit struct {
	ID              uuid.UUID   `json:"id"`
	TripID          uuid.UUID   `json:"trip_id"`
	CustomerID      uuid.UUID   `json:"customer_id"`
	Status          VisitStatus `json:"status"`
	CheckInAt       *time.Time  `json:"check_in_at,omitempty"`
	CheckOutAt      *time.Time  `json:"check_out_at,omitempty"`
	DurationMinutes int         `json:"duration_minutes"`
	Location        *GeoPoint   `json:"location,omitempty"`
	Summary         string      `json:"summary,omitempty"`
	Outcome         string      `json:"outcome,omitempty"`
	Media           []string    `json:"media"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}
