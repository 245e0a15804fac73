package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExpenseRow is a single row in the mileage expense export.
// It is a flat view of one COMPLETED trip with the figures accounting needs to
// reimburse it. VisitCount counts every visit on the trip, canceled ones included.
type ExpenseRow struct {
	TripID           uuid.UUID
	OwnerID          uuid.UUID
	StartTime        time.Time
	EndTime          *time.Time
	Purpose          string
	VehicleLabel     string
	CompletionReason CompletionReason

	DistanceKm      float64
	DurationMinutes int
	MileageRate     float64
	TotalCost       float64
	VisitCount      int

	ValidatedAt  *time.Time
	ReimbursedAt *time.Time
}

// ExpenseFilter narrows the export. From and To bound the trip start time,
// From inclusive and To exclusive.
type ExpenseFilter struct {
	OwnerID *uuid.UUID
	From    *time.Time
	To      *time.Time
}

// Includes reports whether a trip started at start falls inside the window.
func (f ExpenseFilter) Includes(start time.Time) bool {
	if f.From != nil && start.Before(*f.From) {
		return false
	}
	if f.To != nil && !start.Before(*f.To) {
		return false
	}
	return true
}
