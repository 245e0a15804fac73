// Package domain contains the core data types and state rules for field
// operations: trips, visits, deliveries, courier onboarding and live positions.
// It is imported by every other internal package (repo, service, handler).
package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// TripStatus is the lifecycle state of a Trip.
type TripStatus string

const (
	TripInProgress TripStatus = "IN_PROGRESS"
	TripCompleted  TripStatus = "COMPLETED"
)

// CompletionReason records who closed a trip.
type CompletionReason string

const (
	// CompletionUser is set by an explicit end-trip call.
	CompletionUser CompletionReason = "USER"
	// CompletionRecovery is set by the stale trip sweep.
	CompletionRecovery CompletionReason = "RECOVERY"
)

// DefaultMileageRate is the reimbursement rate per km used when none is configured.
const DefaultMileageRate = 0.50

// Trip is one continuous field excursion by one agent.
// At most one trip per owner may be IN_PROGRESS.
type Trip struct {
	ID               uuid.UUID        `json:"id"`
	OwnerID          uuid.UUID        `json:"owner_id"`
	Status           TripStatus       `json:"status"`
	StartTime        time.Time        `json:"start_time"`
	EndTime          *time.Time       `json:"end_time,omitempty"` // nil while IN_PROGRESS
	StartLocation    GeoPoint         `json:"start_location"`
	EndLocation      *GeoPoint        `json:"end_location,omitempty"`
	Purpose          string           `json:"purpose"`
	VehicleLabel     string           `json:"vehicle_label,omitempty"`
	StartOdometerKm  *float64         `json:"start_odometer_km,omitempty"`
	EndOdometerKm    *float64         `json:"end_odometer_km,omitempty"`
	CompletionReason CompletionReason `json:"completion_reason,omitempty"`
	DistanceKm       float64          `json:"distance_km"`
	DurationMinutes  int              `json:"duration_minutes"`
	MileageRate      float64          `json:"mileage_rate"`
	TotalCost        float64          `json:"total_cost"`

	// Administrative correction fields, writable after completion.
	ValidatedBy  *uuid.UUID `json:"validated_by,omitempty"`
	ValidatedAt  *time.Time `json:"validated_at,omitempty"`
	ReimbursedBy *uuid.UUID `json:"reimbursed_by,omitempty"`
	ReimbursedAt *time.Time `json:"reimbursed_at,omitempty"`
	AdminNotes   string     `json:"admin_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Checkpoint is an immutable position sample owned by one trip.
type Checkpoint struct {
	ID         uuid.UUID `json:"id"`
	TripID     uuid.UUID `json:"trip_id"`
	Location   GeoPoint  `json:"location"`
	CapturedAt time.Time `json:"captured_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TripCompletion carries the values written when a trip is closed.
type TripCompletion struct {
	EndTime         time.Time
	EndLocation     *GeoPoint
	EndOdometerKm   *float64
	DistanceKm      float64
	DurationMinutes int
	TotalCost       float64
	Reason          CompletionReason
}

// Complete computes the closing figures for t ending at end.
// Distance is the odometer delta when both readings are present, otherwise
// the great-circle length of start → checkpoints → end location.
func (t Trip) Complete(end time.Time, endLocation *GeoPoint, endOdometer *float64, path []Checkpoint) TripCompletion {
	c := TripCompletion{
		EndTime:       end,
		EndLocation:   endLocation,
		EndOdometerKm: endOdometer,
		Reason:        CompletionUser,
	}
	if d := end.Sub(t.StartTime); d > 0 {
		c.DurationMinutes = int(d / time.Minute)
	}

	if t.StartOdometerKm != nil && endOdometer != nil && *endOdometer >= *t.StartOdometerKm {
		c.DistanceKm = *endOdometer - *t.StartOdometerKm
	} else {
		prev := t.StartLocation
		for _, cp := range path {
			c.DistanceKm += HaversineKm(prev, cp.Location)
			prev = cp.Location
		}
		if endLocation != nil {
			c.DistanceKm += HaversineKm(prev, *endLocation)
		}
	}
	c.DistanceKm = math.Round(c.DistanceKm*100) / 100

	rate := t.MileageRate
	if rate <= 0 {
		rate = DefaultMileageRate
	}
	c.TotalCost = math.Round(c.DistanceKm*rate*100) / 100
	return c
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b GeoPoint) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// TripFilter narrows trip listings. Zero values match everything.
type TripFilter struct {
	OwnerID *uuid.UUID
	Status  *TripStatus
}
