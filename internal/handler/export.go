// Package handler: export.go implements GET /trips/export.
// Returns completed trips with their reimbursement figures as flat JSON rows
// for the back office's spreadsheet tooling.
package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/pkordes/fieldops/internal/domain"
)

// ExpenseRow is the JSON shape of one export line.
type ExpenseRow struct {
	TripID           uuid.UUID               `json:"trip_id"`
	OwnerID          uuid.UUID               `json:"owner_id"`
	StartDate        openapi_types.Date      `json:"start_date"`
	EndDate          *openapi_types.Date     `json:"end_date,omitempty"`
	Purpose          string                  `json:"purpose"`
	VehicleLabel     string                  `json:"vehicle_label,omitempty"`
	CompletionReason domain.CompletionReason `json:"completion_reason"`
	DistanceKm       float64                 `json:"distance_km"`
	DurationMinutes  int                     `json:"duration_minutes"`
	MileageRate      float64                 `json:"mileage_rate"`
	TotalCost        float64                 `json:"total_cost"`
	VisitCount       int                     `json:"visit_count"`
	ValidatedAt      *time.Time              `json:"validated_at,omitempty"`
	ReimbursedAt     *time.Time              `json:"reimbursed_at,omitempty"`
}

// ExportExpenses handles GET /trips/export.
// Supports ?owner_id=, ?from= and ?to= (dates, to exclusive).
func (s *Server) ExportExpenses(w http.ResponseWriter, r *http.Request) {
	owner, ok := queryUUID(w, r, "owner_id")
	if !ok {
		return
	}
	var from, to *openapi_types.Date
	if err := runtime.BindQueryParameter("form", true, false, "from", r.URL.Query(), &from); err != nil {
		requestError(w, "from must be a date (YYYY-MM-DD)")
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "to", r.URL.Query(), &to); err != nil {
		requestError(w, "to must be a date (YYYY-MM-DD)")
		return
	}
	if from != nil && to != nil && !to.After(from.Time) {
		requestError(w, "to must be after from")
		return
	}

	filter := domain.ExpenseFilter{OwnerID: owner}
	if from != nil {
		filter.From = &from.Time
	}
	if to != nil {
		filter.To = &to.Time
	}

	rows, err := s.trips.ExportExpenses(r.Context(), actorOf(r), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]ExpenseRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, toExpenseRow(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func toExpenseRow(r domain.ExpenseRow) ExpenseRow {
	row := ExpenseRow{
		TripID:           r.TripID,
		OwnerID:          r.OwnerID,
		StartDate:        openapi_types.Date{Time: r.StartTime},
		Purpose:          r.Purpose,
		VehicleLabel:     r.VehicleLabel,
		CompletionReason: r.CompletionReason,
		DistanceKm:       r.DistanceKm,
		DurationMinutes:  r.DurationMinutes,
		MileageRate:      r.MileageRate,
		TotalCost:        r.TotalCost,
		VisitCount:       r.VisitCount,
		ValidatedAt:      r.ValidatedAt,
		ReimbursedAt:     r.ReimbursedAt,
	}
	if r.EndTime != nil {
		row.EndDate = &openapi_types.Date{Time: *r.EndTime}
	}
	return row
}
