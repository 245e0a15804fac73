package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/service"
)

type startTripRequest struct {
	StartLocation   domain.GeoPoint `json:"start_location"`
	Purpose         string          `json:"purpose"`
	VehicleLabel    string          `json:"vehicle_label"`
	StartOdometerKm *float64        `json:"start_odometer_km"`
}

type endTripRequest struct {
	EndLocation   *domain.GeoPoint `json:"end_location"`
	EndOdometerKm *float64         `json:"end_odometer_km"`
}

type checkpointRequest struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Accuracy   *float64  `json:"accuracy"`
	CapturedAt time.Time `json:"captured_at"`
}

type validateTripRequest struct {
	Notes string `json:"notes"`
}

// StartTrip handles POST /trips.
func (s *Server) StartTrip(w http.ResponseWriter, r *http.Request) {
	var req startTripRequest
	if !decode(w, r, &req) {
		return
	}
	trip, err := s.trips.StartTrip(r.Context(), actorOf(r), service.StartTripInput{
		StartLocation:   req.StartLocation,
		Purpose:         req.Purpose,
		VehicleLabel:    req.VehicleLabel,
		StartOdometerKm: req.StartOdometerKm,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

// GetActiveTrip handles GET /trips/active.
func (s *Server) GetActiveTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.trips.ActiveTrip(r.Context(), actorOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// ListTrips handles GET /trips.
// Supports ?owner_id=, ?status=, ?page= and ?limit= (defaults: page=1, limit=20, max=100).
func (s *Server) ListTrips(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParams(w, r)
	if !ok {
		return
	}
	owner, ok := queryUUID(w, r, "owner_id")
	if !ok {
		return
	}
	filter := domain.TripFilter{OwnerID: owner}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := domain.TripStatus(raw)
		if st != domain.TripInProgress && st != domain.TripCompleted {
			requestError(w, "invalid status")
			return
		}
		filter.Status = &st
	}

	trips, err := s.trips.ListTrips(r.Context(), actorOf(r), filter, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(trips, page))
}

// GetTrip handles GET /trips/{tripID}.
func (s *Server) GetTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "tripID")
	if !ok {
		return
	}
	trip, err := s.trips.GetTrip(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// GetTripOverview handles GET /trips/{tripID}/overview.
func (s *Server) GetTripOverview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "tripID")
	if !ok {
		return
	}
	overview, err := s.trips.TripOverview(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// EndTrip handles POST /trips/{tripID}/end.
func (s *Server) EndTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "tripID")
	if !ok {
		return
	}
	var req endTripRequest
	if !decode(w, r, &req) {
		return
	}
	trip, err := s.trips.EndTrip(r.Context(), actorOf(r), id, service.EndTripInput{
		EndLocation:   req.EndLocation,
		EndOdometerKm: req.EndOdometerKm,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// AddCheckpoint handles POST /trips/{tripID}/checkpoints.
func (s *Server) AddCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "tripID")
	if !ok {
		return
	}
	var req checkpointRequest
	if !decode(w, r, &req) {
		return
	}
	cp, err := s.trips.AddCheckpoint(r.Context(), actorOf(r), id,
		domain.GeoPoint{Lat: req.Lat, Lon: req.Lon, Accuracy: req.Accuracy}, req.CapturedAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}

// RecoverStaleTrips handles POST /trips/recover.
func (s *Server) RecoverStaleTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := s.trips.RecoverStaleTrips(r.Context(), actorOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if trips == nil {
		trips = []domain.Trip{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"recovered": trips})
}

// ValidateTrip handles POST /trips/{tripID}/validate.
func (s *Server) ValidateTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "tripID")
	if !ok {
		return
	}
	var req validateTripRequest
	if !decode(w, r, &req) {
		return
	}
	trip, err := s.trips.ValidateTrip(r.Context(), actorOf(r), id, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// ReimburseTrip handles POST /trips/{tripID}/reimburse.
func (s *Server) ReimburseTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "tripID")
	if !ok {
		return
	}
	trip, err := s.trips.ReimburseTrip(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// ---- visits ----------------------------------------------------------------

type createVisitRequest struct {
	CustomerID uuid.UUID        `json:"customer_id"`
	Summary    string           `json:"summary"`
	Outcome    string           `json:"outcome"`
	Location   *domain.GeoPoint `json:"location"`
	Media      []string         `json:"media"`
	Mode       domain.VisitMode `json:"mode"`
}

type checkInRequest struct {
	Location *domain.GeoPoint `json:"location"`
}

type checkOutRequest struct {
	Summary string `json:"summary"`
	Outcome string `json:"outcome"`
}

// CreateVisit handles POST /trips/{tripID}/visits.
func (s *Server) CreateVisit(w http.ResponseWriter, r *http.Request) {
	tripID, ok := pathUUID(w, r, "tripID")
	if !ok {
		return
	}
	var req createVisitRequest
	if !decode(w, r, &req) {
		return
	}
	visit, err := s.trips.CreateVisit(r.Context(), actorOf(r), service.CreateVisitInput{
		TripID:     tripID,
		CustomerID: req.CustomerID,
		Summary:    req.Summary,
		Outcome:    req.Outcome,
		Location:   req.Location,
		Media:      req.Media,
		Mode:       req.Mode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, visit)
}

// ListVisits handles GET /trips/{tripID}/visits.
func (s *Server) ListVisits(w http.ResponseWriter, r *http.Request) {
	tripID, ok := pathUUID(w, r, "tripID")
	if !ok {
		return
	}
	visits, err := s.trips.ListVisits(r.Context(), actorOf(r), tripID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if visits == nil {
		visits = []domain.Visit{}
	}
	writeJSON(w, http.StatusOK, visits)
}

// CheckIn handles POST /visits/{visitID}/check-in.
func (s *Server) CheckIn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "visitID")
	if !ok {
		return
	}
	var req checkInRequest
	if !decode(w, r, &req) {
		return
	}
	visit, err := s.trips.CheckIn(r.Context(), actorOf(r), id, req.Location)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

// CheckOut handles POST /visits/{visitID}/check-out.
func (s *Server) CheckOut(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "visitID")
	if !ok {
		return
	}
	var req checkOutRequest
	if !decode(w, r, &req) {
		return
	}
	visit, err := s.trips.CheckOut(r.Context(), actorOf(r), id, req.Summary, req.Outcome)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

// CancelVisit handles POST /visits/{visitID}/cancel.
func (s *Server) CancelVisit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "visitID")
	if !ok {
		return
	}
	visit, err := s.trips.CancelVisit(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}
