package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/service"
)

type applicationRequest struct {
	VehicleType  string `json:"vehicle_type"`
	VehiclePlate string `json:"vehicle_plate"`
	PayoutHolder string `json:"payout_holder"`
	PayoutIBAN   string `json:"payout_iban"`
}

type availabilityRequest struct {
	Available bool `json:"available"`
}

type reviewRequest struct {
	Decision domain.DocumentStatus `json:"decision"`
	Reason   string                `json:"reason"`
}

type suspendRequest struct {
	Reason string `json:"reason"`
}

// GetMyCourierProfile handles GET /couriers/me.
func (s *Server) GetMyCourierProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.couriers.MyCourierProfile(r.Context(), actorOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SubmitApplication handles POST /couriers/me/application.
func (s *Server) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	var req applicationRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.couriers.SubmitApplication(r.Context(), actorOf(r), service.SubmitApplicationInput{
		VehicleType:  req.VehicleType,
		VehiclePlate: req.VehiclePlate,
		PayoutHolder: req.PayoutHolder,
		PayoutIBAN:   req.PayoutIBAN,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UploadDocument handles POST /couriers/me/documents as multipart/form-data
// with fields type, expires_at (RFC 3339, optional) and file.
func (s *Server) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		if isTooLarge(err) {
			writeError(w, r, err)
			return
		}
		requestError(w, "expected multipart/form-data")
		return
	}
	expires, err := parseTime(r.FormValue("expires_at"))
	if err != nil {
		requestError(w, "expires_at must be RFC 3339")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		requestError(w, "file is required")
		return
	}
	defer file.Close()

	doc, err := s.couriers.UploadDocument(r.Context(), actorOf(r), service.UploadDocumentInput{
		Type:        domain.DocumentType(strings.ToUpper(r.FormValue("type"))),
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
		ExpiresAt:   expires,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// ListMyDocuments handles GET /couriers/me/documents.
func (s *Server) ListMyDocuments(w http.ResponseWriter, r *http.Request) {
	out, err := s.couriers.MyDocuments(r.Context(), actorOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []domain.CourierDocument{}
	}
	writeJSON(w, http.StatusOK, out)
}

// ListCouriers handles GET /couriers.
// Supports ?status=, ?available=, ?page= and ?limit=.
func (s *Server) ListCouriers(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParams(w, r)
	if !ok {
		return
	}
	var filter domain.CourierFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := domain.CourierStatus(strings.ToUpper(raw))
		if !st.Valid() {
			requestError(w, "invalid status")
			return
		}
		filter.Status = &st
	}
	if err := runtime.BindQueryParameter("form", true, false, "available", r.URL.Query(), &filter.Available); err != nil {
		requestError(w, "available must be true or false")
		return
	}

	out, err := s.couriers.ListCouriers(r.Context(), actorOf(r), filter, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(out, page))
}

// SetAvailability handles PUT /couriers/me/availability.
func (s *Server) SetAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.couriers.SetAvailability(r.Context(), actorOf(r), req.Available)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetCourier handles GET /couriers/{userID}.
func (s *Server) GetCourier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	detail, err := s.couriers.GetCourier(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ListPendingCouriers handles GET /couriers/pending.
func (s *Server) ListPendingCouriers(w http.ResponseWriter, r *http.Request) {
	out, err := s.couriers.PendingCouriers(r.Context(), actorOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []domain.CourierProfile{}
	}
	writeJSON(w, http.StatusOK, out)
}

// ListPendingDocuments handles GET /documents/pending.
func (s *Server) ListPendingDocuments(w http.ResponseWriter, r *http.Request) {
	out, err := s.couriers.PendingDocuments(r.Context(), actorOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []domain.CourierDocument{}
	}
	writeJSON(w, http.StatusOK, out)
}

// ReviewDocument handles POST /documents/{documentID}/review.
func (s *Server) ReviewDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "documentID")
	if !ok {
		return
	}
	var req reviewRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.couriers.ReviewDocument(r.Context(), actorOf(r), id, req.Decision, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SuspendCourier handles POST /couriers/{userID}/suspend.
func (s *Server) SuspendCourier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	var req suspendRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.couriers.SuspendCourier(r.Context(), actorOf(r), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ReinstateCourier handles POST /couriers/{userID}/reinstate.
func (s *Server) ReinstateCourier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	p, err := s.couriers.ReinstateCourier(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

// parseTime parses an optional RFC 3339 form value.
func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
