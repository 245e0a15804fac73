package handler

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/service"
)

// maxUploadMemory is how much of a multipart upload is held in memory before
// spilling to temporary files.
const maxUploadMemory = 10 << 20

type createDeliveryRequest struct {
	OrderRef             string         `json:"order_ref"`
	CustomerID           uuid.UUID      `json:"customer_id"`
	Pickup               domain.Address `json:"pickup"`
	Dropoff              domain.Address `json:"dropoff"`
	FeeCents             int64          `json:"fee_cents"`
	CourierEarningsCents int64          `json:"courier_earnings_cents"`
	TipCents             int64          `json:"tip_cents"`
}

type assignRequest struct {
	CourierID uuid.UUID `json:"courier_id"`
}

type statusRequest struct {
	Status   domain.DeliveryStatus `json:"status"`
	Location *domain.GeoPoint      `json:"location"`
}

type noteRequest struct {
	Note string `json:"note"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type locationResponse struct {
	Position domain.LivePosition `json:"position"`
	Applied  bool                `json:"applied"`
}

// CreateDelivery handles POST /deliveries.
func (s *Server) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	var req createDeliveryRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := s.deliveries.CreateDelivery(r.Context(), actorOf(r), service.CreateDeliveryInput{
		OrderRef:             req.OrderRef,
		CustomerID:           req.CustomerID,
		Pickup:               req.Pickup,
		Dropoff:              req.Dropoff,
		FeeCents:             req.FeeCents,
		CourierEarningsCents: req.CourierEarningsCents,
		TipCents:             req.TipCents,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// ListDeliveries handles GET /deliveries?status=&courier_id=&page=&limit=.
func (s *Server) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParams(w, r)
	if !ok {
		return
	}
	courier, ok := queryUUID(w, r, "courier_id")
	if !ok {
		return
	}
	filter := domain.DeliveryFilter{CourierID: courier}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := domain.DeliveryStatus(raw)
		if !st.Valid() {
			requestError(w, "invalid status")
			return
		}
		filter.Status = &st
	}

	out, err := s.deliveries.ListDeliveries(r.Context(), actorOf(r), filter, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(out, page))
}

// GetDelivery handles GET /deliveries/{deliveryID}. The response carries the
// full ordered event history.
func (s *Server) GetDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "deliveryID")
	if !ok {
		return
	}
	detail, err := s.deliveries.GetDelivery(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// AssignDelivery handles POST /deliveries/{deliveryID}/assign.
func (s *Server) AssignDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "deliveryID")
	if !ok {
		return
	}
	var req assignRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CourierID == uuid.Nil {
		requestError(w, "courier_id is required")
		return
	}
	d, err := s.deliveries.AssignDelivery(r.Context(), actorOf(r), id, req.CourierID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// UpdateDeliveryStatus handles POST /deliveries/{deliveryID}/status.
func (s *Server) UpdateDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "deliveryID")
	if !ok {
		return
	}
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := s.deliveries.UpdateDeliveryStatus(r.Context(), actorOf(r), id, req.Status, req.Location)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// UpdateDeliveryLocation handles POST /deliveries/{deliveryID}/location.
// An out-of-order sample is answered 200 with applied=false and the newer
// cached position.
func (s *Server) UpdateDeliveryLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "deliveryID")
	if !ok {
		return
	}
	var req checkpointRequest
	if !decode(w, r, &req) {
		return
	}
	pos, applied, err := s.deliveries.UpdateDeliveryLocation(r.Context(), actorOf(r), id,
		domain.GeoPoint{Lat: req.Lat, Lon: req.Lon, Accuracy: req.Accuracy}, req.CapturedAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locationResponse{Position: pos, Applied: applied})
}

// AddProof handles POST /deliveries/{deliveryID}/proof as multipart/form-data
// with fields kind, recipient_name and file.
func (s *Server) AddProof(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "deliveryID")
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		if isTooLarge(err) {
			writeError(w, r, err)
			return
		}
		requestError(w, "expected multipart/form-data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		requestError(w, "file is required")
		return
	}
	defer file.Close()

	d, err := s.deliveries.AddProof(r.Context(), actorOf(r), id, service.ProofInput{
		Kind:          domain.ProofKind(strings.ToUpper(r.FormValue("kind"))),
		ContentType:   header.Header.Get("Content-Type"),
		Body:          file,
		RecipientName: r.FormValue("recipient_name"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// AddNote handles POST /deliveries/{deliveryID}/notes.
func (s *Server) AddNote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "deliveryID")
	if !ok {
		return
	}
	var req noteRequest
	if !decode(w, r, &req) {
		return
	}
	ev, err := s.deliveries.AddNote(r.Context(), actorOf(r), id, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// CancelDelivery handles POST /deliveries/{deliveryID}/cancel.
func (s *Server) CancelDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "deliveryID")
	if !ok {
		return
	}
	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := s.deliveries.CancelDelivery(r.Context(), actorOf(r), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
