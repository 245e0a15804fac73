// Package handler implements the HTTP command and query surface of the field
// operations API. Handlers decode the request, take the caller from the
// authenticated context and delegate to the dispatch coordinator.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	"github.com/pkordes/fieldops/internal/dispatch"
	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/middleware"
	"github.com/pkordes/fieldops/internal/service"
)

// TripServicer defines the trip and visit operations the handlers depend on.
// Defining the interface here (in the consumer package) lets handler tests
// inject a mock without touching the database or service layer.
type TripServicer interface {
	StartTrip(ctx context.Context, actor domain.Actor, in service.StartTripInput) (domain.Trip, error)
	AddCheckpoint(ctx context.Context, actor domain.Actor, tripID uuid.UUID, loc domain.GeoPoint, capturedAt time.Time) (domain.Checkpoint, error)
	EndTrip(ctx context.Context, actor domain.Actor, tripID uuid.UUID, in service.EndTripInput) (domain.Trip, error)
	GetTrip(ctx context.Context, actor domain.Actor, tripID uuid.UUID) (domain.Trip, error)
	ActiveTrip(ctx context.Context, actor domain.Actor) (domain.Trip, error)
	ListTrips(ctx context.Context, actor domain.Actor, filter domain.TripFilter, page domain.PaginationParams) ([]domain.Trip, error)
	TripOverview(ctx context.Context, actor domain.Actor, tripID uuid.UUID) (dispatch.TripOverview, error)
	RecoverStaleTrips(ctx context.Context, actor domain.Actor) ([]domain.Trip, error)
	ValidateTrip(ctx context.Context, actor domain.Actor, tripID uuid.UUID, notes string) (domain.Trip, error)
	ReimburseTrip(ctx context.Context, actor domain.Actor, tripID uuid.UUID) (domain.Trip, error)
	ExportExpenses(ctx context.Context, actor domain.Actor, filter domain.ExpenseFilter) ([]domain.ExpenseRow, error)

	CreateVisit(ctx context.Context, actor domain.Actor, in service.CreateVisitInput) (domain.Visit, error)
	CheckIn(ctx context.Context, actor domain.Actor, visitID uuid.UUID, loc *domain.GeoPoint) (domain.Visit, error)
	CheckOut(ctx context.Context, actor domain.Actor, visitID uuid.UUID, summary, outcome string) (domain.Visit, error)
	CancelVisit(ctx context.Context, actor domain.Actor, visitID uuid.UUID) (domain.Visit, error)
	ListVisits(ctx context.Context, actor domain.Actor, tripID uuid.UUID) ([]domain.Visit, error)
}

// DeliveryServicer defines the delivery operations the handlers depend on.
type DeliveryServicer interface {
	CreateDelivery(ctx context.Context, actor domain.Actor, in service.CreateDeliveryInput) (domain.Delivery, error)
	AssignDelivery(ctx context.Context, actor domain.Actor, deliveryID, courierUserID uuid.UUID) (domain.Delivery, error)
	UpdateDeliveryStatus(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, next domain.DeliveryStatus, geo *domain.GeoPoint) (domain.Delivery, error)
	UpdateDeliveryLocation(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, loc domain.GeoPoint, capturedAt time.Time) (domain.LivePosition, bool, error)
	AddProof(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, in service.ProofInput) (domain.Delivery, error)
	AddNote(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, note string) (domain.DeliveryEvent, error)
	CancelDelivery(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID, reason string) (domain.Delivery, error)
	GetDelivery(ctx context.Context, actor domain.Actor, deliveryID uuid.UUID) (dispatch.DeliveryDetail, error)
	ListDeliveries(ctx context.Context, actor domain.Actor, filter domain.DeliveryFilter, page domain.PaginationParams) ([]domain.Delivery, error)
}

// CourierServicer defines the onboarding operations the handlers depend on.
type CourierServicer interface {
	MyCourierProfile(ctx context.Context, actor domain.Actor) (domain.CourierProfile, error)
	SubmitApplication(ctx context.Context, actor domain.Actor, in service.SubmitApplicationInput) (domain.CourierProfile, error)
	UploadDocument(ctx context.Context, actor domain.Actor, in service.UploadDocumentInput) (domain.CourierDocument, error)
	SetAvailability(ctx context.Context, actor domain.Actor, available bool) (domain.CourierProfile, error)
	ReviewDocument(ctx context.Context, actor domain.Actor, documentID uuid.UUID, decision domain.DocumentStatus, reason string) (service.ReviewResult, error)
	SuspendCourier(ctx context.Context, actor domain.Actor, userID uuid.UUID, reason string) (domain.CourierProfile, error)
	ReinstateCourier(ctx context.Context, actor domain.Actor, userID uuid.UUID) (domain.CourierProfile, error)
	GetCourier(ctx context.Context, actor domain.Actor, userID uuid.UUID) (dispatch.CourierDetail, error)
	PendingCouriers(ctx context.Context, actor domain.Actor) ([]domain.CourierProfile, error)
	PendingDocuments(ctx context.Context, actor domain.Actor) ([]domain.CourierDocument, error)
	MyDocuments(ctx context.Context, actor domain.Actor) ([]domain.CourierDocument, error)
	ListCouriers(ctx context.Context, actor domain.Actor, filter domain.CourierFilter, page domain.PaginationParams) ([]domain.CourierProfile, error)
}

// PositionServicer defines the live position queries.
type PositionServicer interface {
	ActiveAgents(ctx context.Context, actor domain.Actor, kind *domain.AgentKind) ([]domain.LivePosition, error)
	AgentPosition(ctx context.Context, actor domain.Actor, agentID uuid.UUID) (domain.LivePosition, error)
}

// compile-time check: the coordinator serves every handler.
var (
	_ TripServicer     = (*dispatch.Coordinator)(nil)
	_ DeliveryServicer = (*dispatch.Coordinator)(nil)
	_ CourierServicer  = (*dispatch.Coordinator)(nil)
	_ PositionServicer = (*dispatch.Coordinator)(nil)
)

// Server holds the handler dependencies. Methods are split into
// domain-specific files but all operate on this struct.
type Server struct {
	trips      TripServicer
	deliveries DeliveryServicer
	couriers   CourierServicer
	positions  PositionServicer
}

// NewServer constructs the Server with all its dependencies.
func NewServer(trips TripServicer, deliveries DeliveryServicer, couriers CourierServicer, positions PositionServicer) *Server {
	return &Server{trips: trips, deliveries: deliveries, couriers: couriers, positions: positions}
}

// Routes registers the authenticated API. The caller mounts it under /api/v1
// behind middleware.NewAuthenticator.
func (s *Server) Routes(r chi.Router) {
	r.Route("/trips", func(r chi.Router) {
		r.Get("/", s.ListTrips)
		r.Post("/", s.StartTrip)
		r.Get("/active", s.GetActiveTrip)
		r.Post("/recover", s.RecoverStaleTrips)
		r.Get("/export", s.ExportExpenses)
		r.Route("/{tripID}", func(r chi.Router) {
			r.Get("/", s.GetTrip)
			r.Get("/overview", s.GetTripOverview)
			r.Post("/end", s.EndTrip)
			r.Post("/checkpoints", s.AddCheckpoint)
			r.Get("/visits", s.ListVisits)
			r.Post("/visits", s.CreateVisit)
			r.Post("/validate", s.ValidateTrip)
			r.Post("/reimburse", s.ReimburseTrip)
		})
	})
	r.Route("/visits/{visitID}", func(r chi.Router) {
		r.Post("/check-in", s.CheckIn)
		r.Post("/check-out", s.CheckOut)
		r.Post("/cancel", s.CancelVisit)
	})
	r.Route("/deliveries", func(r chi.Router) {
		r.Get("/", s.ListDeliveries)
		r.Post("/", s.CreateDelivery)
		r.Route("/{deliveryID}", func(r chi.Router) {
			r.Get("/", s.GetDelivery)
			r.Post("/assign", s.AssignDelivery)
			r.Post("/status", s.UpdateDeliveryStatus)
			r.Post("/location", s.UpdateDeliveryLocation)
			r.Post("/proof", s.AddProof)
			r.Post("/notes", s.AddNote)
			r.Post("/cancel", s.CancelDelivery)
		})
	})
	r.Route("/couriers", func(r chi.Router) {
		r.Get("/", s.ListCouriers)
		r.Get("/me", s.GetMyCourierProfile)
		r.Post("/me/application", s.SubmitApplication)
		r.Get("/me/documents", s.ListMyDocuments)
		r.Post("/me/documents", s.UploadDocument)
		r.Put("/me/availability", s.SetAvailability)
		r.Get("/pending", s.ListPendingCouriers)
		r.Get("/{userID}", s.GetCourier)
		r.Post("/{userID}/suspend", s.SuspendCourier)
		r.Post("/{userID}/reinstate", s.ReinstateCourier)
	})
	r.Get("/documents/pending", s.ListPendingDocuments)
	r.Post("/documents/{documentID}/review", s.ReviewDocument)
	r.Get("/positions", s.ListPositions)
	r.Get("/positions/{agentID}", s.GetPosition)
}

// ---- shared helpers --------------------------------------------------------

func actorOf(r *http.Request) domain.Actor {
	a, _ := middleware.ActorFrom(r.Context())
	return a
}

// pathUUID binds a UUID path parameter, writing a 422 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	var id uuid.UUID
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		requestError(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// pageParams binds the optional ?page= and ?limit= query parameters.
func pageParams(w http.ResponseWriter, r *http.Request) (domain.PaginationParams, bool) {
	var page, limit *int
	if err := runtime.BindQueryParameter("form", true, false, "page", r.URL.Query(), &page); err != nil {
		requestError(w, "invalid page")
		return domain.PaginationParams{}, false
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		requestError(w, "invalid limit")
		return domain.PaginationParams{}, false
	}
	return domain.NewPaginationParams(page, limit), true
}

// queryUUID parses an optional UUID query parameter.
func queryUUID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		requestError(w, "invalid "+name)
		return nil, false
	}
	return &id, true
}

// decode reads a JSON body into v, writing a 422 (or 413) on failure.
// An empty body decodes to the zero value.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, err)
			return false
		}
		if errors.Is(err, io.EOF) {
			return true
		}
		requestError(w, "malformed JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListResponse wraps list results with the pagination that produced them.
type ListResponse[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination echoes the effective page and limit.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func listOf[T any](items []T, page domain.PaginationParams) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Data: items, Pagination: Pagination{Page: page.Page, Limit: page.Limit}}
}
