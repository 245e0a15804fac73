package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/handler"
	"github.com/pkordes/fieldops/internal/service"
)

// mockCourierServicer is a test double for handler.CourierServicer.
type mockCourierServicer struct {
	handler.CourierServicer
	review          func(ctx context.Context, actor domain.Actor, id uuid.UUID, decision domain.DocumentStatus, reason string) (service.ReviewResult, error)
	setAvailability func(ctx context.Context, actor domain.Actor, available bool) (domain.CourierProfile, error)
	pendingDocs     func(ctx context.Context, actor domain.Actor) ([]domain.CourierDocument, error)
	myDocs          func(ctx context.Context, actor domain.Actor) ([]domain.CourierDocument, error)
	list            func(ctx context.Context, actor domain.Actor, f domain.CourierFilter, p domain.PaginationParams) ([]domain.CourierProfile, error)
}

func (m *mockCourierServicer) ReviewDocument(ctx context.Context, a domain.Actor, id uuid.UUID, d domain.DocumentStatus, reason string) (service.ReviewResult, error) {
	return m.review(ctx, a, id, d, reason)
}
func (m *mockCourierServicer) SetAvailability(ctx context.Context, a domain.Actor, available bool) (domain.CourierProfile, error) {
	return m.setAvailability(ctx, a, available)
}
func (m *mockCourierServicer) PendingDocuments(ctx context.Context, a domain.Actor) ([]domain.CourierDocument, error) {
	return m.pendingDocs(ctx, a)
}

func (m *mockCourierServicer) MyDocuments(ctx context.Context, a domain.Actor) ([]domain.CourierDocument, error) {
	return m.myDocs(ctx, a)
}
func (m *mockCourierServicer) ListCouriers(ctx context.Context, a domain.Actor, f domain.CourierFilter, p domain.PaginationParams) ([]domain.CourierProfile, error) {
	return m.list(ctx, a, f, p)
}

func courierServer(m *mockCourierServicer) *handler.Server {
	return handler.NewServer(nil, nil, m, nil)
}

func TestReviewDocument_200_ApprovesProfile(t *testing.T) {
	docID := uuid.New()
	svc := &mockCourierServicer{
		review: func(_ context.Context, _ domain.Actor, id uuid.UUID, d domain.DocumentStatus, _ string) (service.ReviewResult, error) {
			assert.Equal(t, docID, id)
			assert.Equal(t, domain.DocApproved, d)
			return service.ReviewResult{
				Document: domain.CourierDocument{ID: id, Status: domain.DocApproved},
				Profile:  domain.CourierProfile{Status: domain.CourierApproved, IsAvailable: true},
			}, nil
		},
	}
	rec := do(t, newHTTPHandler(courierServer(svc), actorWith(domain.RoleAdmin)), http.MethodPost,
		"/api/v1/documents/"+docID.String()+"/review", jsonBody(t, map[string]any{"decision": "APPROVED"}))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp service.ReviewResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, domain.CourierApproved, resp.Profile.Status)
	assert.True(t, resp.Profile.IsAvailable)
}

func TestReviewDocument_409_AlreadyReviewed(t *testing.T) {
	svc := &mockCourierServicer{
		review: func(context.Context, domain.Actor, uuid.UUID, domain.DocumentStatus, string) (service.ReviewResult, error) {
			return service.ReviewResult{}, fmt.Errorf("service.CourierService.ReviewDocument: %w: document already reviewed", domain.ErrTerminalState)
		},
	}
	rec := do(t, newHTTPHandler(courierServer(svc), actorWith(domain.RoleAdmin)), http.MethodPost,
		"/api/v1/documents/"+uuid.NewString()+"/review", jsonBody(t, map[string]any{"decision": "REJECTED", "reason": "blurry"}))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "terminal_state", errorCode(t, rec))
}

func TestSetAvailability_403_NotApproved(t *testing.T) {
	svc := &mockCourierServicer{
		setAvailability: func(context.Context, domain.Actor, bool) (domain.CourierProfile, error) {
			return domain.CourierProfile{}, fmt.Errorf("service.CourierService.SetAvailability: %w: profile is SUBMITTED", domain.ErrNotEligible)
		},
	}
	rec := do(t, newHTTPHandler(courierServer(svc), actorWith(domain.RoleDelivery)), http.MethodPut,
		"/api/v1/couriers/me/availability", jsonBody(t, map[string]any{"available": true}))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_eligible", errorCode(t, rec))
}

func TestListPendingDocuments_EmptyIsArray(t *testing.T) {
	svc := &mockCourierServicer{
		pendingDocs: func(context.Context, domain.Actor) ([]domain.CourierDocument, error) { return nil, nil },
	}
	rec := do(t, newHTTPHandler(courierServer(svc), actorWith(domain.RoleAdmin)), http.MethodGet, "/api/v1/documents/pending", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestReviewDocument_409_DraftProfile(t *testing.T) {
	svc := &mockCourierServicer{
		review: func(context.Context, domain.Actor, uuid.UUID, domain.DocumentStatus, string) (service.ReviewResult, error) {
			return service.ReviewResult{}, fmt.Errorf("service.CourierService.ReviewDocument: %w: application has not been submitted", domain.ErrPrecondition)
		},
	}
	rec := do(t, newHTTPHandler(courierServer(svc), actorWith(domain.RoleAdmin)), http.MethodPost,
		"/api/v1/documents/"+uuid.NewString()+"/review", jsonBody(t, map[string]any{"decision": "APPROVED"}))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "precondition_failed", errorCode(t, rec))
}

func TestListMyDocuments_ShowsRejectionReason(t *testing.T) {
	courier := uuid.New()
	svc := &mockCourierServicer{
		myDocs: func(_ context.Context, a domain.Actor) ([]domain.CourierDocument, error) {
			assert.Equal(t, courier, a.UserID)
			return []domain.CourierDocument{
				{ID: uuid.New(), Type: domain.DocIDCard, Status: domain.DocApproved},
				{ID: uuid.New(), Type: domain.DocDriverLicense, Status: domain.DocRejected, RejectionReason: "photo is blurry"},
			}, nil
		},
	}
	h := newHTTPHandler(courierServer(svc), domain.Actor{UserID: courier, Role: domain.RoleDelivery})

	rec := do(t, h, http.MethodGet, "/api/v1/couriers/me/documents", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var docs []domain.CourierDocument
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&docs))
	require.Len(t, docs, 2)
	assert.Equal(t, "photo is blurry", docs[1].RejectionReason)
}

func TestListCouriers_Filters(t *testing.T) {
	var (
		got  domain.CourierFilter
		page domain.PaginationParams
	)
	svc := &mockCourierServicer{
		list: func(_ context.Context, _ domain.Actor, f domain.CourierFilter, p domain.PaginationParams) ([]domain.CourierProfile, error) {
			got, page = f, p
			return []domain.CourierProfile{{ID: uuid.New(), Status: domain.CourierApproved, IsAvailable: true}}, nil
		},
	}

	rec := do(t, newHTTPHandler(courierServer(svc), actorWith(domain.RoleDispatcher)), http.MethodGet,
		"/api/v1/couriers?status=approved&available=true&limit=5", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got.Status)
	assert.Equal(t, domain.CourierApproved, *got.Status)
	require.NotNil(t, got.Available)
	assert.True(t, *got.Available)
	assert.Equal(t, 5, page.Limit)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body["data"], 1)
}

func TestListCouriers_BadQuery(t *testing.T) {
	for _, q := range []string{"status=ON_LEAVE", "available=maybe"} {
		t.Run(q, func(t *testing.T) {
			rec := do(t, newHTTPHandler(courierServer(&mockCourierServicer{}), actorWith(domain.RoleAdmin)), http.MethodGet,
				"/api/v1/couriers?"+q, nil)

			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, "validation_error", errorCode(t, rec))
		})
	}
}
