package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/service"
	"github.com/pkordes/fieldops/testutil"
)

func submitApplication(t *testing.T, f *fixture, courier domain.Actor) {
	t.Helper()
	_, err := f.couriers.Submit(context.Background(), courier, service.SubmitApplicationInput{
		VehicleType:  "scooter",
		VehiclePlate: "AB-123-CD",
		PayoutHolder: testutil.PersonName(),
		PayoutIBAN:   "fr76 3000 6000 0112 3456 7890 189",
	})
	require.NoError(t, err)
}

func upload(t *testing.T, f *fixture, courier domain.Actor, typ domain.DocumentType) domain.CourierDocument {
	t.Helper()
	doc, err := f.couriers.UploadDocument(context.Background(), courier, service.UploadDocumentInput{
		Type: typ, ContentType: "image/jpeg", Body: strings.NewReader("scan"),
	})
	require.NoError(t, err)
	return doc
}

// approvedCourier runs a courier through the whole onboarding gate.
func approvedCourier(t *testing.T, f *fixture) domain.Actor {
	t.Helper()
	courier := actor(domain.RoleDelivery)
	submitApplication(t, f, courier)
	for _, typ := range domain.RequiredDocuments {
		doc := upload(t, f, courier, typ)
		_, err := f.couriers.ReviewDocument(context.Background(), admin, doc.ID, domain.DocApproved, "")
		require.NoError(t, err)
	}
	return courier
}

func TestCourierService_Profile_CreatesDraft(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})

	p, err := f.couriers.Profile(context.Background(), actor(domain.RoleDelivery))

	require.NoError(t, err)
	assert.Equal(t, domain.CourierDraft, p.Status)
	assert.False(t, p.IsAvailable)
}

func TestCourierService_Submit(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	courier := actor(domain.RoleDelivery)

	_, err := f.couriers.Submit(ctx, courier, service.SubmitApplicationInput{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	submitApplication(t, f, courier)
	p, err := f.couriers.Profile(ctx, courier)
	require.NoError(t, err)
	assert.Equal(t, domain.CourierSubmitted, p.Status)
	assert.Equal(t, "FR7630006000011234567890189", p.PayoutIBAN)
}

func TestCourierService_UploadDocument_StoresBlob(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	courier := actor(domain.RoleDelivery)

	doc := upload(t, f, courier, domain.DocIDCard)

	assert.Equal(t, domain.DocPending, doc.Status)
	require.True(t, strings.HasPrefix(doc.FileRef, "mem://"), doc.FileRef)
	obj, ok := f.blobs.Get(strings.TrimPrefix(doc.FileRef, "mem://"))
	require.True(t, ok)
	assert.Equal(t, "scan", string(obj.Data))
}

func TestCourierService_UploadDocument_UnknownType(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})

	_, err := f.couriers.UploadDocument(context.Background(), actor(domain.RoleDelivery), service.UploadDocumentInput{
		Type: "PASSPORT", Body: strings.NewReader("x"),
	})

	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCourierService_PartialApprovalStaysSubmitted(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	courier := actor(domain.RoleDelivery)
	submitApplication(t, f, courier)
	id := upload(t, f, courier, domain.DocIDCard)
	upload(t, f, courier, domain.DocDriverLicense)

	res, err := f.couriers.ReviewDocument(context.Background(), admin, id.ID, domain.DocApproved, "")

	require.NoError(t, err)
	assert.Equal(t, domain.CourierSubmitted, res.Profile.Status)
	assert.False(t, res.Profile.IsAvailable)
	assert.Nil(t, res.Profile.ApprovedAt)
}

func TestCourierService_FullApproval(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	courier := approvedCourier(t, f)

	p, docs, err := f.couriers.GetProfile(context.Background(), courier.UserID)

	require.NoError(t, err)
	assert.Equal(t, domain.CourierApproved, p.Status)
	assert.True(t, p.IsAvailable)
	require.NotNil(t, p.ApprovedAt)
	assert.Len(t, docs, len(domain.RequiredDocuments))
	assert.Contains(t, f.activity.kinds(), domain.ActivityCourierReviewed)
}

func TestCourierService_ConcurrentReviewsApproveOnce(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	courier := actor(domain.RoleDelivery)
	submitApplication(t, f, courier)
	docs := []domain.CourierDocument{
		upload(t, f, courier, domain.DocIDCard),
		upload(t, f, courier, domain.DocDriverLicense),
	}

	var wg sync.WaitGroup
	for _, d := range docs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.couriers.ReviewDocument(context.Background(), admin, d.ID, domain.DocApproved, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, _, err := f.couriers.GetProfile(context.Background(), courier.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.CourierApproved, p.Status, "the later review must see the earlier one")
}

func TestCourierService_Reject(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	courier := actor(domain.RoleDelivery)
	submitApplication(t, f, courier)
	id := upload(t, f, courier, domain.DocIDCard)
	dl := upload(t, f, courier, domain.DocDriverLicense)

	_, err := f.couriers.ReviewDocument(ctx, admin, dl.ID, domain.DocRejected, "")
	assert.ErrorIs(t, err, domain.ErrValidation, "rejection needs a reason")

	_, err = f.couriers.ReviewDocument(ctx, admin, id.ID, domain.DocApproved, "")
	require.NoError(t, err)
	res, err := f.couriers.ReviewDocument(ctx, admin, dl.ID, domain.DocRejected, "licence expired")
	require.NoError(t, err)
	assert.Equal(t, domain.CourierRejected, res.Profile.Status)
	assert.Equal(t, "licence expired", res.Document.RejectionReason)

	_, err = f.couriers.ReviewDocument(ctx, admin, dl.ID, domain.DocApproved, "")
	assert.ErrorIs(t, err, domain.ErrTerminalState, "a reviewed document cannot be reviewed again")

	// A replacement upload can still carry the courier through.
	replacement := upload(t, f, courier, domain.DocDriverLicense)
	res, err = f.couriers.ReviewDocument(ctx, admin, replacement.ID, domain.DocApproved, "")
	require.NoError(t, err)
	assert.Equal(t, domain.CourierApproved, res.Profile.Status)
}

func TestCourierService_ExpiredDocumentDoesNotCount(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	courier := actor(domain.RoleDelivery)
	submitApplication(t, f, courier)
	id := upload(t, f, courier, domain.DocIDCard)
	expired := t0.Add(-time.Hour)
	dl, err := f.couriers.UploadDocument(ctx, courier, service.UploadDocumentInput{
		Type: domain.DocDriverLicense, Body: strings.NewReader("scan"), ExpiresAt: &expired,
	})
	require.NoError(t, err)

	_, err = f.couriers.ReviewDocument(ctx, admin, id.ID, domain.DocApproved, "")
	require.NoError(t, err)
	res, err := f.couriers.ReviewDocument(ctx, admin, dl.ID, domain.DocApproved, "")

	require.NoError(t, err)
	assert.Equal(t, domain.CourierSubmitted, res.Profile.Status)
}

func TestCourierService_SuspendAndReinstate(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	courier := approvedCourier(t, f)

	_, err := f.couriers.Suspend(ctx, admin, courier.UserID, " ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	p, err := f.couriers.Suspend(ctx, admin, courier.UserID, "customer complaints")
	require.NoError(t, err)
	assert.Equal(t, domain.CourierSuspended, p.Status)
	assert.False(t, p.IsAvailable)

	_, err = f.couriers.SetAvailability(ctx, courier, true)
	assert.ErrorIs(t, err, domain.ErrNotEligible)

	_, err = f.couriers.Suspend(ctx, admin, courier.UserID, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	p, err = f.couriers.Reinstate(ctx, admin, courier.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.CourierApproved, p.Status)
	assert.Empty(t, p.SuspensionReason)

	p, err = f.couriers.SetAvailability(ctx, courier, true)
	require.NoError(t, err)
	assert.True(t, p.IsAvailable)
}

func TestCourierService_PendingQueues(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	courier := actor(domain.RoleDelivery)
	submitApplication(t, f, courier)
	upload(t, f, courier, domain.DocIDCard)

	couriers, err := f.couriers.ListPendingCouriers(ctx)
	require.NoError(t, err)
	assert.Len(t, couriers, 1)

	docs, err := f.couriers.ListPendingDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestCourierService_ReviewDocument_DraftProfile(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	courier := actor(domain.RoleDelivery)
	docs := []domain.CourierDocument{
		upload(t, f, courier, domain.DocIDCard),
		upload(t, f, courier, domain.DocDriverLicense),
	}

	queued, err := f.couriers.ListPendingDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, queued, "documents of an unsubmitted application are not queued")

	_, err = f.couriers.ReviewDocument(ctx, admin, docs[0].ID, domain.DocApproved, "")
	require.ErrorIs(t, err, domain.ErrPrecondition)
	p, err := f.couriers.Profile(ctx, courier)
	require.NoError(t, err)
	assert.Equal(t, domain.CourierDraft, p.Status)

	submitApplication(t, f, courier)
	queued, err = f.couriers.ListPendingDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, queued, 2)

	var res service.ReviewResult
	for _, d := range docs {
		res, err = f.couriers.ReviewDocument(ctx, admin, d.ID, domain.DocApproved, "")
		require.NoError(t, err, "documents uploaded before submission stay reviewable")
	}
	assert.Equal(t, domain.CourierApproved, res.Profile.Status)
}

func TestCourierService_Reinstate_ExpiredDocument(t *testing.T) {
	f := newFixture(service.DeliveryConfig{})
	ctx := context.Background()
	courier := actor(domain.RoleDelivery)
	submitApplication(t, f, courier)
	expires := t0.Add(48 * time.Hour)
	id := upload(t, f, courier, domain.DocIDCard)
	dl, err := f.couriers.UploadDocument(ctx, courier, service.UploadDocumentInput{
		Type: domain.DocDriverLicense, Body: strings.NewReader("scan"), ExpiresAt: &expires,
	})
	require.NoError(t, err)
	for _, d := range []domain.CourierDocument{id, dl} {
		_, err := f.couriers.ReviewDocument(ctx, admin, d.ID, domain.DocApproved, "")
		require.NoError(t, err)
	}
	_, err = f.couriers.Suspend(ctx, admin, courier.UserID, "late deliveries")
	require.NoError(t, err)

	f.clock.Advance(72 * time.Hour)
	_, err = f.couriers.Reinstate(ctx, admin, courier.UserID)

	require.ErrorIs(t, err, domain.ErrPrecondition)
	p, err := f.couriers.Profile(ctx, courier)
	require.NoError(t, err)
	assert.Equal(t, domain.CourierSuspended, p.Status)
	assert.False(t, p.IsAvailable)
}
