package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pkordes/fieldops/internal/domain"
)

var fixedTime = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func doc(typ domain.DocumentType, status domain.DocumentStatus) domain.CourierDocument {
	return domain.CourierDocument{Type: typ, Status: status}
}

func TestDeriveCourierStatus(t *testing.T) {
	expired := fixedTime.Add(-time.Hour)

	tests := []struct {
		name    string
		current domain.CourierStatus
		docs    []domain.CourierDocument
		want    domain.CourierStatus
	}{
		{
			name:    "identity approved, license pending stays submitted",
			current: domain.CourierSubmitted,
			docs: []domain.CourierDocument{
				doc(domain.DocIDCard, domain.DocApproved),
				doc(domain.DocDriverLicense, domain.DocPending),
			},
			want: domain.CourierSubmitted,
		},
		{
			name:    "both required approved",
			current: domain.CourierSubmitted,
			docs: []domain.CourierDocument{
				doc(domain.DocIDCard, domain.DocApproved),
				doc(domain.DocDriverLicense, domain.DocApproved),
			},
			want: domain.CourierApproved,
		},
		{
			name:    "optional documents do not matter",
			current: domain.CourierSubmitted,
			docs: []domain.CourierDocument{
				doc(domain.DocIDCard, domain.DocApproved),
				doc(domain.DocDriverLicense, domain.DocApproved),
				doc(domain.DocInsurance, domain.DocRejected),
			},
			want: domain.CourierApproved,
		},
		{
			name:    "rejected required document",
			current: domain.CourierSubmitted,
			docs: []domain.CourierDocument{
				doc(domain.DocIDCard, domain.DocRejected),
				doc(domain.DocDriverLicense, domain.DocApproved),
			},
			want: domain.CourierRejected,
		},
		{
			name:    "replacement approved after rejection",
			current: domain.CourierRejected,
			docs: []domain.CourierDocument{
				doc(domain.DocIDCard, domain.DocRejected),
				doc(domain.DocIDCard, domain.DocApproved),
				doc(domain.DocDriverLicense, domain.DocApproved),
			},
			want: domain.CourierApproved,
		},
		{
			name:    "expired approval does not count",
			current: domain.CourierSubmitted,
			docs: []domain.CourierDocument{
				doc(domain.DocIDCard, domain.DocApproved),
				{Type: domain.DocDriverLicense, Status: domain.DocApproved, ExpiresAt: &expired},
			},
			want: domain.CourierSubmitted,
		},
		{
			name:    "suspended is sticky",
			current: domain.CourierSuspended,
			docs: []domain.CourierDocument{
				doc(domain.DocIDCard, domain.DocApproved),
				doc(domain.DocDriverLicense, domain.DocApproved),
			},
			want: domain.CourierSuspended,
		},
		{
			name:    "draft is sticky",
			current: domain.CourierDraft,
			docs: []domain.CourierDocument{
				doc(domain.DocIDCard, domain.DocApproved),
				doc(domain.DocDriverLicense, domain.DocApproved),
			},
			want: domain.CourierDraft,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, domain.DeriveCourierStatus(tc.current, tc.docs, fixedTime))
		})
	}
}
