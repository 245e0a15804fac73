// Package service implements the field operations state machines: trips and
// their visits, deliveries with their audit trail, and courier onboarding.
// Services depend on repo interfaces and on the small collaborator ports
// declared here, never on transport or concrete infrastructure.
package service

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fieldops/internal/domain"
)

// ActivityLog accepts fire-and-forget activity records for the CRM feed.
// Implementations must not block the caller on slow sinks.
type ActivityLog interface {
	Record(ctx context.Context, a domain.Activity)
}

// BlobStore persists uploaded documents and proofs and returns a stable reference.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// Tracker is the subset of the broadcast service the state machines drive.
type Tracker interface {
	// Ingest applies a sample to the position store and fans it out.
	// applied is false when a newer sample was already cached.
	Ingest(ctx context.Context, p domain.LivePosition) (cached domain.LivePosition, applied bool)

	// EndTracking drops cached positions correlated with a closed trip or delivery.
	EndTracking(correlatedID uuid.UUID)
}

type noopActivity struct{}

func (noopActivity) Record(context.Context, domain.Activity) {}

type noopTracker struct{}

func (noopTracker) Ingest(_ context.Context, p domain.LivePosition) (domain.LivePosition, bool) {
	return p, true
}
func (noopTracker) EndTracking(uuid.UUID) {}

func record(ctx context.Context, log ActivityLog, kind string, actor domain.Actor, subject uuid.UUID, at time.Time, msg string, attrs map[string]string) {
	log.Record(ctx, domain.Activity{
		ID:         uuid.New(),
		Kind:       kind,
		ActorID:    actor.UserID,
		SubjectID:  subject,
		Message:    msg,
		Attributes: attrs,
		OccurredAt: at,
	})
}
