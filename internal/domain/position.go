package domain

import (
	"time"

	"github.com/google/uuid"
)

// AgentKind says what an agent is tracked for.
type AgentKind string

const (
	AgentTrip     AgentKind = "TRIP"
	AgentDelivery AgentKind = "DELIVERY"
)

// Valid reports whether k is a known kind.
func (k AgentKind) Valid() bool {
	return k == AgentTrip || k == AgentDelivery
}

// LivePosition is the cached most recent sample for one agent.
// It is never persisted; checkpoints and delivery events are the durable trail.
type LivePosition struct {
	AgentID      uuid.UUID `json:"agent_id"`
	Kind         AgentKind `json:"agent_kind"`
	CorrelatedID uuid.UUID `json:"correlated_id"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Accuracy     *float64  `json:"accuracy,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`

	// Stale is set once the agent's connection is gone.
	Stale bool `json:"stale"`
	// Orphaned is set when no open trip or delivery backs the sample.
	Orphaned bool `json:"orphaned"`
}
