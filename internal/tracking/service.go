package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fieldops/internal/domain"
)

// LivenessChecker reports whether an open trip or active delivery backs a
// tracked agent. It returns domain.ErrForbidden when the trip or delivery
// belongs to a different agent.
type LivenessChecker interface {
	IsLive(ctx context.Context, kind domain.AgentKind, correlatedID, agentID uuid.UUID) (bool, error)
}

// Publisher forwards local events to other instances.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// Service is the broadcast service: it owns the position store and the
// observer hub and keeps peers in sync through an optional relay.
type Service struct {
	store      *Store
	hub        *Hub
	liveness   LivenessChecker
	relay      Publisher
	instanceID string
	logger     *slog.Logger
	now        func() time.Time
}

// NewService wires a Service over store and hub.
func NewService(store *Store, hub *Hub, liveness LivenessChecker, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		hub:      hub,
		liveness: liveness,
		logger:   logger,
		now:      time.Now,
	}
}

// SetRelay enables cross-instance fan-out. instanceID tags outgoing messages
// so the consumer can skip its own.
func (s *Service) SetRelay(p Publisher, instanceID string) {
	s.relay = p
	s.instanceID = instanceID
}

// SetClock overrides the time source; tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Hub exposes the observer hub to the transport layer.
func (s *Service) Hub() *Hub { return s.hub }

// RegisterAgent binds a connection to an agent tracked for correlatedID.
// Only the trip owner or the assigned courier may register; a closed or
// unknown record is accepted and its samples are flagged orphaned.
func (s *Service) RegisterAgent(ctx context.Context, connID string, agentID uuid.UUID, kind domain.AgentKind, correlatedID uuid.UUID) error {
	if !kind.Valid() {
		return fmt.Errorf("tracking.Service.RegisterAgent: agent kind %q: %w", kind, domain.ErrValidation)
	}
	if agentID == uuid.Nil || correlatedID == uuid.Nil {
		return fmt.Errorf("tracking.Service.RegisterAgent: agent and correlated ids are required: %w", domain.ErrValidation)
	}
	if s.liveness != nil {
		if _, err := s.liveness.IsLive(ctx, kind, correlatedID, agentID); errors.Is(err, domain.ErrForbidden) {
			s.logger.Warn("agent rejected", "agent_id", agentID, "kind", kind, "correlated_id", correlatedID)
			return fmt.Errorf("tracking.Service.RegisterAgent: %w", err)
		}
	}

	s.store.Register(connID, agentID, kind, correlatedID)
	s.logger.Info("agent connected", "agent_id", agentID, "kind", kind, "correlated_id", correlatedID, "conn_id", connID)

	ev := Event{Type: EventAgentConnected, AgentID: agentID, AgentKind: kind, CorrelatedID: correlatedID, OccurredAt: s.now()}
	s.hub.Publish(ev)
	s.forward(ctx, Message{Event: ev})
	return nil
}

// IngestFromConn applies a sample sent over an agent connection.
func (s *Service) IngestFromConn(ctx context.Context, connID string, loc domain.GeoPoint, capturedAt time.Time) (domain.LivePosition, bool, error) {
	agentID, kind, correlatedID, ok := s.store.Session(connID)
	if !ok {
		return domain.LivePosition{}, false, fmt.Errorf("tracking.Service.IngestFromConn: connection not registered: %w", domain.ErrUnauthorized)
	}
	if err := loc.Validate(); err != nil {
		return domain.LivePosition{}, false, fmt.Errorf("tracking.Service.IngestFromConn: %w", err)
	}
	if capturedAt.IsZero() {
		capturedAt = s.now()
	}

	cached, applied := s.Ingest(ctx, domain.LivePosition{
		AgentID:      agentID,
		Kind:         kind,
		CorrelatedID: correlatedID,
		Lat:          loc.Lat,
		Lon:          loc.Lon,
		Accuracy:     loc.Accuracy,
		CapturedAt:   capturedAt.UTC(),
	})
	return cached, applied, nil
}

// Ingest applies p with last-write-wins on CapturedAt and fans it out when it
// wins. Samples with no open trip or delivery behind them are kept but
// flagged orphaned.
func (s *Service) Ingest(ctx context.Context, p domain.LivePosition) (domain.LivePosition, bool) {
	if s.liveness != nil {
		live, err := s.liveness.IsLive(ctx, p.Kind, p.CorrelatedID, p.AgentID)
		p.Orphaned = err != nil || !live
	}
	if p.Orphaned {
		s.logger.Warn("orphan position", "agent_id", p.AgentID, "kind", p.Kind, "correlated_id", p.CorrelatedID)
	}

	cached, applied := s.store.Apply(p)
	if !applied {
		s.logger.Debug("out of order position dropped", "agent_id", p.AgentID, "captured_at", p.CapturedAt, "cached_at", cached.CapturedAt)
		return cached, false
	}

	ev := Event{Type: EventPosition, AgentID: cached.AgentID, AgentKind: cached.Kind, CorrelatedID: cached.CorrelatedID, Position: &cached, OccurredAt: cached.CapturedAt}
	s.hub.Publish(ev)
	s.forward(ctx, Message{Event: ev})
	return cached, true
}

// DeregisterAgent releases connID. The last sample stays cached as stale.
func (s *Service) DeregisterAgent(ctx context.Context, connID string) {
	pos, ok := s.store.Disconnect(connID)
	if !ok {
		return
	}
	s.logger.Info("agent disconnected", "agent_id", pos.AgentID, "conn_id", connID)

	ev := Event{Type: EventAgentDisconnected, AgentID: pos.AgentID, AgentKind: pos.Kind, CorrelatedID: pos.CorrelatedID, OccurredAt: s.now()}
	s.hub.Publish(ev)
	s.forward(ctx, Message{Event: ev})
}

// EndTracking drops cached samples once their trip or delivery is closed.
func (s *Service) EndTracking(correlatedID uuid.UUID) {
	removed := s.store.Forget(correlatedID)
	if len(removed) > 0 {
		s.logger.Debug("tracking ended", "correlated_id", correlatedID, "agents", len(removed))
	}
	s.forward(context.Background(), Message{Forget: correlatedID})
}

// ListActive returns cached samples, optionally of one kind.
func (s *Service) ListActive(kind *domain.AgentKind) []domain.LivePosition {
	return s.store.List(kind)
}

// GetPosition returns the cached sample for agentID.
func (s *Service) GetPosition(agentID uuid.UUID) (domain.LivePosition, error) {
	p, ok := s.store.Get(agentID)
	if !ok {
		return domain.LivePosition{}, fmt.Errorf("tracking.Service.GetPosition: %w", domain.ErrNotFound)
	}
	return p, nil
}

// ApplyRemote replays a message published by another instance.
func (s *Service) ApplyRemote(m Message) {
	if m.Instance == s.instanceID {
		return
	}
	if m.Forget != uuid.Nil {
		s.store.Forget(m.Forget)
		return
	}

	switch m.Event.Type {
	case EventPosition:
		if m.Event.Position == nil {
			return
		}
		if _, applied := s.store.Apply(*m.Event.Position); !applied {
			return
		}
	case EventAgentDisconnected:
		s.store.MarkStale(m.Event.AgentID)
	case EventAgentConnected:
	default:
		return
	}
	s.hub.Publish(m.Event)
}

func (s *Service) forward(ctx context.Context, m Message) {
	if s.relay == nil {
		return
	}
	m.Instance = s.instanceID
	if err := s.relay.Publish(ctx, m); err != nil {
		s.logger.Warn("relay publish failed", "error", err, "type", m.Event.Type)
	}
}
