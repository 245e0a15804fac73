// Package tracking holds the live position cache and fans samples out to
// observers over WebSocket, locally and across instances.
package tracking

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pkordes/fieldops/internal/domain"
)

type entry struct {
	mu        sync.Mutex
	pos       domain.LivePosition
	hasSample bool
	conns     int
	dead      bool
}

type session struct {
	agentID      uuid.UUID
	kind         domain.AgentKind
	correlatedID uuid.UUID
}

// Store is the in-memory registry of agents and their latest sample.
// Entries are locked individually so writers for different agents never contend.
type Store struct {
	agents   sync.Map // uuid.UUID -> *entry
	sessions sync.Map // connection id -> session
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// lockEntry returns the locked live entry for agentID, creating it if needed.
func (s *Store) lockEntry(agentID uuid.UUID) *entry {
	for {
		v, _ := s.agents.LoadOrStore(agentID, &entry{})
		e := v.(*entry)
		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

// Register binds connID to an agent and marks the agent live.
func (s *Store) Register(connID string, agentID uuid.UUID, kind domain.AgentKind, correlatedID uuid.UUID) {
	s.sessions.Store(connID, session{agentID: agentID, kind: kind, correlatedID: correlatedID})

	e := s.lockEntry(agentID)
	defer e.mu.Unlock()
	e.conns++
	e.pos.AgentID = agentID
	e.pos.Kind = kind
	e.pos.CorrelatedID = correlatedID
	e.pos.Stale = false
}

// Session returns the agent bound to connID.
func (s *Store) Session(connID string) (agentID uuid.UUID, kind domain.AgentKind, correlatedID uuid.UUID, ok bool) {
	v, ok := s.sessions.Load(connID)
	if !ok {
		return uuid.Nil, "", uuid.Nil, false
	}
	ss := v.(session)
	return ss.agentID, ss.kind, ss.correlatedID, true
}

// Apply stores p unless a sample with a later or equal CapturedAt is already
// cached. It returns the cached value after the call and whether p won.
// The stale flag follows the agent's connection state, not p.
func (s *Store) Apply(p domain.LivePosition) (domain.LivePosition, bool) {
	e := s.lockEntry(p.AgentID)
	defer e.mu.Unlock()

	if e.hasSample && !p.CapturedAt.After(e.pos.CapturedAt) {
		return e.pos, false
	}
	p.Stale = e.pos.Stale
	e.pos = p
	e.hasSample = true
	return e.pos, true
}

// Disconnect releases connID. When the agent has no connections left its
// cached sample is kept but flagged stale. ok is false for unknown connections.
func (s *Store) Disconnect(connID string) (pos domain.LivePosition, ok bool) {
	v, loaded := s.sessions.LoadAndDelete(connID)
	if !loaded {
		return domain.LivePosition{}, false
	}
	ss := v.(session)

	e := s.lockEntry(ss.agentID)
	defer e.mu.Unlock()
	if e.conns > 0 {
		e.conns--
	}
	if e.conns == 0 {
		e.pos.Stale = true
	}
	return e.pos, true
}

// MarkStale flags the cached sample of an agent served by another instance
// whose connection went away there.
func (s *Store) MarkStale(agentID uuid.UUID) {
	v, ok := s.agents.Load(agentID)
	if !ok {
		return
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conns == 0 {
		e.pos.Stale = true
	}
}

// Forget clears the cached samples correlated with correlatedID and returns
// the agents affected. Agents with no open connection are removed entirely.
func (s *Store) Forget(correlatedID uuid.UUID) []uuid.UUID {
	var removed []uuid.UUID
	s.agents.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.dead || e.pos.CorrelatedID != correlatedID {
			return true
		}
		e.hasSample = false
		if e.conns == 0 {
			e.dead = true
			s.agents.CompareAndDelete(k, v)
		}
		removed = append(removed, k.(uuid.UUID))
		return true
	})
	return removed
}

// Get returns the cached sample for agentID.
func (s *Store) Get(agentID uuid.UUID) (domain.LivePosition, bool) {
	v, ok := s.agents.Load(agentID)
	if !ok {
		return domain.LivePosition{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || !e.hasSample {
		return domain.LivePosition{}, false
	}
	return e.pos, true
}

// List returns every cached sample, optionally restricted to one kind,
// ordered by agent id.
func (s *Store) List(kind *domain.AgentKind) []domain.LivePosition {
	out := []domain.LivePosition{}
	s.agents.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if e.hasSample && (kind == nil || e.pos.Kind == *kind) {
			out = append(out, e.pos)
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].AgentID.String() < out[j].AgentID.String()
	})
	return out
}
