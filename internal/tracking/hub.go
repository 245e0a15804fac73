package tracking

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fieldops/internal/domain"
)

// Event types pushed to observers.
const (
	EventPosition          = "position"
	EventAgentConnected    = "agent_connected"
	EventAgentDisconnected = "agent_disconnected"
)

// Event is the message observers receive.
type Event struct {
	Type         string               `json:"type"`
	AgentID      uuid.UUID            `json:"agent_id"`
	AgentKind    domain.AgentKind     `json:"agent_kind"`
	CorrelatedID uuid.UUID            `json:"correlated_id"`
	Position     *domain.LivePosition `json:"position,omitempty"`
	OccurredAt   time.Time            `json:"occurred_at"`
}

// Observer is one subscribed dashboard connection. Send is closed when the
// hub drops or unsubscribes the observer.
type Observer struct {
	ID   string
	Kind *domain.AgentKind
	Send chan []byte
}

func (o *Observer) wants(ev Event) bool {
	return o.Kind == nil || *o.Kind == ev.AgentKind
}

// Hub fans events out to observers. Publish never blocks: an observer whose
// buffer is full is disconnected.
type Hub struct {
	mu        sync.RWMutex
	observers map[*Observer]struct{}
	buffer    int
	logger    *slog.Logger
}

// NewHub returns a Hub giving each observer a buffer of the given size.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		observers: make(map[*Observer]struct{}),
		buffer:    buffer,
		logger:    logger,
	}
}

// Subscribe registers a new observer, optionally filtered to one agent kind.
func (h *Hub) Subscribe(id string, kind *domain.AgentKind) *Observer {
	o := &Observer{ID: id, Kind: kind, Send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	h.observers[o] = struct{}{}
	h.mu.Unlock()
	return o
}

// Unsubscribe removes o and closes its channel. It is safe to call twice.
func (h *Hub) Unsubscribe(o *Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(o)
}

func (h *Hub) remove(o *Observer) bool {
	if _, ok := h.observers[o]; !ok {
		return false
	}
	delete(h.observers, o)
	close(o.Send)
	return true
}

// Len returns the number of subscribed observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Publish delivers ev to every interested observer.
func (h *Hub) Publish(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal hub event", "error", err, "type", ev.Type)
		return
	}

	var slow []*Observer
	h.mu.RLock()
	for o := range h.observers {
		if !o.wants(ev) {
			continue
		}
		select {
		case o.Send <- msg:
		default:
			slow = append(slow, o)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, o := range slow {
		if h.remove(o) {
			h.logger.Warn("observer dropped", "observer_id", o.ID, "buffer", h.buffer)
		}
	}
	h.mu.Unlock()
}
