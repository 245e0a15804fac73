package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/policy"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	authWait     = 10 * time.Second
	agentBuffer  = 16
)

// Verifier turns a bearer token into an actor.
type Verifier interface {
	Verify(token string) (domain.Actor, error)
}

// WSHandler serves the agent and observer WebSocket endpoints.
type WSHandler struct {
	svc      *Service
	verifier Verifier
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler returns handlers backed by svc. Origins are checked by the
// CORS layer, so the upgrader accepts any.
func NewWSHandler(svc *Service, verifier Verifier, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		svc:      svc,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

type agentAuth struct {
	Type         string           `json:"type"`
	Token        string           `json:"token"`
	AgentKind    domain.AgentKind `json:"agent_kind"`
	CorrelatedID uuid.UUID        `json:"correlated_id"`
}

type agentSample struct {
	Type       string    `json:"type"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

type agentReply struct {
	Type       string    `json:"type"`
	Applied    bool      `json:"applied,omitempty"`
	Orphaned   bool      `json:"orphaned,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Agent handles GET /ws/agent. The first frame must be an auth message; every
// later frame is a position sample answered with an ack.
func (h *WSHandler) Agent(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("agent upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var hello agentAuth
	_ = conn.SetReadDeadline(time.Now().Add(authWait))
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "auth" {
		closeWith(conn, websocket.ClosePolicyViolation, "auth message required")
		return
	}
	actor, err := h.verifier.Verify(hello.Token)
	if err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "invalid token")
		return
	}
	if err := policy.Check(actor, policy.TrackingPublish); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "role may not publish positions")
		return
	}
	if hello.AgentKind == domain.AgentDelivery && actor.Role != domain.RoleDelivery {
		closeWith(conn, websocket.ClosePolicyViolation, "only couriers track deliveries")
		return
	}

	ctx := r.Context()
	connID := uuid.NewString()
	if err := h.svc.RegisterAgent(ctx, connID, actor.UserID, hello.AgentKind, hello.CorrelatedID); err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			closeWith(conn, websocket.ClosePolicyViolation, "not the owner of this trip or delivery")
			return
		}
		closeWith(conn, websocket.CloseUnsupportedData, err.Error())
		return
	}
	defer h.svc.DeregisterAgent(context.WithoutCancel(ctx), connID)

	send := make(chan []byte, agentBuffer)
	done := make(chan struct{})
	go h.writePump(conn, send, done)
	defer close(done)

	writeReply(send, agentReply{Type: "ready"})

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg agentSample
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("agent read failed", "agent_id", actor.UserID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if msg.Type != "position" {
			writeReply(send, agentReply{Type: "error", Error: "unknown message type"})
			continue
		}

		loc := domain.GeoPoint{Lat: msg.Lat, Lon: msg.Lon, Accuracy: msg.Accuracy}
		cached, applied, err := h.svc.IngestFromConn(ctx, connID, loc, msg.CapturedAt)
		if err != nil {
			writeReply(send, agentReply{Type: "error", Error: err.Error()})
			continue
		}
		writeReply(send, agentReply{Type: "ack", Applied: applied, Orphaned: cached.Orphaned, CapturedAt: cached.CapturedAt})
	}
}

// Observe handles GET /ws/observe?token=...&kind=TRIP. The observer first
// receives the current snapshot and then every event the hub publishes.
func (h *WSHandler) Observe(w http.ResponseWriter, r *http.Request) {
	actor, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := policy.Check(actor, policy.TrackingObserve); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var kind *domain.AgentKind
	if k := domain.AgentKind(r.URL.Query().Get("kind")); k != "" {
		if !k.Valid() {
			http.Error(w, "unknown agent kind", http.StatusUnprocessableEntity)
			return
		}
		kind = &k
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("observer upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	hub := h.svc.Hub()
	obs := hub.Subscribe(uuid.NewString(), kind)
	defer hub.Unsubscribe(obs)

	for _, p := range h.svc.ListActive(kind) {
		ev := Event{Type: EventPosition, AgentID: p.AgentID, AgentKind: p.Kind, CorrelatedID: p.CorrelatedID, Position: &p, OccurredAt: p.CapturedAt}
		if err := writeJSON(conn, ev); err != nil {
			return
		}
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case msg, ok := <-obs.Send:
			if !ok {
				closeWith(conn, websocket.CloseTryAgainLater, "observer too slow")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("agent write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// writeReply queues an ack without blocking the read loop. Acks are advisory
// and are dropped when the agent is not reading them.
func writeReply(send chan<- []byte, reply agentReply) {
	b, err := json.Marshal(reply)
	if err != nil {
		return
	}
	select {
	case send <- b:
	default:
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
