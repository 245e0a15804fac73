package handler

import (
	"net/http"

	"github.com/pkordes/fieldops/internal/domain"
)

// ListPositions handles GET /positions?kind=TRIP|DELIVERY.
func (s *Server) ListPositions(w http.ResponseWriter, r *http.Request) {
	var kind *domain.AgentKind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k := domain.AgentKind(raw)
		if !k.Valid() {
			requestError(w, "invalid kind")
			return
		}
		kind = &k
	}
	out, err := s.positions.ActiveAgents(r.Context(), actorOf(r), kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPosition handles GET /positions/{agentID}.
func (s *Server) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "agentID")
	if !ok {
		return
	}
	pos, err := s.positions.AgentPosition(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
