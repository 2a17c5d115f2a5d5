package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"agenthub/internal/domain"
)

// AgentsResponse is the body of GET /api/v1/agents.
type AgentsResponse struct {
	Agents        []domain.AgentStatus `json:"agents"`
	UptimeSeconds int64                `json:"uptime_seconds"`
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, AgentsResponse{
		Agents:        s.control.Statuses(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "agents": len(s.control.Statuses())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
