package api

import (
	"net/http"

	"github.com/deskpipe-io/deskpipe/internal/app"
	"github.com/deskpipe-io/deskpipe/internal/ticket"
)

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req app.ClaimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id is required"})
		return
	}
	t, err := s.app.Claim(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type assignRequest struct {
	TicketID string `json:"ticket_id"`
	AgentID  string `json:"agent_id"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TicketID == "" || req.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ticket_id and agent_id are required"})
		return
	}
	t, err := s.app.AssignTo(req.TicketID, req.AgentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req app.ReleaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TicketID == "" || req.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ticket_id and agent_id are required"})
		return
	}
	t, err := s.app.Release(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req app.TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TicketID == "" || req.FromAgentID == "" || req.ToAgentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ticket_id, from_agent_id and to_agent_id are required"})
		return
	}
	t, err := s.app.Transfer(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAvailable(w http.ResponseWriter, _ *http.Request) {
	tickets, err := s.app.Available()
	if err != nil {
		writeError(w, err)
		return
	}
	if tickets == nil {
		tickets = []*ticket.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (s *Server) handleMyTickets(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id is required"})
		return
	}
	tickets, err := s.app.MyTickets(agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if tickets == nil {
		tickets = []*ticket.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (s *Server) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.StatsForAgent(r.PathValue("agent_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
