package api

import (
	"net/http"
	"strconv"

	"github.com/deskpipe-io/deskpipe/internal/queue"
	"github.com/deskpipe-io/deskpipe/internal/ticket"
)

func (s *Server) parseQueueName(w http.ResponseWriter, r *http.Request) (ticket.Queue, bool) {
	q, err := ticket.ParseQueue(r.PathValue("name"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return "", false
	}
	return q, true
}

func (s *Server) handleAllQueues(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"queues": s.app.Queues.AllStats()})
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	q, ok := s.parseQueueName(w, r)
	if !ok {
		return
	}
	entries := s.app.Queues.PeekQueue(q, 0)
	if entries == nil {
		entries = []queue.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":   q,
		"stats":   s.app.Queues.Stats(q),
		"entries": entries,
	})
}

func (s *Server) handlePeekQueue(w http.ResponseWriter, r *http.Request) {
	q, ok := s.parseQueueName(w, r)
	if !ok {
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries := s.app.Queues.PeekQueue(q, limit)
	if entries == nil {
		entries = []queue.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": q, "entries": entries})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	q, ok := s.parseQueueName(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.app.Queues.Stats(q))
}

func (s *Server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	q, ok := s.parseQueueName(w, r)
	if !ok {
		return
	}
	priorityBased := r.URL.Query().Get("priority") != "false"

	t, err := s.app.Dequeue(q, priorityBased)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type moveRequest struct {
	TicketID  string `json:"ticket_id"`
	FromQueue string `json:"from_queue"`
	ToQueue   string `json:"to_queue"`
	Reason    string `json:"reason"`
	Actor     string `json:"actor"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from, err := ticket.ParseQueue(req.FromQueue)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	to, err := ticket.ParseQueue(req.ToQueue)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "api"
	}

	t, err := s.app.MoveTicket(req.TicketID, from, to, req.Reason, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries := s.app.Queues.AuditLog(r.URL.Query().Get("ticket_id"), limit)
	if entries == nil {
		entries = []queue.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
