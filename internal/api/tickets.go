package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/deskpipe-io/deskpipe/internal/app"
	"github.com/deskpipe-io/deskpipe/internal/store"
	"github.com/deskpipe-io/deskpipe/internal/ticket"
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req app.IngestRequest
	if !decodeBody(w, r, &req) {
		return
	}

	t, pos, err := s.app.Ingest(req)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"ticket_id":         t.ID,
		"status":            string(t.Status),
		"queue":             string(t.CurrentQueue),
		"position_in_queue": pos,
		"created_at":        t.CreatedAt.Format(time.RFC3339Nano),
	}
	if wait, ok := s.app.Queues.EstimateWait(t.ID); ok {
		resp["estimated_time_to_triage"] = int(wait.Seconds())
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.Filter{
		Assignee: q.Get("assignee"),
	}
	if v := q.Get("status"); v != "" {
		st, err := ticket.ParseStatus(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		filter.Status = st
	}
	if v := q.Get("queue"); v != "" {
		qu, err := ticket.ParseQueue(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		filter.Queue = qu
	}
	if v := q.Get("priority"); v != "" {
		p, err := ticket.ParsePriority(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		filter.Priority = p
	}
	if v := q.Get("category"); v != "" {
		c, err := ticket.ParseCategory(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		filter.Category = c
	}
	if v := q.Get("source"); v != "" {
		src, err := ticket.ParseSource(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		filter.Source = src
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Offset = n
		}
	}

	tickets, total, err := s.app.List(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if tickets == nil {
		tickets = []*ticket.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tickets": tickets,
		"total":   total,
	})
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.app.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{"ticket": t}
	if q, pos, ok := s.app.Queues.Position(t.ID); ok {
		resp["queue_position"] = pos
		resp["queue"] = string(q)
		if wait, ok := s.app.Queues.EstimateWait(t.ID); ok {
			resp["estimated_wait_seconds"] = int(wait.Seconds())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	var req app.UpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := s.app.Update(r.PathValue("id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Delete(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriageComplete(w http.ResponseWriter, r *http.Request) {
	var req app.TriageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := s.app.CompleteTriage(r.PathValue("id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req app.ResolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := s.app.Resolve(r.PathValue("id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
