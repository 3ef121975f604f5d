// Package api is the deskpipe REST and WebSocket surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/deskpipe-io/deskpipe/internal/app"
	"github.com/deskpipe-io/deskpipe/internal/logring"
	"github.com/deskpipe-io/deskpipe/internal/ticket"
	"github.com/deskpipe-io/deskpipe/internal/ws"
)

// LogQuerier abstracts log queries to avoid coupling to logring directly.
type LogQuerier interface {
	Query(since time.Time, minLevel slog.Level, ticketID string, limit int) []logring.Entry
}

// Config holds API server settings.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth; empty disables auth
}

// Server is the deskpipe HTTP server.
type Server struct {
	app    *app.App
	hub    *ws.Hub
	cfg    Config
	logger *slog.Logger
	logs   LogQuerier
	srv    *http.Server
}

// NewServer creates the server and wires all routes. logs may be nil.
func NewServer(a *app.App, hub *ws.Hub, cfg Config, logger *slog.Logger, logs LogQuerier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		app:    a,
		hub:    hub,
		cfg:    cfg,
		logger: logger,
		logs:   logs,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /ws", ws.NewHandler(hub, logger.With("component", "ws")))
	mux.HandleFunc("GET /ws/stats", s.handleWSStats)

	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))
	mux.HandleFunc("GET /api/agents", s.requireAuth(s.handleListAgents))

	mux.HandleFunc("POST /api/tickets/ingest", s.requireAuth(s.handleIngest))
	mux.HandleFunc("GET /api/tickets", s.requireAuth(s.handleListTickets))
	mux.HandleFunc("GET /api/tickets/{id}", s.requireAuth(s.handleGetTicket))
	mux.HandleFunc("PATCH /api/tickets/{id}", s.requireAuth(s.handleUpdateTicket))
	mux.HandleFunc("DELETE /api/tickets/{id}", s.requireAuth(s.handleDeleteTicket))
	mux.HandleFunc("POST /api/tickets/{id}/triage_complete", s.requireAuth(s.handleTriageComplete))
	mux.HandleFunc("POST /api/tickets/{id}/resolve", s.requireAuth(s.handleResolve))

	mux.HandleFunc("GET /api/queues", s.requireAuth(s.handleAllQueues))
	mux.HandleFunc("GET /api/queues/audit", s.requireAuth(s.handleAuditLog))
	mux.HandleFunc("POST /api/queues/move", s.requireAuth(s.handleMove))
	mux.HandleFunc("GET /api/queues/{name}", s.requireAuth(s.handleGetQueue))
	mux.HandleFunc("GET /api/queues/{name}/peek", s.requireAuth(s.handlePeekQueue))
	mux.HandleFunc("GET /api/queues/{name}/stats", s.requireAuth(s.handleQueueStats))
	mux.HandleFunc("POST /api/queues/{name}/dequeue", s.requireAuth(s.handleDequeue))

	mux.HandleFunc("POST /api/distribution/claim", s.requireAuth(s.handleClaim))
	mux.HandleFunc("POST /api/distribution/assign", s.requireAuth(s.handleAssign))
	mux.HandleFunc("POST /api/distribution/release", s.requireAuth(s.handleRelease))
	mux.HandleFunc("POST /api/distribution/transfer", s.requireAuth(s.handleTransfer))
	mux.HandleFunc("GET /api/distribution/available", s.requireAuth(s.handleAvailable))
	mux.HandleFunc("GET /api/distribution/my-tickets", s.requireAuth(s.handleMyTickets))
	mux.HandleFunc("GET /api/distribution/agent-stats/{agent_id}", s.requireAuth(s.handleAgentStats))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Service handlers ---

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "deskpipe",
		"queues":  ticket.AllQueues,
		"endpoints": []string{
			"/api/tickets", "/api/queues", "/api/distribution", "/ws",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWSStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Stats())
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Agents())
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logring.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	switch strings.ToLower(r.URL.Query().Get("level")) {
	case "info":
		minLevel = slog.LevelInfo
	case "warn":
		minLevel = slog.LevelWarn
	case "error":
		minLevel = slog.LevelError
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = time.UnixMilli(ms)
		}
	}

	entries := s.logs.Query(since, minLevel, r.URL.Query().Get("ticket_id"), limit)
	if entries == nil {
		entries = []logring.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps application errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var br *app.ErrBadRequest
	var ite *ticket.InvalidTransitionError
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, app.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.As(err, &br):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": br.Reason})
	case errors.As(err, &ite):
		writeJSON(w, http.StatusConflict, map[string]string{"error": ite.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return false
	}
	return true
}
