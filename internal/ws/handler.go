package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards are served from other origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientCommand is a control frame sent by a client.
type clientCommand struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Handler upgrades HTTP requests and runs the per-connection read loop.
type Handler struct {
	hub    *Hub
	logger *slog.Logger
}

func NewHandler(hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, logger: logger}
}

// ServeHTTP handles GET /ws?client_id=... . A missing client_id gets a
// generated one.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "client_id", clientID, "error", err)
		return
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	h.hub.Connect(clientID, conn)
	defer h.hub.Disconnect(clientID)

	for {
		var cmd clientCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("ws read error", "client_id", clientID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch cmd.Action {
		case "subscribe":
			if cmd.Channel == "" {
				h.hub.Send(clientID, map[string]any{"event": "error", "message": "channel required"})
				continue
			}
			h.hub.Subscribe(clientID, cmd.Channel)
		case "unsubscribe":
			if cmd.Channel == "" {
				h.hub.Send(clientID, map[string]any{"event": "error", "message": "channel required"})
				continue
			}
			h.hub.Unsubscribe(clientID, cmd.Channel)
		case "ping":
			h.hub.Send(clientID, map[string]any{"event": "pong"})
		default:
			h.hub.Send(clientID, map[string]any{"event": "error", "message": "unknown action"})
		}
	}
}
