package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alex-trdst/gemini-image-chat/internal/chat"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// Handler upgrades image chat WebSocket connections and routes inbound
// frames to the session's worker.
type Handler struct {
	registry      *chat.Registry
	cm            *ConnManager
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new WebSocket handler.
func NewHandler(registry *chat.Registry, cm *ConnManager, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		registry:      registry,
		cm:            cm,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// frameSender adapts a websocket connection to chat.Sender. Writes use
// context.Background(): the WebSocket library tracks its own connection
// state, and a request must be able to finish persisting after the
// originating read context is gone.
type frameSender struct {
	conn *websocket.Conn
}

func (s *frameSender) Send(frame chat.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	worker, err := h.registry.Acquire(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to acquire session worker", "session_id", sessionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	connID := h.cm.Register(sessionID, conn)
	defer h.cm.Unregister(sessionID, connID)

	worker.State.Bind(connID)
	defer worker.State.Unbind(connID)

	sender := &frameSender{conn: conn}

	// Connection acknowledgment, matching the protocol's connect behavior.
	connected := chat.StatusFrame("connected", map[string]any{"session_id": sessionID})
	if err := sender.Send(connected); err != nil {
		slog.Debug("Failed to send connect status", "error", err, "session_id", sessionID)
		return
	}

	h.readLoop(r.Context(), conn, worker, sender, sessionID)
	slog.Info("WebSocket session ended", "session_id", sessionID, "conn_id", connID)
}

// readLoop decodes inbound frames and enqueues accepted intents on the
// session worker in arrival order. Rejected frames get one error frame and
// never close the connection.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, worker *chat.Worker, sender *frameSender, sessionID string) {
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		intent, err := chat.DecodeFrame(raw)
		if err != nil {
			var verr *chat.ValidationError
			if errors.As(err, &verr) {
				errFrame := chat.ErrorFrame("validation_error", verr.Msg)
				if sendErr := sender.Send(errFrame); sendErr != nil {
					slog.Debug("Failed to send validation error", "error", sendErr, "session_id", sessionID)
				}
				continue
			}
			slog.Warn("Frame decode error", "error", err, "session_id", sessionID)
			continue
		}

		if err := worker.Enqueue(ctx, *intent, sender); err != nil {
			slog.Warn("Failed to enqueue intent", "error", err, "session_id", sessionID)
			return
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
