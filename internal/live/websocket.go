package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/amumu-chat/amumu/internal/chat"
	"github.com/amumu-chat/amumu/internal/domain"
	"github.com/amumu-chat/amumu/internal/identity"
)

// Conversation is the subset of chat.Controller the socket needs.
type Conversation interface {
	State(ctx context.Context, deviceID string) (*domain.State, error)
	Send(ctx context.Context, deviceID, sessionID, text string) (*chat.SendResult, error)
	Pending(deviceID string) bool
}

// inbound is a client-to-server frame.
type inbound struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Limiter decides whether a device may start another exchange.
type Limiter interface {
	Allow(key string) bool
}

// WebSocketHandler serves /ws/chat.
type WebSocketHandler struct {
	conv          Conversation
	hub           *Hub
	limiter       Limiter
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(conv Conversation, hub *Hub, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		conv:          conv,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// SetLimiter throttles "send" frames with the same budget as the HTTP
// message endpoints. A nil limiter allows everything.
func (h *WebSocketHandler) SetLimiter(l Limiter) {
	h.limiter = l
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if deviceID == "" {
		http.Error(w, "unknown device", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "device_id", deviceID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "device_id", deviceID)
		}
	}()

	h.hub.Register(deviceID, sessionID, ws)
	defer h.hub.Unregister(deviceID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	state, err := h.conv.State(ctx, deviceID)
	if err != nil {
		slog.Error("Failed to load state for socket", "device_id", deviceID, "error", err)
		_ = writeFrame(ws, frame{Type: "error", Error: "state_unavailable"})
		return
	}
	if err := writeFrame(ws, frame{Type: chat.EventState, State: state}); err != nil {
		return
	}
	if h.conv.Pending(deviceID) {
		_ = writeFrame(ws, frame{Type: chat.EventTyping, Typing: true})
	}

	h.readLoop(ctx, ws, deviceID, sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	// Same-origin requests from the embedded UI.
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, deviceID, sessionID string) {
	for {
		var msg inbound
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "device_id", deviceID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "device_id", deviceID)
			}
			return
		}

		switch msg.Type {
		case "send":
			if h.limiter != nil && !h.limiter.Allow(deviceID) {
				slog.Warn("Socket send rate limited", "device_id", deviceID)
				_ = writeFrame(ws, frame{Type: "error", Error: "rate_limited"})
				continue
			}
			// Replies arrive through the hub; the read loop stays free for pings.
			go h.send(ctx, ws, deviceID, sessionID, msg.Text)
		case "ping":
			if err := writeFrame(ws, frame{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		default:
			_ = writeFrame(ws, frame{Type: "error", Error: "unknown_type"})
		}
	}
}

func (h *WebSocketHandler) send(ctx context.Context, ws *websocket.Conn, deviceID, sessionID, text string) {
	_, err := h.conv.Send(ctx, deviceID, sessionID, text)
	switch {
	case err == nil:
		return
	case errors.Is(err, chat.ErrBusy):
		_ = writeFrame(ws, frame{Type: "error", Error: "busy"})
	case errors.Is(err, chat.ErrEmptyMessage):
		_ = writeFrame(ws, frame{Type: "error", Error: "empty_message"})
	default:
		slog.Error("Socket send failed", "device_id", deviceID, "error", err)
		_ = writeFrame(ws, frame{Type: "error", Error: "send_failed"})
	}
}
