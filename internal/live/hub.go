// Package live pushes conversation updates to open browser tabs over
// WebSocket and accepts chat input from them.
package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/amumu-chat/amumu/internal/chat"
	"github.com/amumu-chat/amumu/internal/domain"
)

const writeTimeout = 5 * time.Second

// frame is the JSON envelope for every server-to-client message.
type frame struct {
	Type   string        `json:"type"`
	State  *domain.State `json:"state,omitempty"`
	Typing bool          `json:"typing"`
	Error  string        `json:"error,omitempty"`
}

// Hub tracks active WebSocket connections per device and tab.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register adds a connection for a device/session, closing any connection
// it replaces.
func (h *Hub) Register(deviceID, sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[deviceID]; !exists {
		h.active[deviceID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := h.active[deviceID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	h.active[deviceID][sessionID] = conn
	slog.Info("Live session registered", "device_id", deviceID, "session_id", sessionID)
}

// Unregister removes a connection if it is still the current one.
func (h *Hub) Unregister(deviceID, sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessions, ok := h.active[deviceID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(h.active, deviceID)
			}
			slog.Info("Live session unregistered", "device_id", deviceID, "session_id", sessionID)
		}
	}
}

// CloseDevice terminates every connection of a device. The retention
// worker calls it for purged devices.
func (h *Hub) CloseDevice(deviceID string) {
	h.mu.Lock()
	sessions := h.active[deviceID]
	delete(h.active, deviceID)
	h.mu.Unlock()

	// Close waits for the peer's handshake, so it runs outside the lock.
	for sid, conn := range sessions {
		_ = conn.Close(websocket.StatusNormalClosure, "device closed")
		slog.Info("Live session closed", "device_id", deviceID, "session_id", sid)
	}
}

// Publish implements chat.Notifier. Writes happen in call order so a
// tab sees state and typing changes in sequence.
func (h *Hub) Publish(deviceID string, ev chat.Event) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active[deviceID]))
	for _, c := range h.active[deviceID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	f := frame{Type: ev.Type, State: ev.State, Typing: ev.Typing}
	for _, c := range conns {
		if err := writeFrame(c, f); err != nil {
			slog.Debug("Live publish failed", "device_id", deviceID, "type", ev.Type, "error", err)
		}
	}
}

func writeFrame(conn *websocket.Conn, f frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, f)
}
