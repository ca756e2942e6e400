package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/amumu-chat/amumu/internal/avatar"
	"github.com/amumu-chat/amumu/internal/chat"
	"github.com/amumu-chat/amumu/internal/domain"
	"github.com/amumu-chat/amumu/internal/identity"
)

// Conversation is the chat.Controller surface used by the HTTP layer.
type Conversation interface {
	State(ctx context.Context, deviceID string) (*domain.State, error)
	Send(ctx context.Context, deviceID, sessionID, text string) (*chat.SendResult, error)
	SaveSettings(ctx context.Context, deviceID string, s chat.Settings) (*domain.State, error)
	Reset(ctx context.Context, deviceID string) (*domain.State, error)
}

// Limits caps request sizes.
type Limits struct {
	MaxBodyBytes   int64
	MaxAvatarBytes int64
}

// ChatHandler serves the conversation endpoints.
type ChatHandler struct {
	conv      Conversation
	limits    Limits
	throttles []func(http.Handler) http.Handler
}

// NewChatHandler creates a chat handler. throttles wrap the endpoints that
// reach the model or decode uploads.
func NewChatHandler(conv Conversation, limits Limits, throttles ...func(http.Handler) http.Handler) *ChatHandler {
	if limits.MaxAvatarBytes <= 0 {
		limits.MaxAvatarBytes = 2 << 20
	}
	if limits.MaxBodyBytes < limits.MaxAvatarBytes {
		limits.MaxBodyBytes = 2 * limits.MaxAvatarBytes
	}
	return &ChatHandler{conv: conv, limits: limits, throttles: throttles}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Put("/settings", h.SaveSettings)
		r.Post("/reset", h.Reset)
		r.With(h.throttles...).Post("/messages", h.SendMessage)
		r.With(h.throttles...).Post("/avatar", h.UploadAvatar)
	})
}

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	Messages []domain.Message `json:"messages"`
	State    domain.State     `json:"state"`
}

// GetState returns the device's conversation and profiles.
func (h *ChatHandler) GetState(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	state, err := h.conv.State(r.Context(), deviceID)
	if err != nil {
		slog.Error("Failed to load state", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load state")
		return
	}
	JSON(w, http.StatusOK, state)
}

// SendMessage appends a user message and returns it with the bot's reply.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeJSON(w, r, h.limits.MaxBodyBytes, &req) {
		return
	}

	deviceID := identity.DeviceIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	res, err := h.conv.Send(r.Context(), deviceID, sessionID, req.Text)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "message is empty")
		return
	case errors.Is(err, chat.ErrBusy):
		Error(w, http.StatusConflict, "a reply is already pending")
		return
	default:
		slog.Error("Failed to send message", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	JSON(w, http.StatusOK, sendResponse{
		Messages: []domain.Message{res.UserMessage, res.ReplyMessage},
		State:    res.State,
	})
}

// SaveSettings stores both profiles.
func (h *ChatHandler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	var req chat.Settings
	if !decodeJSON(w, r, h.limits.MaxBodyBytes, &req) {
		return
	}

	deviceID := identity.DeviceIDFromContext(r.Context())
	state, err := h.conv.SaveSettings(r.Context(), deviceID, req)
	if err != nil {
		if errors.Is(err, chat.ErrInvalidSettings) {
			Error(w, http.StatusBadRequest, settingsMessage(err))
			return
		}
		slog.Error("Failed to save settings", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	JSON(w, http.StatusOK, state)
}

// settingsMessage names the first failing field.
func settingsMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "invalid " + verrs[0].Field()
	}
	return "invalid settings"
}

// Reset restores the default bot and greeting.
func (h *ChatHandler) Reset(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	state, err := h.conv.Reset(r.Context(), deviceID)
	if err != nil {
		slog.Error("Failed to reset chat", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to reset chat")
		return
	}
	JSON(w, http.StatusOK, state)
}

// UploadAvatar turns an uploaded image into a data URL reference. Nothing
// is stored until settings are saved.
func (h *ChatHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxBodyBytes)
	if err := r.ParseMultipartForm(h.limits.MaxAvatarBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid upload")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, _, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	ref, err := avatar.Encode(file, h.limits.MaxAvatarBytes)
	switch {
	case err == nil:
	case errors.Is(err, avatar.ErrTooLarge):
		Error(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	case errors.Is(err, avatar.ErrNotImage), errors.Is(err, avatar.ErrEmpty):
		Error(w, http.StatusBadRequest, "file is not an image")
		return
	default:
		slog.Error("Failed to encode avatar", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read image")
		return
	}

	JSON(w, http.StatusOK, map[string]string{"avatar": ref})
}
