package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alex-trdst/gemini-image-chat/internal/chat"
	"github.com/alex-trdst/gemini-image-chat/internal/domain"
	"github.com/alex-trdst/gemini-image-chat/internal/store"
	"github.com/go-chi/chi/v5"
)

// SessionHandler handles the session CRUD and preset endpoints. It is a
// thin façade over the store; the real-time protocol lives in chat/ws.
type SessionHandler struct {
	repo     store.Repository
	registry *chat.Registry
	cm       connectionCloser
}

// connectionCloser lets session deletion tear down a live connection.
type connectionCloser interface {
	CloseSession(sessionID string)
}

// NewSessionHandler creates a session CRUD handler.
func NewSessionHandler(repo store.Repository, registry *chat.Registry, cm connectionCloser) *SessionHandler {
	return &SessionHandler{repo: repo, registry: registry, cm: cm}
}

// RegisterRoutes registers the image chat REST routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/image-chat", func(r chi.Router) {
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{sessionID}", h.GetSession)
		r.Delete("/sessions/{sessionID}", h.DeleteSession)
		r.Get("/purposes", h.ListPurposes)
	})
	r.Get("/api/info", h.Info)
}

type createSessionRequest struct {
	Title           string          `json:"title"`
	ImagePurpose    string          `json:"image_purpose"`
	StylePreset     string          `json:"style_preset"`
	BrandGuidelines json.RawMessage `json:"brand_guidelines"`
}

// CreateSession creates a new chat session.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Title) > 200 {
		Error(w, http.StatusBadRequest, "title too long")
		return
	}

	purpose, ok := domain.ParsePurpose(req.ImagePurpose)
	if !ok {
		Error(w, http.StatusBadRequest, "unknown image_purpose: "+req.ImagePurpose)
		return
	}

	var style domain.StylePreset
	if req.StylePreset != "" {
		style, ok = domain.ParseStyle(req.StylePreset)
		if !ok {
			Error(w, http.StatusBadRequest, "unknown style_preset: "+req.StylePreset)
			return
		}
	}

	now := time.Now().UTC()
	session := &domain.Session{
		ID:              uuid.NewString(),
		Title:           req.Title,
		ImagePurpose:    purpose,
		Status:          domain.SessionActive,
		StylePreset:     style,
		BrandGuidelines: string(req.BrandGuidelines),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := h.repo.CreateSession(r.Context(), session); err != nil {
		slog.Error("Failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	slog.Info("Session created", "session_id", session.ID, "purpose", purpose)
	JSON(w, http.StatusOK, session)
}

// ListSessions returns a page of sessions.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	var status domain.SessionStatus
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, ok := domain.ParseSessionStatus(s)
		if !ok {
			Error(w, http.StatusBadRequest, "unknown status: "+s)
			return
		}
		status = parsed
	}

	sessions, total, err := h.repo.ListSessions(r.Context(), limit, offset, status)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}

	JSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetSession returns a session with its ordered messages.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to get session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if session == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	messages, err := h.repo.ListMessages(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to list messages", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []*domain.Message{}
	}

	JSON(w, http.StatusOK, map[string]any{
		"id":                session.ID,
		"title":             session.Title,
		"image_purpose":     session.ImagePurpose,
		"status":            session.Status,
		"style_preset":      session.StylePreset,
		"final_image_url":   session.FinalImageURL,
		"messages_count":    session.MessagesCount,
		"images_generated":  session.ImagesGenerated,
		"total_tokens_used": session.TotalTokensUsed,
		"created_at":        session.CreatedAt,
		"updated_at":        session.UpdatedAt,
		"messages":          messages,
	})
}

// DeleteSession removes a session, its messages and images, its in-memory
// worker, and any live connection.
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	deleted, err := h.repo.DeleteSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to delete session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	if !deleted {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	if h.registry != nil {
		h.registry.Drop(sessionID)
	}
	if h.cm != nil {
		h.cm.CloseSession(sessionID)
	}

	slog.Info("Session deleted", "session_id", sessionID)
	JSON(w, http.StatusOK, map[string]string{
		"message":    "session deleted",
		"session_id": sessionID,
	})
}

// ListPurposes returns the purpose preset enumeration.
func (h *SessionHandler) ListPurposes(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, domain.PurposePresets())
}

// Info returns basic service metadata.
func (h *SessionHandler) Info(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"name":    "Gemini Image Chat",
		"version": "0.1.0",
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
