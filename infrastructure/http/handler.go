package http

import (
	"encoding/json"
	"ephemeral-chat/auth"
	"ephemeral-chat/domain"
	"ephemeral-chat/domain/event"
	"ephemeral-chat/errors"
	"ephemeral-chat/services"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

// maxBodyBytes bounds request bodies well above the largest valid message.
const maxBodyBytes = 64 << 10

type Handler struct {
	svc       services.IRoomService
	log       *slog.Logger
	keepAlive time.Duration
}

func NewHandler(svc services.IRoomService, log *slog.Logger, keepAlive time.Duration) *Handler {
	return &Handler{svc: svc, log: log, keepAlive: keepAlive}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto status codes. Only unexpected
// failures are logged as errors; rejections are part of normal traffic.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := errors.MapToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "op", op, "path", r.URL.Path, "error", err)
	} else {
		h.log.Debug("Request rejected", "op", op, "path", r.URL.Path, "code", code)
	}
	resp := ErrorResponse{Error: code}
	if errors.Is(err, errors.ErrValidation) {
		resp.Message = err.Error()
	}
	writeJSON(w, status, resp)
}

func roomIDParam(r *http.Request) domain.RoomID {
	return domain.RoomID(chi.URLParam(r, "id"))
}

// POST /api/rooms
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ttl, err := h.svc.CreateRoom(r.Context())
	if err != nil {
		h.writeError(w, r, "create", err)
		return
	}
	writeJSON(w, http.StatusCreated, RoomResponse{RoomID: string(roomID), TTL: ttl})
}

// POST /api/rooms/{id}/join
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := roomIDParam(r)
	token, err := h.svc.JoinRoom(r.Context(), roomID, auth.TokenFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, "join", err)
		return
	}
	ttl, err := h.svc.RemainingTTL(r.Context(), roomID)
	if err != nil {
		h.writeError(w, r, "join", err)
		return
	}
	http.SetCookie(w, auth.TokenCookie(roomID, token, ttl))
	writeJSON(w, http.StatusOK, JoinResponse{RoomID: string(roomID), TTL: ttl, Token: string(token)})
}

// GET /api/rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.RoomInfo(r.Context(), roomIDParam(r))
	if err != nil {
		h.writeError(w, r, "info", err)
		return
	}
	writeJSON(w, http.StatusOK, RoomInfoResponse{
		RoomID:     string(info.ID),
		CreatedAt:  info.CreatedAt.UnixMilli(),
		Members:    info.Members,
		MaxMembers: info.MaxMembers,
		TTL:        info.TTLSeconds,
	})
}

// GET /api/rooms/{id}/ttl
func (h *Handler) GetTTL(w http.ResponseWriter, r *http.Request) {
	ttl, err := h.svc.RemainingTTL(r.Context(), roomIDParam(r))
	if err != nil {
		h.writeError(w, r, "ttl", err)
		return
	}
	writeJSON(w, http.StatusOK, TTLResponse{TTL: ttl})
}

// GET /api/rooms/{id}/messages
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.svc.FetchMessages(r.Context(), roomIDParam(r), auth.TokenFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, "fetch", err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{
		Messages: lo.Map(messages, func(m domain.Message, _ int) event.MessagePayload {
			return event.ToPayload(m)
		}),
	})
}

// POST /api/rooms/{id}/messages
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, "post", fmt.Errorf("%w: invalid json", errors.ErrValidation))
		return
	}
	message, err := h.svc.PostMessage(r.Context(), roomIDParam(r), auth.TokenFromContext(r.Context()),
		req.Sender, req.Text)
	if err != nil {
		h.writeError(w, r, "post", err)
		return
	}
	writeJSON(w, http.StatusCreated, event.ToPayload(message))
}

// DELETE /api/rooms/{id}
func (h *Handler) DestroyRoom(w http.ResponseWriter, r *http.Request) {
	roomID := roomIDParam(r)
	if err := h.svc.DestroyRoom(r.Context(), roomID, auth.TokenFromContext(r.Context())); err != nil {
		h.writeError(w, r, "destroy", err)
		return
	}
	http.SetCookie(w, auth.TokenCookie(roomID, "", -1))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
