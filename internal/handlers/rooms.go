package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/NullWinters/GalChat/internal/chat"
	"github.com/NullWinters/GalChat/internal/models"
)

// Room ID validation: alphanumeric, hyphens, underscores, 1-50 chars.
var roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// CreateRoomRequest represents the room creation request. An empty ID asks
// the server to generate one.
type CreateRoomRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// CreateRoomResponse represents the room creation response.
type CreateRoomResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageResponse represents a message in API responses. The nickname is
// resolved at read time from the stored author key.
type MessageResponse struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	From      string `json:"from"`
	Nickname  string `json:"nickname"`
	Body      string `json:"body"`
	Timestamp int64  `json:"ts"`
}

// RoomMessagesResponse represents the room history response, oldest-first.
type RoomMessagesResponse struct {
	Room     models.Room       `json:"room"`
	Messages []MessageResponse `json:"messages"`
}

// LeaveRoomResponse reports whether leaving dissolved the room.
type LeaveRoomResponse struct {
	Status  string `json:"status"`
	Deleted bool   `json:"deleted"`
}

// CreateRoom handles room creation.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ID != "" && !roomIDRegex.MatchString(req.ID) {
		h.Error(w, http.StatusBadRequest, "id must be 1-50 characters, alphanumeric with hyphens and underscores only")
		return
	}

	room, err := h.registry.CreateRoom(r.Context(), req.ID, req.Name)
	if err != nil {
		if errors.Is(err, chat.ErrDuplicateRoomID) {
			h.Error(w, http.StatusConflict, "room id already exists")
			return
		}
		h.logger.Error().Err(err).Msg("room creation failed")
		h.Error(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	h.JSON(w, http.StatusCreated, CreateRoomResponse{
		ID:        room.ID,
		Name:      room.Name,
		CreatedAt: room.CreatedAt,
	})
}

// GetRoom handles the room info/existence check.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	room, err := h.registry.GetRoom(r.Context(), id)
	if err != nil {
		if errors.Is(err, chat.ErrRoomNotFound) {
			h.Error(w, http.StatusNotFound, "room not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to load room")
		return
	}

	h.JSON(w, http.StatusOK, room.Snapshot())
}

// GetRoomMessages handles the room history read, oldest-first.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	room, err := h.registry.GetRoom(r.Context(), id)
	if err != nil {
		if errors.Is(err, chat.ErrRoomNotFound) {
			h.Error(w, http.StatusNotFound, "room not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to load room")
		return
	}

	msgs, err := h.registry.Recent(r.Context(), id, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to read messages")
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			ID:        m.ID,
			Seq:       m.Seq,
			From:      string(m.Author),
			Nickname:  h.resolver.Handle(id, m.Author),
			Body:      m.Body,
			Timestamp: m.Timestamp,
		})
	}

	h.JSON(w, http.StatusOK, RoomMessagesResponse{
		Room:     room.Snapshot(),
		Messages: out,
	})
}

// LeaveRoom removes the caller from a room. When the last participant
// leaves, the room and its history are deleted.
func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	org := origin(r)

	deleted, err := h.registry.LeaveRoom(r.Context(), id, models.ParticipantKey(org))
	if err != nil {
		if errors.Is(err, chat.ErrRoomNotFound) {
			h.Error(w, http.StatusNotFound, "room not found")
			return
		}
		h.logger.Error().Err(err).Str("room_id", id).Msg("leave failed")
		h.Error(w, http.StatusInternalServerError, "failed to leave room")
		return
	}

	h.resolver.Forget(id, org)
	if deleted {
		h.engine.CancelRoom(id)
		h.resolver.ForgetRoom(id)
	}

	h.JSON(w, http.StatusOK, LeaveRoomResponse{Status: "success", Deleted: deleted})
}
