package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/NullWinters/GalChat/internal/chat"
)

// UserInfoResponse describes the caller's resolved identity within a room.
// Clients compare the key against message authorship to decide which
// messages are "self"; the server stores no local/remote flag.
type UserInfoResponse struct {
	Key      string `json:"key"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar,omitempty"`
}

// UpdateNicknameRequest represents the rename request.
type UpdateNicknameRequest struct {
	RoomID   string `json:"room_id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar,omitempty"` // Reference into external avatar storage
}

// UserInfo returns the caller's identity within a room.
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		h.Error(w, http.StatusBadRequest, "room_id is required")
		return
	}

	p := h.resolver.Resolve(r.Context(), roomID, origin(r))
	h.JSON(w, http.StatusOK, UserInfoResponse{
		Key:      string(p.Key),
		Nickname: p.Handle(),
		Avatar:   p.Avatar,
	})
}

// UpdateNickname stores a display-handle override for the caller within a
// room. History already written is unaffected; handles resolve at read time.
func (h *Handler) UpdateNickname(w http.ResponseWriter, r *http.Request) {
	var req UpdateNicknameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RoomID == "" {
		h.Error(w, http.StatusBadRequest, "room_id is required")
		return
	}

	if _, err := h.registry.GetRoom(r.Context(), req.RoomID); err != nil {
		if errors.Is(err, chat.ErrRoomNotFound) {
			h.Error(w, http.StatusNotFound, "room not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to load room")
		return
	}

	nickname := sanitizeName(req.Nickname)

	p, err := h.resolver.Rename(r.Context(), req.RoomID, origin(r), nickname, req.Avatar)
	if err != nil {
		// Rename took effect in memory; persistence is degraded.
		h.logger.Warn().Err(err).Str("room_id", req.RoomID).Msg("nickname persist failed")
	}

	h.JSON(w, http.StatusOK, UserInfoResponse{
		Key:      string(p.Key),
		Nickname: p.Handle(),
		Avatar:   p.Avatar,
	})
}
