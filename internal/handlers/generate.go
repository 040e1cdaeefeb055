package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/NullWinters/GalChat/internal/chat"
	"github.com/NullWinters/GalChat/internal/gateway"
	"github.com/NullWinters/GalChat/internal/models"
	"github.com/NullWinters/GalChat/internal/suggest"
)

// GenerateRequest is the one-shot HTTP suggestion query, mirroring the
// socket protocol. room_id is accepted as an alias of group_id.
type GenerateRequest struct {
	Mode        int    `json:"mode"`
	InputStr    string `json:"input_str,omitempty"`
	LocalUser   string `json:"local_user,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	RoomID      string `json:"room_id,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
	MaxMessages int    `json:"max_messages,omitempty"`
	SetDatetime string `json:"set_datetime,omitempty"`
}

// Generate handles one-shot suggestion requests: mode 0 from free text,
// mode 1 from stored room history with an optional time cutoff.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	org := origin(r)
	roomID := req.RoomID
	if roomID == "" {
		roomID = req.GroupID
	}

	var (
		result models.Suggestions
		err    error
	)

	switch req.Mode {
	case gateway.ModeFreeText:
		if req.InputStr == "" && roomID != "" {
			// No text supplied: fall back to the room's recent history,
			// personalized for the caller.
			target := models.ParticipantKey(org)
			result, err = h.engine.ForRoom(r.Context(), roomID, target, time.Time{}, req.MaxMessages)
			break
		}
		localUser := req.LocalUser
		if localUser == "" {
			localUser = org
		}
		result, err = h.engine.FromTranscript(r.Context(), req.InputStr, localUser)
	case gateway.ModeHistory:
		var cutoff time.Time
		if req.SetDatetime != "" {
			cutoff, err = time.ParseInLocation("2006-01-02 15:04:05", req.SetDatetime, time.Local)
			if err != nil {
				h.Error(w, http.StatusBadRequest, "invalid set_datetime")
				return
			}
		}
		target := models.ParticipantKey(req.UserID)
		if target == "" {
			target = models.ParticipantKey(org)
		}
		result, err = h.engine.ForRoom(r.Context(), roomID, target, cutoff, req.MaxMessages)
	default:
		h.Error(w, http.StatusBadRequest, "unsupported mode")
		return
	}

	if err != nil {
		h.generateError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, result)
}

// generateError maps suggestion-pipeline failures to HTTP statuses.
// Failures here never affect ordinary messaging.
func (h *Handler) generateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, suggest.ErrEmptyContext):
		h.Error(w, http.StatusUnprocessableEntity, "empty context")
	case errors.Is(err, suggest.ErrProviderTimeout):
		h.Error(w, http.StatusGatewayTimeout, "provider timeout")
	case errors.Is(err, suggest.ErrProviderUnavailable):
		h.Error(w, http.StatusBadGateway, "provider unavailable")
	case errors.Is(err, suggest.ErrMalformedResponse):
		h.Error(w, http.StatusBadGateway, "malformed provider response")
	case errors.Is(err, chat.ErrRoomNotFound):
		h.Error(w, http.StatusNotFound, "room not found")
	default:
		h.logger.Error().Err(err).Msg("suggestion generation failed")
		h.Error(w, http.StatusInternalServerError, "generation failed")
	}
}
