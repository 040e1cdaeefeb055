package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/NullWinters/GalChat/internal/chat"
	"github.com/NullWinters/GalChat/internal/gateway"
	"github.com/NullWinters/GalChat/internal/models"
)

// initEvent tells a freshly connected client who it is, so the client can
// mark its own messages by comparing authorship keys.
type initEvent struct {
	YourKey      string `json:"your_key"`
	YourNickname string `json:"your_nickname"`
	YourAvatar   string `json:"your_avatar,omitempty"`
	RoomName     string `json:"room_name"`
}

// inboundEvent is what streaming clients send: chat messages and
// suggestion triggers.
type inboundEvent struct {
	Type string `json:"type"` // "message" or "suggest"
	Text string `json:"text,omitempty"`
}

// How many messages to replay to a freshly connected client.
const historyReplay = 100

// HandleWS upgrades the connection and streams room events: an init event,
// history replay in sequence order, then live messages and suggestion
// results.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	org := origin(r)

	room, err := h.registry.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, chat.ErrRoomNotFound) {
			h.Error(w, http.StatusNotFound, "room not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to load room")
		return
	}

	p := h.resolver.Resolve(r.Context(), roomID, org)
	if _, err := h.registry.JoinRoom(r.Context(), roomID, &p); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to join room")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser clients connect from the app origin; same-host check
		// would reject reverse-proxied setups.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return // Accept already wrote the error response
	}

	client := h.hub.NewClient(roomID, p.Key, conn)
	defer h.hub.RemoveClient(client)

	h.hub.SendTo(client, gateway.Event{Type: "init", Data: initEvent{
		YourKey:      string(p.Key),
		YourNickname: p.Handle(),
		YourAvatar:   p.Avatar,
		RoomName:     room.Name,
	}})

	// Replay history before joining the fan-out set so replayed messages
	// always precede live broadcasts on the send channel. A message
	// appended between the read and Register is missed here and shows up
	// on the client's next replay; seq numbers make the gap detectable.
	if msgs, err := h.registry.Recent(r.Context(), roomID, historyReplay); err == nil {
		for _, m := range msgs {
			h.hub.SendTo(client, gateway.Event{Type: "message", Data: gateway.MessageEvent{
				ID:        m.ID,
				RoomID:    m.RoomID,
				Seq:       m.Seq,
				From:      string(m.Author),
				Nickname:  h.resolver.Handle(roomID, m.Author),
				Body:      m.Body,
				Timestamp: m.Timestamp,
			}})
		}
	}
	h.hub.Register(client)

	h.readLoop(r.Context(), conn, client, roomID, p.Key)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, client *gateway.Client, roomID string, key models.ParticipantKey) {
	for {
		var ev inboundEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return
		}

		switch ev.Type {
		case "message":
			body := sanitizeBody(ev.Text)
			if body == "" {
				continue
			}
			if _, err := h.registry.Append(ctx, roomID, key, body); err != nil {
				// Failure is surfaced to the author only, through the same
				// write loop as every other event.
				h.hub.SendTo(client, gateway.Event{
					Type: "error",
					Data: map[string]string{"message": "message delivery failed"},
				})
			}
		case "suggest":
			h.engine.Request(roomID, key)
		default:
			h.logger.Debug().Str("type", ev.Type).Msg("ignoring unknown ws event")
		}
	}
}
