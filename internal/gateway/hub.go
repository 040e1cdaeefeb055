// Package gateway delivers room events to connected clients: a WebSocket
// hub for streaming mode and a TCP socket server for one-shot
// request/response queries.
package gateway

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/NullWinters/GalChat/internal/metrics"
	"github.com/NullWinters/GalChat/internal/models"
)

// Event is the wire envelope for every streaming push.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MessageEvent is the streaming payload for one appended message. The
// nickname is resolved at delivery time; authorship stays keyed.
type MessageEvent struct {
	ID        string `json:"id"`
	RoomID    string `json:"room_id"`
	Seq       int64  `json:"seq"`
	From      string `json:"from"`
	Nickname  string `json:"nickname"`
	Body      string `json:"body"`
	Timestamp int64  `json:"ts"`
}

// Handles resolves participant keys to display handles at delivery time.
type Handles interface {
	Handle(roomID string, key models.ParticipantKey) string
}

// Canceller aborts a pending suggestion slot when its sole target
// disconnects.
type Canceller interface {
	Cancel(roomID string, target models.ParticipantKey)
}

// Client is one streaming connection of a participant in a room.
type Client struct {
	RoomID string
	Key    models.ParticipantKey
	Conn   *websocket.Conn
	Send   chan Event

	ctx    context.Context
	cancel context.CancelFunc
}

// Hub tracks connected streaming clients per room and fans events out to
// them. Sends are non-blocking: a slow client drops events rather than
// stalling the room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	handles   Handles
	canceller Canceller
}

// NewHub creates an empty hub.
func NewHub(handles Handles) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		handles: handles,
	}
}

// SetCanceller wires the suggestion engine's disconnect cancellation.
func (h *Hub) SetCanceller(c Canceller) {
	h.canceller = c
}

// NewClient wraps a connection and starts its write and keep-alive loops.
// The client receives nothing from the hub until Register: the caller
// replays history first so replayed messages precede live broadcasts on the
// send channel.
func (h *Hub) NewClient(roomID string, key models.ParticipantKey, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		RoomID: roomID,
		Key:    key,
		Conn:   conn,
		Send:   make(chan Event, 64),
		ctx:    ctx,
		cancel: cancel,
	}

	metrics.ConnectedClients.Inc()

	go c.writeLoop()
	go c.keepAliveLoop()

	return c
}

// Register adds the client to its room's fan-out set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.RoomID] == nil {
		h.rooms[c.RoomID] = make(map[*Client]struct{})
	}
	h.rooms[c.RoomID][c] = struct{}{}
	h.mu.Unlock()
}

// RemoveClient unregisters a connection. If no other connection currently
// represents the same participant in the room, its pending suggestion task
// is cancelled.
func (h *Hub) RemoveClient(c *Client) {
	c.cancel()

	h.mu.Lock()
	if set, ok := h.rooms[c.RoomID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, c.RoomID)
		}
	}
	represented := false
	for other := range h.rooms[c.RoomID] {
		if other.Key == c.Key {
			represented = true
			break
		}
	}
	h.mu.Unlock()

	metrics.ConnectedClients.Dec()

	if !represented && h.canceller != nil {
		h.canceller.Cancel(c.RoomID, c.Key)
	}

	_ = c.Conn.Close(websocket.StatusNormalClosure, "bye")
}

// MessageAppended implements chat.Broadcaster: every accepted append is
// pushed to all connected clients of the room, author included, in
// sequence order. Called on the append path; must not block.
func (h *Hub) MessageAppended(msg models.Message) {
	ev := Event{Type: "message", Data: MessageEvent{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Seq:       msg.Seq,
		From:      string(msg.Author),
		Nickname:  h.handles.Handle(msg.RoomID, msg.Author),
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
	}}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[msg.RoomID] {
		c.send(ev)
	}
}

// SuggestionsReady implements suggest.Delivery: completed suggestion tasks
// are pushed only to connections currently representing the target
// participant.
func (h *Hub) SuggestionsReady(roomID string, target models.ParticipantKey, s models.Suggestions, err error) {
	var ev Event
	if err != nil {
		ev = Event{Type: "suggest_error", Data: map[string]string{"message": "generation failed"}}
	} else {
		ev = Event{Type: "suggestions", Data: s}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomID] {
		if c.Key == target {
			c.send(ev)
		}
	}
}

// SendTo pushes an event to one connection.
func (h *Hub) SendTo(c *Client, ev Event) {
	c.send(ev)
}

// Represented reports whether any connection currently represents the
// participant in the room.
func (h *Hub) Represented(roomID string, key models.ParticipantKey) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomID] {
		if c.Key == key {
			return true
		}
	}
	return false
}

func (c *Client) send(ev Event) {
	select {
	case c.Send <- ev:
	default:
		// Slow client: drop rather than block the room.
		metrics.EventsDropped.Inc()
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.Send:
			writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = wsjson.Write(writeCtx, c.Conn, ev)
			cancel()
		}
	}
}

func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = c.Conn.Ping(pingCtx)
			cancel()
		}
	}
}
