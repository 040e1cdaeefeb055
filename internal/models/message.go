package models

// Message represents a chat message appended to a room's log.
// Messages are immutable once appended.
type Message struct {
	ID     string         `json:"id"` // ULID
	RoomID string         `json:"room_id"`
	Seq    int64          `json:"seq"` // Strictly increasing per room
	Author ParticipantKey `json:"from"`
	Body   string         `json:"body"`
	// Unix ms, monotonically non-decreasing within a room
	Timestamp int64 `json:"ts"`
}
