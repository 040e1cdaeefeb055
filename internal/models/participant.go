package models

// ParticipantKey identifies a participant within a room. Keys are stable for
// the lifetime of a room: the same network origin always maps to the same key.
type ParticipantKey string

func (k ParticipantKey) String() string { return string(k) }

// Participant represents an identity within a room, derived from the
// connection's network origin and optionally renamed.
type Participant struct {
	RoomID   string         `json:"room_id"`
	Key      ParticipantKey `json:"key"`
	Origin   string         `json:"origin"`
	Nickname string         `json:"nickname,omitempty"`
	Avatar   string         `json:"avatar,omitempty"` // Reference into external avatar storage
}

// Handle returns the display handle: the nickname if set, otherwise the
// deterministic default derived from the origin.
func (p Participant) Handle() string {
	if p.Nickname != "" {
		return p.Nickname
	}
	return p.Origin
}
