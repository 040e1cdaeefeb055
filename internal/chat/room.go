package chat

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/NullWinters/GalChat/internal/models"
)

// How many messages each live room keeps in memory. Older history is served
// from the store; dormant rooms are re-seeded with this many on activation.
const tailSize = 200

// Room holds the live state of one chat room: membership, the in-memory log
// tail and sequence/timestamp counters. All mutation goes through the
// Registry's atomic operations; no other component holds a writable
// reference to room state.
type Room struct {
	ID        string
	Name      string
	CreatedAt time.Time

	mu      sync.Mutex
	nextSeq int64 // seq of the next message to append
	lastTS  int64 // unix ms of the newest message, for monotonic clamping
	tail    []models.Message
	members map[models.ParticipantKey]struct{}
}

func newRoom(id, name string, createdAt time.Time) *Room {
	return &Room{
		ID:        id,
		Name:      name,
		CreatedAt: createdAt,
		nextSeq:   1,
		members:   make(map[models.ParticipantKey]struct{}),
	}
}

// seed installs a recovered log tail on room activation. Must only be called
// before the room is published to the registry.
func (r *Room) seed(tail []models.Message, maxSeq int64) {
	r.tail = tail
	r.nextSeq = maxSeq + 1
	if n := len(tail); n > 0 {
		r.lastTS = tail[n-1].Timestamp
	}
}

// append assigns the next sequence number and a monotonically non-decreasing
// timestamp, records the message in the tail and returns it. The caller
// broadcasts while still holding the room lock so delivery order matches
// sequence order.
func (r *Room) append(author models.ParticipantKey, body string) models.Message {
	ts := time.Now().UnixMilli()
	if ts < r.lastTS {
		ts = r.lastTS
	}

	msg := models.Message{
		ID:        ulid.Make().String(),
		RoomID:    r.ID,
		Seq:       r.nextSeq,
		Author:    author,
		Body:      body,
		Timestamp: ts,
	}

	r.nextSeq++
	r.lastTS = ts
	r.tail = append(r.tail, msg)
	if len(r.tail) > tailSize {
		r.tail = r.tail[len(r.tail)-tailSize:]
	}

	return msg
}

// recentLocked returns up to limit of the newest tail messages, oldest-first.
// ok reports whether the tail alone satisfies the request; when the room has
// more history than the tail holds the caller may fall back to the store,
// using the returned slice as a best-effort answer if it cannot.
func (r *Room) recentLocked(limit int) (msgs []models.Message, ok bool) {
	if limit <= 0 {
		return nil, true
	}
	n := len(r.tail)
	ok = true
	if limit > n {
		// The tail is complete iff it starts at the beginning of the log.
		if n > 0 && r.tail[0].Seq > 1 {
			ok = false
		}
		if n == 0 && r.nextSeq > 1 {
			ok = false
		}
		limit = n
	}
	out := make([]models.Message, limit)
	copy(out, r.tail[n-limit:])
	return out, ok
}

// MessageCount returns the number of messages appended to the room so far.
func (r *Room) MessageCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextSeq - 1
}

// MemberCount returns the number of joined participants.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Snapshot returns the room's public representation.
func (r *Room) Snapshot() models.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.Room{
		ID:           r.ID,
		Name:         r.Name,
		CreatedAt:    r.CreatedAt,
		MessageCount: r.nextSeq - 1,
		Participants: len(r.members),
	}
}
