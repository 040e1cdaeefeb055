package store

import (
	"context"
	"errors"
	"time"

	"github.com/NullWinters/GalChat/internal/models"
)

// ErrUnavailable indicates the durable store could not serve the operation.
// Messaging continues in memory when the store degrades; callers decide
// whether to surface a warning.
var ErrUnavailable = errors.New("store: unavailable")

// ErrNotFound indicates the requested room or participant does not exist.
var ErrNotFound = errors.New("store: not found")

// MessageStore defines the persistence collaborator for rooms, participants
// and the append-only message log. Both PostgresStore and SQLiteStore
// implement this interface.
type MessageStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Room operations
	CreateRoom(ctx context.Context, id, name string) (*models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	// DeleteRoom removes the room, its membership and its messages.
	DeleteRoom(ctx context.Context, id string) error

	// Message log operations
	AppendMessage(ctx context.Context, msg *models.Message) error
	// ReadMessages returns messages with seq > sinceSeq, oldest-first,
	// at most limit entries.
	ReadMessages(ctx context.Context, roomID string, sinceSeq int64, limit int) ([]models.Message, error)
	// ReadMessagesBefore returns the latest messages with timestamp <= cutoff,
	// oldest-first, at most limit entries.
	ReadMessagesBefore(ctx context.Context, roomID string, cutoff time.Time, limit int) ([]models.Message, error)
	// MaxSeq returns the highest sequence number recorded for the room,
	// or 0 when the room has no messages.
	MaxSeq(ctx context.Context, roomID string) (int64, error)

	// Participant operations
	UpsertParticipant(ctx context.Context, p *models.Participant) error
	GetParticipant(ctx context.Context, roomID string, key models.ParticipantKey) (*models.Participant, error)
	ListParticipants(ctx context.Context, roomID string) ([]models.Participant, error)
	RemoveParticipant(ctx context.Context, roomID string, key models.ParticipantKey) error
	CountParticipants(ctx context.Context, roomID string) (int64, error)
}
