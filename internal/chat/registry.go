// Package chat owns the set of live rooms: membership, the append-only
// message log and its sequence assignment. All room mutation is funneled
// through the Registry so concurrent callers observe atomic operations.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/NullWinters/GalChat/internal/metrics"
	"github.com/NullWinters/GalChat/internal/models"
	"github.com/NullWinters/GalChat/internal/store"
)

var (
	// ErrRoomNotFound indicates the room is not live and not in the store.
	ErrRoomNotFound = errors.New("chat: room not found")
	// ErrDuplicateRoomID indicates a creation collision with a live room.
	ErrDuplicateRoomID = errors.New("chat: room id already exists")
)

// Attempts to generate a collision-free room ID before giving up on short
// IDs and falling back to a full UUID.
const idRetries = 5

// Broadcaster receives every accepted append, in sequence order, for
// delivery to connected clients. Implementations must not block: they are
// invoked on the append path.
type Broadcaster interface {
	MessageAppended(msg models.Message)
}

// Registry owns the set of live rooms and enforces unique room identifiers.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	store  store.MessageStore // may be nil (in-memory-only mode)
	cache  *store.RecentCache // may be nil
	fanout Broadcaster        // may be nil (request/response-only deployments)
	logger zerolog.Logger

	activate  singleflight.Group
	persistCh chan models.Message
}

// NewRegistry creates a room registry. Store and cache may be nil, in which
// case the registry runs in memory only and history does not survive
// restarts.
func NewRegistry(st store.MessageStore, cache *store.RecentCache, logger zerolog.Logger) *Registry {
	return &Registry{
		rooms:     make(map[string]*Room),
		store:     st,
		cache:     cache,
		logger:    logger,
		persistCh: make(chan models.Message, 1024),
	}
}

// SetBroadcaster wires the fan-out gateway. Must be called before the
// registry starts accepting appends.
func (g *Registry) SetBroadcaster(b Broadcaster) {
	g.fanout = b
}

// Run consumes the persistence queue until ctx is cancelled. Durable writes
// happen here, off the broadcast path: the client-visible guarantee is
// delivered-to-transport, not durably committed. A single consumer keeps
// store write order aligned with sequence order.
func (g *Registry) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-g.persistCh:
			g.persist(msg)
		}
	}
}

func (g *Registry) persist(msg models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if g.store != nil {
		start := time.Now()
		if err := g.store.AppendMessage(ctx, &msg); err != nil {
			metrics.PersistFailures.Inc()
			g.logger.Error().Err(err).
				Str("room_id", msg.RoomID).
				Int64("seq", msg.Seq).
				Msg("message persist failed, continuing in memory")
		}
		metrics.StoreLatency.Observe(time.Since(start).Seconds())
	}
	if g.cache != nil {
		if err := g.cache.Add(ctx, &msg); err != nil {
			g.logger.Warn().Err(err).Str("room_id", msg.RoomID).Msg("cache add failed")
		}
	}
}

// CreateRoom registers a new room. An empty id generates one guaranteed
// unique against all currently-live rooms (IDs may be reused after a room is
// deleted). A supplied id that collides with a live room fails with
// ErrDuplicateRoomID.
func (g *Registry) CreateRoom(ctx context.Context, id, name string) (*Room, error) {
	if id == "" {
		generated, err := g.generateID(ctx)
		if err != nil {
			return nil, err
		}
		id = generated
	} else if g.roomExists(ctx, id) {
		return nil, ErrDuplicateRoomID
	}

	room := newRoom(id, name, time.Now().UTC())

	g.mu.Lock()
	if _, ok := g.rooms[id]; ok {
		g.mu.Unlock()
		return nil, ErrDuplicateRoomID
	}
	g.rooms[id] = room
	g.mu.Unlock()

	if g.store != nil {
		if _, err := g.store.CreateRoom(ctx, id, name); err != nil {
			g.logger.Error().Err(err).Str("room_id", id).Msg("room persist failed, continuing in memory")
		}
	}

	metrics.RoomsCreated.Inc()
	return room, nil
}

// generateID produces a short room ID unique among live rooms, retrying on
// collision before falling back to a full UUID.
func (g *Registry) generateID(ctx context.Context) (string, error) {
	for i := 0; i < idRetries; i++ {
		id := uuid.NewString()[:8]
		if !g.roomExists(ctx, id) {
			return id, nil
		}
	}
	id := uuid.NewString()
	if g.roomExists(ctx, id) {
		return "", ErrDuplicateRoomID
	}
	return id, nil
}

func (g *Registry) roomExists(ctx context.Context, id string) bool {
	g.mu.RLock()
	_, ok := g.rooms[id]
	g.mu.RUnlock()
	if ok {
		return true
	}
	if g.store == nil {
		return false
	}
	// Rooms in the store are live: deletion removes them.
	if _, err := g.store.GetRoom(ctx, id); err == nil {
		return true
	}
	return false
}

// GetRoom returns a live room, re-activating it from the store if the
// process restarted since it was last touched.
func (g *Registry) GetRoom(ctx context.Context, id string) (*Room, error) {
	g.mu.RLock()
	room, ok := g.rooms[id]
	g.mu.RUnlock()
	if ok {
		return room, nil
	}

	if g.store == nil {
		return nil, ErrRoomNotFound
	}

	// Rebuild once even if many clients reconnect to a dormant room at the
	// same moment.
	v, err, _ := g.activate.Do(id, func() (interface{}, error) {
		return g.activateRoom(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// activateRoom rebuilds a room's in-memory state from the store: the room
// record, the highest assigned sequence number and the newest tail of the
// log.
func (g *Registry) activateRoom(ctx context.Context, id string) (*Room, error) {
	stored, err := g.store.GetRoom(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, errors.Join(store.ErrUnavailable, err)
	}

	maxSeq, err := g.store.MaxSeq(ctx, id)
	if err != nil {
		return nil, errors.Join(store.ErrUnavailable, err)
	}

	tail, err := g.store.ReadMessagesBefore(ctx, id, time.Now(), tailSize)
	if err != nil {
		return nil, errors.Join(store.ErrUnavailable, err)
	}

	room := newRoom(stored.ID, stored.Name, stored.CreatedAt)
	room.seed(tail, maxSeq)

	if parts, err := g.store.ListParticipants(ctx, id); err == nil {
		for _, p := range parts {
			room.members[p.Key] = struct{}{}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.rooms[id]; ok {
		return existing, nil
	}
	g.rooms[id] = room
	g.logger.Info().Str("room_id", id).Int64("max_seq", maxSeq).Msg("room re-activated from store")
	return room, nil
}

// JoinRoom records a participant as a member of the room.
func (g *Registry) JoinRoom(ctx context.Context, id string, p *models.Participant) (*Room, error) {
	room, err := g.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	_, already := room.members[p.Key]
	room.members[p.Key] = struct{}{}
	room.mu.Unlock()

	if !already && g.store != nil {
		if err := g.store.UpsertParticipant(ctx, p); err != nil {
			g.logger.Warn().Err(err).Str("room_id", id).Msg("membership persist failed")
		}
	}
	return room, nil
}

// LeaveRoom removes a participant from the room. When the last member
// leaves, the room and its history are deleted (returns deleted=true).
func (g *Registry) LeaveRoom(ctx context.Context, id string, key models.ParticipantKey) (deleted bool, err error) {
	room, err := g.GetRoom(ctx, id)
	if err != nil {
		return false, err
	}

	room.mu.Lock()
	delete(room.members, key)
	empty := len(room.members) == 0
	room.mu.Unlock()

	if g.store != nil {
		if err := g.store.RemoveParticipant(ctx, id, key); err != nil {
			g.logger.Warn().Err(err).Str("room_id", id).Msg("membership removal persist failed")
		}
	}

	if !empty {
		return false, nil
	}
	return true, g.DeleteRoom(ctx, id)
}

// DeleteRoom drops a room, its history and its cache tail.
func (g *Registry) DeleteRoom(ctx context.Context, id string) error {
	g.mu.Lock()
	delete(g.rooms, id)
	g.mu.Unlock()

	if g.cache != nil {
		if err := g.cache.Drop(ctx, id); err != nil {
			g.logger.Warn().Err(err).Str("room_id", id).Msg("cache drop failed")
		}
	}
	if g.store != nil {
		if err := g.store.DeleteRoom(ctx, id); err != nil {
			return errors.Join(store.ErrUnavailable, err)
		}
	}
	metrics.RoomsDeleted.Inc()
	return nil
}

// Append appends a message to the room's log. The sequence number is
// assigned atomically with respect to all other appends on the same room,
// and delivery to the broadcaster happens in assignment order. The durable
// write is queued and never blocks delivery.
func (g *Registry) Append(ctx context.Context, roomID string, author models.ParticipantKey, body string) (models.Message, error) {
	room, err := g.GetRoom(ctx, roomID)
	if err != nil {
		return models.Message{}, err
	}

	room.mu.Lock()
	msg := room.append(author, body)
	// Broadcast inside the critical section: once two appends race, their
	// hub enqueue order must match their sequence order. The hub only does
	// non-blocking channel sends, so this stays cheap.
	if g.fanout != nil {
		g.fanout.MessageAppended(msg)
	}
	room.mu.Unlock()

	metrics.MessagesAppended.Inc()

	if g.store != nil || g.cache != nil {
		select {
		case g.persistCh <- msg:
		default:
			metrics.PersistFailures.Inc()
			g.logger.Error().Str("room_id", roomID).Int64("seq", msg.Seq).
				Msg("persist queue full, message not durably written")
		}
	}

	return msg, nil
}

// Recent returns up to limit messages in oldest-first (conversational)
// order; this is the contract the suggestion engine consumes. Requests
// larger than the in-memory tail fall back to the cache, then the store.
func (g *Registry) Recent(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	room, err := g.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	msgs, ok := room.recentLocked(limit)
	room.mu.Unlock()
	if ok {
		return msgs, nil
	}

	if g.cache != nil {
		if msgs, err := g.cache.Recent(ctx, roomID, limit); err == nil && len(msgs) >= limit {
			return msgs, nil
		}
	}
	if g.store != nil {
		msgs, err := g.store.ReadMessagesBefore(ctx, roomID, time.Now(), limit)
		if err != nil {
			return nil, errors.Join(store.ErrUnavailable, err)
		}
		return msgs, nil
	}
	return msgs, nil
}

// RecentBefore returns up to limit messages at or before the cutoff,
// oldest-first. A zero cutoff behaves like Recent.
func (g *Registry) RecentBefore(ctx context.Context, roomID string, cutoff time.Time, limit int) ([]models.Message, error) {
	if cutoff.IsZero() {
		return g.Recent(ctx, roomID, limit)
	}

	room, err := g.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if g.store != nil {
		msgs, err := g.store.ReadMessagesBefore(ctx, roomID, cutoff, limit)
		if err != nil {
			return nil, errors.Join(store.ErrUnavailable, err)
		}
		return msgs, nil
	}

	// Memory-only: filter the tail by timestamp.
	cut := cutoff.UnixMilli()
	room.mu.Lock()
	defer room.mu.Unlock()
	var filtered []models.Message
	for _, m := range room.tail {
		if m.Timestamp <= cut {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	out := make([]models.Message, len(filtered))
	copy(out, filtered)
	return out, nil
}

// LiveRooms returns the number of rooms currently held in memory.
func (g *Registry) LiveRooms() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}
