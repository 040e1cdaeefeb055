// Package identity maps a connection's network origin to a stable
// per-room participant identity.
package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/NullWinters/GalChat/internal/models"
	"github.com/NullWinters/GalChat/internal/store"
)

// Resolver resolves (room, origin) pairs to participant identities. The
// first resolution for an origin within a room creates a participant whose
// default display handle is the origin itself, so the same origin always
// maps to the same handle across reconnects until renamed.
//
// Resolution is memoized per room; renames are written through to the
// durable store so they survive restarts.
type Resolver struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*models.Participant // roomID -> origin -> participant

	store store.MessageStore // may be nil (in-memory-only mode)
}

// NewResolver creates a resolver backed by the given store. A nil store
// keeps identities in memory only.
func NewResolver(st store.MessageStore) *Resolver {
	return &Resolver{
		rooms: make(map[string]map[string]*models.Participant),
		store: st,
	}
}

// Resolve returns the participant identity for an origin within a room,
// creating it on first use. Repeated calls with the same (room, origin)
// return the same key. The returned value is a snapshot; the mutable record
// stays private to the resolver so renames never race with readers.
func (r *Resolver) Resolve(ctx context.Context, roomID, origin string) models.Participant {
	p := r.resolve(ctx, roomID, origin)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *p
}

func (r *Resolver) resolve(ctx context.Context, roomID, origin string) *models.Participant {
	r.mu.RLock()
	if p, ok := r.rooms[roomID][origin]; ok {
		r.mu.RUnlock()
		return p
	}
	r.mu.RUnlock()

	// Not cached: try the store before minting a fresh identity, so a rename
	// from a previous process lifetime is not lost.
	var p *models.Participant
	if r.store != nil {
		if stored, err := r.store.GetParticipant(ctx, roomID, models.ParticipantKey(origin)); err == nil {
			p = stored
		}
	}
	if p == nil {
		p = &models.Participant{
			RoomID: roomID,
			Key:    models.ParticipantKey(origin),
			Origin: origin,
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rooms[roomID][origin]; ok {
		// Lost the race with a concurrent resolve.
		return existing
	}
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*models.Participant)
	}
	r.rooms[roomID][origin] = p
	return p
}

// Handle returns the current display handle for a participant key within a
// room. Unknown keys render as the key itself: authorship is stored by key,
// so history written before a participant record exists still displays.
func (r *Resolver) Handle(roomID string, key models.ParticipantKey) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.rooms[roomID][string(key)]; ok {
		return p.Handle()
	}
	return string(key)
}

// Rename stores a display-handle override for the identity. History already
// written is unaffected; rendering resolves the current handle at read time.
// An empty nickname resets the handle to the origin default. The optional
// avatar reference points into external avatar storage.
func (r *Resolver) Rename(ctx context.Context, roomID, origin, nickname, avatar string) (models.Participant, error) {
	p := r.resolve(ctx, roomID, origin)

	r.mu.Lock()
	p.Nickname = nickname
	if avatar != "" {
		p.Avatar = avatar
	}
	snapshot := *p
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpsertParticipant(ctx, &snapshot); err != nil {
			return snapshot, errors.Join(store.ErrUnavailable, err)
		}
	}
	return snapshot, nil
}

// Forget drops the cached identity for (room, origin), used when a
// participant leaves a room.
func (r *Resolver) Forget(roomID, origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms[roomID], origin)
	if len(r.rooms[roomID]) == 0 {
		delete(r.rooms, roomID)
	}
}

// ForgetRoom drops all cached identities for a room, used on room deletion.
func (r *Resolver) ForgetRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}
