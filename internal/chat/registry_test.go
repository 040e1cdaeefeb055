package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/NullWinters/GalChat/internal/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(nil, nil, zerolog.Nop())
}

func mustCreateRoom(t *testing.T, g *Registry, id, name string) *Room {
	t.Helper()
	room, err := g.CreateRoom(context.Background(), id, name)
	if err != nil {
		t.Fatal(err)
	}
	return room
}

func TestCreateRoomDuplicateID(t *testing.T) {
	g := newTestRegistry(t)
	mustCreateRoom(t, g, "r1", "first")

	if _, err := g.CreateRoom(context.Background(), "r1", "second"); err != ErrDuplicateRoomID {
		t.Fatalf("expected ErrDuplicateRoomID, got %v", err)
	}
}

func TestCreateRoomGeneratesUniqueID(t *testing.T) {
	g := newTestRegistry(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		room := mustCreateRoom(t, g, "", "generated")
		if room.ID == "" {
			t.Fatal("generated id is empty")
		}
		if seen[room.ID] {
			t.Fatalf("generated id %q collided", room.ID)
		}
		seen[room.ID] = true
	}
}

func TestGetRoomNotFound(t *testing.T) {
	g := newTestRegistry(t)
	if _, err := g.GetRoom(context.Background(), "missing"); err != ErrRoomNotFound {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestAppendAssignsSequentialNumbers(t *testing.T) {
	g := newTestRegistry(t)
	mustCreateRoom(t, g, "r1", "room")
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		msg, err := g.Append(ctx, "r1", "10.0.0.1", "hello")
		if err != nil {
			t.Fatal(err)
		}
		if msg.Seq != want {
			t.Fatalf("expected seq %d, got %d", want, msg.Seq)
		}
	}
}

func TestConcurrentAppendsGapFree(t *testing.T) {
	g := newTestRegistry(t)
	mustCreateRoom(t, g, "r1", "room")
	ctx := context.Background()

	const n = 200
	seqs := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := g.Append(ctx, "r1", "10.0.0.1", "x")
			if err != nil {
				t.Error(err)
				return
			}
			seqs <- msg.Seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool, n)
	for s := range seqs {
		if seen[s] {
			t.Fatalf("sequence %d assigned twice", s)
		}
		seen[s] = true
	}
	for s := int64(1); s <= n; s++ {
		if !seen[s] {
			t.Fatalf("sequence %d missing: assignment has gaps", s)
		}
	}
}

// recordingBroadcaster captures delivery order on the append path.
type recordingBroadcaster struct {
	mu   sync.Mutex
	seqs []int64
}

func (b *recordingBroadcaster) MessageAppended(msg models.Message) {
	b.mu.Lock()
	b.seqs = append(b.seqs, msg.Seq)
	b.mu.Unlock()
}

func TestBroadcastOrderMatchesSequenceOrder(t *testing.T) {
	g := newTestRegistry(t)
	rec := &recordingBroadcaster{}
	g.SetBroadcaster(rec)
	mustCreateRoom(t, g, "r1", "room")
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Append(ctx, "r1", "10.0.0.1", "x"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.seqs) != n {
		t.Fatalf("expected %d broadcasts, got %d", n, len(rec.seqs))
	}
	for i, s := range rec.seqs {
		if s != int64(i+1) {
			t.Fatalf("broadcast %d carried seq %d: delivery order diverged from sequence order", i, s)
		}
	}
}

func TestRecentOldestFirstPrefixConsistent(t *testing.T) {
	g := newTestRegistry(t)
	mustCreateRoom(t, g, "r1", "room")
	ctx := context.Background()

	bodies := []string{"a", "b", "c", "d", "e"}
	for _, b := range bodies {
		if _, err := g.Append(ctx, "r1", "10.0.0.1", b); err != nil {
			t.Fatal(err)
		}
	}

	small, err := g.Recent(ctx, "r1", 3)
	if err != nil {
		t.Fatal(err)
	}
	large, err := g.Recent(ctx, "r1", 5)
	if err != nil {
		t.Fatal(err)
	}

	if len(small) != 3 || len(large) != 5 {
		t.Fatalf("expected 3 and 5 messages, got %d and %d", len(small), len(large))
	}
	for i := 1; i < len(large); i++ {
		if large[i].Seq <= large[i-1].Seq {
			t.Fatal("recent is not oldest-first")
		}
	}
	// The smaller window is the suffix of the larger one.
	for i := 0; i < 3; i++ {
		if small[i].ID != large[i+2].ID {
			t.Fatal("smaller window is not an ordering-consistent slice of the larger one")
		}
	}
	if large[0].Body != "a" || large[4].Body != "e" {
		t.Fatal("recent returned wrong window")
	}
}

func TestRecentNeverExceedsLimit(t *testing.T) {
	g := newTestRegistry(t)
	mustCreateRoom(t, g, "r1", "room")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := g.Append(ctx, "r1", "10.0.0.1", "x"); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := g.Recent(ctx, "r1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
}

func TestTimestampsMonotonic(t *testing.T) {
	g := newTestRegistry(t)
	mustCreateRoom(t, g, "r1", "room")
	ctx := context.Background()

	var last int64
	for i := 0; i < 50; i++ {
		msg, err := g.Append(ctx, "r1", "10.0.0.1", "x")
		if err != nil {
			t.Fatal(err)
		}
		if msg.Timestamp < last {
			t.Fatalf("timestamp went backwards: %d < %d", msg.Timestamp, last)
		}
		last = msg.Timestamp
	}
}

func TestLastLeaveDeletesRoom(t *testing.T) {
	g := newTestRegistry(t)
	mustCreateRoom(t, g, "r1", "room")
	ctx := context.Background()

	alice := &models.Participant{RoomID: "r1", Key: "10.0.0.1", Origin: "10.0.0.1"}
	bob := &models.Participant{RoomID: "r1", Key: "10.0.0.2", Origin: "10.0.0.2"}

	if _, err := g.JoinRoom(ctx, "r1", alice); err != nil {
		t.Fatal(err)
	}
	if _, err := g.JoinRoom(ctx, "r1", bob); err != nil {
		t.Fatal(err)
	}

	deleted, err := g.LeaveRoom(ctx, "r1", alice.Key)
	if err != nil {
		t.Fatal(err)
	}
	if deleted {
		t.Fatal("room deleted while a member remained")
	}

	deleted, err = g.LeaveRoom(ctx, "r1", bob.Key)
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Fatal("last leave should delete the room")
	}

	if _, err := g.GetRoom(ctx, "r1"); err != ErrRoomNotFound {
		t.Fatalf("expected ErrRoomNotFound after deletion, got %v", err)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	g := newTestRegistry(t)
	mustCreateRoom(t, g, "r1", "one")
	mustCreateRoom(t, g, "r2", "two")
	ctx := context.Background()

	if _, err := g.Append(ctx, "r1", "10.0.0.1", "only in r1"); err != nil {
		t.Fatal(err)
	}

	msgs, err := g.Recent(ctx, "r2", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatal("message leaked across rooms")
	}
}
