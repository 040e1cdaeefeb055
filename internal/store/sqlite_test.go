package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/NullWinters/GalChat/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "galchat.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func testMessage(roomID string, seq int64, author models.ParticipantKey, body string, ts int64) *models.Message {
	return &models.Message{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		Seq:       seq,
		Author:    author,
		Body:      body,
		Timestamp: ts,
	}
}

func TestRoomLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateRoom(ctx, "r1", "general")
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "r1" || created.Name != "general" {
		t.Fatalf("unexpected room: %+v", created)
	}

	got, err := s.GetRoom(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "general" {
		t.Fatalf("expected name general, got %q", got.Name)
	}

	if err := s.DeleteRoom(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRoom(ctx, "r1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRoom(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateRoom(ctx, "r1", "general"); err != nil {
		t.Fatal(err)
	}
	bodies := []string{"你好", "在吗", "在的"}
	for i, b := range bodies {
		msg := testMessage("r1", int64(i+1), "10.0.0.1", b, int64(1000*(i+1)))
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.ReadMessages(ctx, "r1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Fatalf("messages not oldest-first: index %d carries seq %d", i, m.Seq)
		}
		if m.Body != bodies[i] {
			t.Fatalf("expected body %q, got %q", bodies[i], m.Body)
		}
	}

	// sinceSeq is exclusive.
	msgs, err = s.ReadMessages(ctx, "r1", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Seq != 2 {
		t.Fatalf("expected seqs 2..3, got %+v", msgs)
	}

	max, err := s.MaxSeq(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if max != 3 {
		t.Fatalf("expected max seq 3, got %d", max)
	}
}

func TestReadMessagesBeforeCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateRoom(ctx, "r1", "general"); err != nil {
		t.Fatal(err)
	}
	for i := int64(1); i <= 5; i++ {
		if err := s.AppendMessage(ctx, testMessage("r1", i, "10.0.0.1", "x", i*1000)); err != nil {
			t.Fatal(err)
		}
	}

	cutoff := time.UnixMilli(3500)
	msgs, err := s.ReadMessagesBefore(ctx, "r1", cutoff, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages before cutoff, got %d", len(msgs))
	}
	if msgs[0].Seq != 1 || msgs[2].Seq != 3 {
		t.Fatalf("expected seqs 1..3 oldest-first, got %+v", msgs)
	}

	// The limit keeps the newest of the qualifying window.
	msgs, err = s.ReadMessagesBefore(ctx, "r1", cutoff, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Seq != 2 || msgs[1].Seq != 3 {
		t.Fatalf("expected seqs 2..3, got %+v", msgs)
	}
}

func TestDeleteRoomDropsMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateRoom(ctx, "r1", "general"); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessage(ctx, testMessage("r1", 1, "10.0.0.1", "x", 1000)); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRoom(ctx, "r1"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.CreateRoom(ctx, "r1", "reborn"); err != nil {
		t.Fatal(err)
	}
	msgs, err := s.ReadMessages(ctx, "r1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages survived room deletion: %+v", msgs)
	}
}

func TestParticipantUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateRoom(ctx, "r1", "general"); err != nil {
		t.Fatal(err)
	}

	p := &models.Participant{RoomID: "r1", Key: "10.0.0.1", Origin: "10.0.0.1"}
	if err := s.UpsertParticipant(ctx, p); err != nil {
		t.Fatal(err)
	}

	p.Nickname = "alice"
	p.Avatar = "cat"
	if err := s.UpsertParticipant(ctx, p); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetParticipant(ctx, "r1", "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Nickname != "alice" || got.Avatar != "cat" {
		t.Fatalf("upsert did not overwrite: %+v", got)
	}

	n, err := s.CountParticipants(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 participant, got %d", n)
	}

	if err := s.RemoveParticipant(ctx, "r1", "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetParticipant(ctx, "r1", "10.0.0.1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestParticipantsIsolatedPerRoom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2"} {
		if _, err := s.CreateRoom(ctx, id, id); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpsertParticipant(ctx, &models.Participant{RoomID: "r1", Key: "10.0.0.1", Origin: "10.0.0.1", Nickname: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertParticipant(ctx, &models.Participant{RoomID: "r2", Key: "10.0.0.1", Origin: "10.0.0.1", Nickname: "bob"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetParticipant(ctx, "r2", "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Nickname != "bob" {
		t.Fatalf("nickname leaked across rooms: %+v", got)
	}
}
