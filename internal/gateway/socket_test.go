package gateway

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/NullWinters/GalChat/internal/models"
	"github.com/NullWinters/GalChat/internal/suggest"
)

// replyProvider returns a fixed candidate list for every call.
type replyProvider struct {
	replies []string
}

func (p *replyProvider) Generate(_ context.Context, _ suggest.Prompt) ([]string, error) {
	return p.replies, nil
}

// windowHistory serves a fixed oldest-first window for every room.
type windowHistory struct {
	msgs []models.Message
}

func (h *windowHistory) Recent(_ context.Context, _ string, limit int) ([]models.Message, error) {
	if limit > 0 && len(h.msgs) > limit {
		return h.msgs[len(h.msgs)-limit:], nil
	}
	return h.msgs, nil
}

func (h *windowHistory) RecentBefore(_ context.Context, _ string, cutoff time.Time, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, m := range h.msgs {
		if m.Timestamp < cutoff.UnixMilli() {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type keyHandles struct{}

func (keyHandles) Handle(_ string, key models.ParticipantKey) string { return string(key) }

func startSocketServer(t *testing.T, engine *suggest.Engine) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := NewSocketServer(ln.Addr().String(), engine, zerolog.Nop())
	go srv.Serve(ctx, ln)

	return ln.Addr().String()
}

func query(t *testing.T, addr string, req SocketRequest) SocketResponse {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		t.Fatal(err)
	}
	var resp SocketResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestSocketFreeTextRoundTrip(t *testing.T) {
	replies := []string{"最近还好啦", "在忙工作呢", "还行，你呢？", "老样子", "忙里偷闲中"}
	engine := suggest.NewEngine(&replyProvider{replies: replies}, nil, nil, suggest.Options{Count: 5}, zerolog.Nop())
	addr := startSocketServer(t, engine)

	resp := query(t, addr, SocketRequest{
		Mode:      ModeFreeText,
		InputStr:  "最近在忙什么？",
		LocalUser: "alice",
	})

	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.Length != 5 || len(resp.Contents) != 5 {
		t.Fatalf("expected 5 candidates, got length=%d contents=%d", resp.Length, len(resp.Contents))
	}
	for i, c := range resp.Contents {
		if want := utf8.RuneCountInString(replies[i]); c.Length != want {
			t.Fatalf("candidate %q: expected rune length %d, got %d", c.Content, want, c.Length)
		}
	}
}

func TestSocketFreeTextEmptyInput(t *testing.T) {
	engine := suggest.NewEngine(&replyProvider{replies: []string{"x"}}, nil, nil, suggest.Options{}, zerolog.Nop())
	addr := startSocketServer(t, engine)

	resp := query(t, addr, SocketRequest{Mode: ModeFreeText, InputStr: "   "})

	if resp.Error != "empty_context" {
		t.Fatalf("expected empty_context error, got %q", resp.Error)
	}
	if resp.Contents == nil || len(resp.Contents) != 0 {
		t.Fatalf("expected empty contents array, got %v", resp.Contents)
	}
}

func TestSocketHistoryMode(t *testing.T) {
	history := &windowHistory{msgs: []models.Message{
		{RoomID: "g1", Seq: 1, Author: "10.0.0.2", Body: "在吗", Timestamp: 1000},
	}}
	engine := suggest.NewEngine(&replyProvider{replies: []string{"在的"}}, history, keyHandles{}, suggest.Options{}, zerolog.Nop())
	addr := startSocketServer(t, engine)

	resp := query(t, addr, SocketRequest{
		Mode:        ModeHistory,
		GroupID:     "g1",
		UserID:      "10.0.0.1",
		MaxMessages: 10,
	})

	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.Length != 1 || resp.Contents[0].Content != "在的" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSocketHistoryBadDatetime(t *testing.T) {
	engine := suggest.NewEngine(&replyProvider{}, &windowHistory{}, keyHandles{}, suggest.Options{}, zerolog.Nop())
	srv := NewSocketServer("", engine, zerolog.Nop())

	resp := srv.Handle(context.Background(), SocketRequest{
		Mode:        ModeHistory,
		GroupID:     "g1",
		SetDatetime: "not a datetime",
	})
	if resp.Error != "invalid set_datetime" {
		t.Fatalf("expected invalid set_datetime error, got %q", resp.Error)
	}
}

func TestSocketUnsupportedMode(t *testing.T) {
	engine := suggest.NewEngine(&replyProvider{}, nil, nil, suggest.Options{}, zerolog.Nop())
	srv := NewSocketServer("", engine, zerolog.Nop())

	resp := srv.Handle(context.Background(), SocketRequest{Mode: 7})
	if resp.Error != "unsupported mode" {
		t.Fatalf("expected unsupported mode error, got %q", resp.Error)
	}
}
