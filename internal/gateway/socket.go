package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/NullWinters/GalChat/internal/chat"
	"github.com/NullWinters/GalChat/internal/models"
	"github.com/NullWinters/GalChat/internal/suggest"
)

// Socket protocol modes.
const (
	ModeFreeText = 0 // suggestions from caller-supplied text
	ModeHistory  = 1 // suggestions from stored room history
)

// set_datetime wire format, local time.
const datetimeLayout = "2006-01-02 15:04:05"

// SocketRequest is the one-shot request/response query. Mode 0 carries the
// conversation as free text; mode 1 references stored history with a time
// cutoff and message-count limit. Neither requires prior room membership.
type SocketRequest struct {
	Mode        int    `json:"mode"`
	InputStr    string `json:"input_str,omitempty"`
	LocalUser   string `json:"local_user,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
	MaxMessages int    `json:"max_messages,omitempty"`
	SetDatetime string `json:"set_datetime,omitempty"`
}

// SocketResponse carries the generated candidates. Length equals the number
// of contents; each candidate's length is its character count.
type SocketResponse struct {
	Contents []models.Candidate `json:"contents"`
	Length   int                `json:"length"`
	Error    string             `json:"error,omitempty"`
}

// SocketServer answers one-shot suggestion queries over TCP: one JSON
// request per connection, one JSON response, then close.
type SocketServer struct {
	addr   string
	engine *suggest.Engine
	logger zerolog.Logger
}

// NewSocketServer creates a request/response socket server.
func NewSocketServer(addr string, engine *suggest.Engine, logger zerolog.Logger) *SocketServer {
	return &SocketServer{addr: addr, engine: engine, logger: logger}
}

// Listen binds the configured address and serves until ctx is cancelled.
func (s *SocketServer) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled.
func (s *SocketServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("socket server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn().Err(err).Msg("socket accept failed")
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *SocketServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(60 * time.Second))

	var req SocketRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.writeResponse(conn, SocketResponse{Error: "invalid request"})
		return
	}

	resp := s.Handle(ctx, req)
	s.writeResponse(conn, resp)
}

// Handle executes one query against the engine. Split from the transport so
// the HTTP generate endpoint shares the exact same semantics.
func (s *SocketServer) Handle(ctx context.Context, req SocketRequest) SocketResponse {
	var (
		result models.Suggestions
		err    error
	)

	switch req.Mode {
	case ModeFreeText:
		result, err = s.engine.FromTranscript(ctx, req.InputStr, req.LocalUser)
	case ModeHistory:
		var cutoff time.Time
		if req.SetDatetime != "" {
			cutoff, err = time.ParseInLocation(datetimeLayout, req.SetDatetime, time.Local)
			if err != nil {
				return SocketResponse{Contents: []models.Candidate{}, Error: "invalid set_datetime"}
			}
		}
		result, err = s.engine.ForRoom(ctx, req.GroupID, models.ParticipantKey(req.UserID), cutoff, req.MaxMessages)
	default:
		return SocketResponse{Contents: []models.Candidate{}, Error: "unsupported mode"}
	}

	if err != nil {
		return SocketResponse{Contents: []models.Candidate{}, Error: errorCode(err)}
	}
	return SocketResponse{Contents: result.Contents, Length: result.Length}
}

func (s *SocketServer) writeResponse(conn net.Conn, resp SocketResponse) {
	if resp.Contents == nil {
		resp.Contents = []models.Candidate{}
	}
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warn().Err(err).Msg("socket response write failed")
	}
}

// errorCode maps pipeline failures to stable protocol error strings.
func errorCode(err error) string {
	switch {
	case errors.Is(err, suggest.ErrEmptyContext):
		return "empty_context"
	case errors.Is(err, suggest.ErrProviderTimeout):
		return "provider_timeout"
	case errors.Is(err, suggest.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, suggest.ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, chat.ErrRoomNotFound):
		return "room_not_found"
	default:
		return "internal_error"
	}
}
