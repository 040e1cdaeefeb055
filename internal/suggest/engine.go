// Package suggest generates ranked candidate replies from a room's recent
// history, personalized per participant. Each (room, participant) pair owns
// one suggestion slot: a new request supersedes the outstanding one instead
// of queuing behind it, so at most one provider call is in flight per slot
// and a stale result is never delivered.
package suggest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/NullWinters/GalChat/internal/metrics"
	"github.com/NullWinters/GalChat/internal/models"
)

var (
	// ErrEmptyContext indicates there was nothing to ground generation on;
	// the provider is never invoked.
	ErrEmptyContext = errors.New("suggest: empty context window")
	// ErrProviderUnavailable indicates a transport-level provider failure.
	ErrProviderUnavailable = errors.New("suggest: provider unavailable")
	// ErrProviderTimeout indicates the provider call exceeded its deadline.
	ErrProviderTimeout = errors.New("suggest: provider timeout")
	// ErrMalformedResponse indicates the provider response did not conform
	// to the structured-output contract.
	ErrMalformedResponse = errors.New("suggest: malformed provider response")
)

// History supplies context windows from a room's log, oldest-first.
// *chat.Registry satisfies this.
type History interface {
	Recent(ctx context.Context, roomID string, limit int) ([]models.Message, error)
	RecentBefore(ctx context.Context, roomID string, cutoff time.Time, limit int) ([]models.Message, error)
}

// Handles resolves participant keys to current display handles.
// *identity.Resolver satisfies this.
type Handles interface {
	Handle(roomID string, key models.ParticipantKey) string
}

// Delivery receives completed slot results for fan-out to the target
// participant's connections. Superseded tasks never reach it.
type Delivery interface {
	SuggestionsReady(roomID string, target models.ParticipantKey, s models.Suggestions, err error)
}

// Slot states.
type slotState int

const (
	slotIdle slotState = iota
	slotPending
	slotReady
	slotFailed
)

type slotKey struct {
	roomID string
	target models.ParticipantKey
}

// slot is the single-outstanding-task cell per (room, participant). The
// generation counter guards publication: a completing task whose generation
// is no longer current discards its result.
type slot struct {
	gen    uint64
	cancel context.CancelFunc
	state  slotState
}

// Engine is the suggestion pipeline.
type Engine struct {
	provider Provider
	history  History
	handles  Handles
	delivery Delivery

	window  int // context window size (messages)
	count   int // candidates per request
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	slots map[slotKey]*slot
}

// Options configures an Engine. Zero values fall back to defaults
// (window 10, count 5, timeout 30s).
type Options struct {
	Window  int
	Count   int
	Timeout time.Duration
}

// NewEngine creates a suggestion engine. History and handles may be nil for
// deployments that only serve free-text requests.
func NewEngine(provider Provider, history History, handles Handles, opts Options, logger zerolog.Logger) *Engine {
	if opts.Window <= 0 {
		opts.Window = 10
	}
	if opts.Count <= 0 {
		opts.Count = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Engine{
		provider: provider,
		history:  history,
		handles:  handles,
		window:   opts.Window,
		count:    opts.Count,
		timeout:  opts.Timeout,
		logger:   logger,
		slots:    make(map[slotKey]*slot),
	}
}

// SetDelivery wires the fan-out gateway for asynchronous slot results.
func (e *Engine) SetDelivery(d Delivery) {
	e.delivery = d
}

// generate runs one provider call over an assembled window and shapes the
// result. This is the synchronous core shared by every mode.
func (e *Engine) generate(ctx context.Context, lines []Line, localUser string) (models.Suggestions, error) {
	if len(lines) == 0 {
		return models.Suggestions{}, ErrEmptyContext
	}

	prompt := Prompt{
		Transcript: renderTranscript(lines),
		LocalUser:  localUser,
		Count:      e.count,
	}

	replies, err := e.provider.Generate(ctx, prompt)
	if err != nil {
		return models.Suggestions{}, classifyProviderError(ctx, err)
	}
	if len(replies) > e.count {
		replies = replies[:e.count]
	}

	contents := make([]models.Candidate, 0, len(replies))
	for _, r := range replies {
		contents = append(contents, models.Candidate{
			Content: r,
			Length:  utf8.RuneCountInString(r),
		})
	}
	return models.Suggestions{Contents: contents, Length: len(contents)}, nil
}

// classifyProviderError maps raw provider failures onto the pipeline's
// error taxonomy.
func classifyProviderError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrMalformedResponse):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.Join(ErrProviderTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return errors.Join(ErrProviderUnavailable, err)
	}
}

// windowForRoom assembles the annotated context window for a room-backed
// request: the last N messages oldest-first, each tagged with its author's
// current handle and whether the target wrote it.
func (e *Engine) windowForRoom(ctx context.Context, roomID string, target models.ParticipantKey, cutoff time.Time, limit int) ([]Line, error) {
	if limit <= 0 || limit > e.window {
		limit = e.window
	}

	var (
		msgs []models.Message
		err  error
	)
	if cutoff.IsZero() {
		msgs, err = e.history.Recent(ctx, roomID, limit)
	} else {
		msgs, err = e.history.RecentBefore(ctx, roomID, cutoff, limit)
	}
	if err != nil {
		return nil, err
	}

	return annotate(msgs, target, func(k models.ParticipantKey) string {
		return e.handles.Handle(roomID, k)
	}), nil
}

// ForRoom synchronously generates suggestions for a participant from the
// room's recent history. Used by the one-shot request/response modes.
func (e *Engine) ForRoom(ctx context.Context, roomID string, target models.ParticipantKey, cutoff time.Time, limit int) (models.Suggestions, error) {
	metrics.SuggestionsRequested.WithLabelValues("history").Inc()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	lines, err := e.windowForRoom(ctx, roomID, target, cutoff, limit)
	if err != nil {
		return models.Suggestions{}, err
	}
	return e.generate(ctx, lines, e.handles.Handle(roomID, target))
}

// FromTranscript synchronously generates suggestions from a caller-supplied
// free-text transcript, with no room or participant persistence.
func (e *Engine) FromTranscript(ctx context.Context, transcript, localUser string) (models.Suggestions, error) {
	metrics.SuggestionsRequested.WithLabelValues("freetext").Inc()

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return models.Suggestions{}, ErrEmptyContext
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	return e.generate(ctx, []Line{{Handle: localUser, Body: transcript, Self: false}}, localUser)
}

// Request issues an asynchronous suggestion task for the (room, participant)
// slot. If a task is already pending for the slot it is cancelled and its
// eventual result discarded; the slot moves directly to a new Pending. The
// completed result reaches the Delivery collaborator unless superseded.
func (e *Engine) Request(roomID string, target models.ParticipantKey) {
	metrics.SuggestionsRequested.WithLabelValues("room").Inc()

	k := slotKey{roomID: roomID, target: target}

	e.mu.Lock()
	s := e.slots[k]
	if s == nil {
		s = &slot{}
		e.slots[k] = s
	}
	if s.cancel != nil {
		// Latest request wins: cancel the in-flight task.
		s.cancel()
		metrics.SuggestionsCompleted.WithLabelValues("superseded").Inc()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	s.cancel = cancel
	s.state = slotPending
	e.mu.Unlock()

	go e.run(ctx, cancel, k, gen)
}

func (e *Engine) run(ctx context.Context, cancel context.CancelFunc, k slotKey, gen uint64) {
	defer cancel()

	lines, err := e.windowForRoom(ctx, k.roomID, k.target, time.Time{}, 0)
	var result models.Suggestions
	if err == nil {
		result, err = e.generate(ctx, lines, e.handles.Handle(k.roomID, k.target))
	}

	e.mu.Lock()
	s := e.slots[k]
	if s == nil || s.gen != gen {
		// Superseded or cancelled while running: the result, even if it
		// arrived, is never published.
		e.mu.Unlock()
		return
	}
	s.cancel = nil
	if err != nil {
		s.state = slotFailed
	} else {
		s.state = slotReady
	}
	e.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		// Slot cancelled (disconnect) after the provider returned.
		return
	}

	if err != nil {
		metrics.SuggestionsCompleted.WithLabelValues("failed").Inc()
		e.logger.Warn().Err(err).
			Str("room_id", k.roomID).
			Str("target", string(k.target)).
			Msg("suggestion task failed")
	} else {
		metrics.SuggestionsCompleted.WithLabelValues("ready").Inc()
	}

	if e.delivery != nil {
		e.delivery.SuggestionsReady(k.roomID, k.target, result, err)
	}
}

// Cancel aborts any pending task for the slot and drops it. Called when the
// last connection representing the target participant disconnects, and on
// room deletion for every slot of the room.
func (e *Engine) Cancel(roomID string, target models.ParticipantKey) {
	k := slotKey{roomID: roomID, target: target}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.slots[k]; ok {
		if s.cancel != nil {
			s.cancel()
		}
		delete(e.slots, k)
	}
}

// CancelRoom drops every slot belonging to a room.
func (e *Engine) CancelRoom(roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, s := range e.slots {
		if k.roomID == roomID {
			if s.cancel != nil {
				s.cancel()
			}
			delete(e.slots, k)
		}
	}
}
