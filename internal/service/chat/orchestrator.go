package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"kharomchat/internal/models"
	"kharomchat/internal/observability"
	"kharomchat/internal/service/history"
	"kharomchat/internal/service/session"
)

// MaxPromptLength bounds the message input, in runes.
const MaxPromptLength = 500

// PromptSender delivers one prompt to the model.
type PromptSender interface {
	SendPrompt(ctx context.Context, prompt string) models.ChatResponse
}

// Sessions is the part of the session coordinator a chat turn needs.
type Sessions interface {
	EnsureActiveSession(ctx context.Context) (string, error)
	SaveMessageToActiveSession(ctx context.Context, msg models.Message) error
	ActiveSessionID() string
}

type TurnState int

const (
	StateIdle TurnState = iota
	StateSending
	StateError
)

func (s TurnState) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Orchestrator runs user turns against the active session. One turn may be in flight at a time.
type Orchestrator struct {
	sessions Sessions
	sender   PromptSender
	now      func() time.Time
	newID    func() string

	mu        sync.Mutex
	state     TurnState
	lastErr   *TurnError
	pending   string
	sessionID string
	seq       uint64
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func NewOrchestrator(sessions Sessions, sender PromptSender, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions: sessions,
		sender:   sender,
		now:      time.Now,
		newID:    history.GenerateID,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) State() TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastError is the failure of the current turn, nil unless State is StateError.
func (o *Orchestrator) LastError() *TurnError {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastErr == nil {
		return nil
	}
	cp := *o.lastErr
	return &cp
}

// PendingPrompt is the prompt of the in-flight or failed turn.
func (o *Orchestrator) PendingPrompt() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

// InputEnabled reports whether a new message may be typed and sent.
func (o *Orchestrator) InputEnabled() bool {
	return o.State() != StateSending
}

// Send runs one turn: it persists the user message, asks the model and persists the reply.
// On model failure the turn moves to StateError and the returned error is a *TurnError.
func (o *Orchestrator) Send(ctx context.Context, text string) (*models.Message, error) {
	prompt := strings.TrimSpace(text)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return nil, fmt.Errorf("%w: %d runes, limit %d", ErrPromptTooLong, utf8.RuneCountInString(prompt), MaxPromptLength)
	}

	o.mu.Lock()
	if o.state == StateSending {
		o.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	o.seq++
	seq := o.seq
	o.state = StateSending
	o.pending = prompt
	o.lastErr = nil
	o.mu.Unlock()

	logger := observability.LoggerFromContext(ctx)
	sessionID, err := o.sessions.EnsureActiveSession(ctx)
	if err != nil {
		logger.Error("send: no session available", "error", err)
		o.abort(seq)
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	logger = logger.With("session_id", sessionID)

	userMsg := models.Message{
		ID:        o.newID(),
		Text:      prompt,
		IsUser:    true,
		Timestamp: o.now(),
	}
	if err := o.sessions.SaveMessageToActiveSession(ctx, userMsg); err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			o.abort(seq)
			return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
		}
		// The message stays visible in the thread; the write is retried with the next save.
		logger.Warn("user message not persisted", "message_id", userMsg.ID, "error", err)
	}

	o.mu.Lock()
	if o.seq == seq {
		o.sessionID = sessionID
	}
	o.mu.Unlock()

	return o.dispatch(ctx, logger, seq, sessionID, prompt)
}

// Retry resends the prompt of a failed turn without appending the user message again.
func (o *Orchestrator) Retry(ctx context.Context) (*models.Message, error) {
	o.mu.Lock()
	if o.state != StateError {
		o.mu.Unlock()
		return nil, ErrNothingToRetry
	}
	o.seq++
	seq := o.seq
	o.state = StateSending
	o.lastErr = nil
	prompt := o.pending
	sessionID := o.sessionID
	o.mu.Unlock()

	logger := observability.LoggerFromContext(ctx).With("session_id", sessionID)
	return o.dispatch(ctx, logger, seq, sessionID, prompt)
}

// Reset abandons the current turn, for example when the user switches sessions.
// A reply that arrives for the abandoned turn is dropped.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.seq++
	o.state = StateIdle
	o.pending = ""
	o.lastErr = nil
	o.sessionID = ""
	o.mu.Unlock()
}

func (o *Orchestrator) dispatch(ctx context.Context, logger *slog.Logger, seq uint64, sessionID, prompt string) (*models.Message, error) {
	started := o.now()
	resp := o.sender.SendPrompt(ctx, prompt)

	if !o.current(seq) || o.sessions.ActiveSessionID() != sessionID {
		logger.Warn("discarding late model response", "turn", seq, "ok", resp.OK())
		// The active session may have changed without a Reset; the turn still has to end.
		o.abort(seq)
		return nil, ErrTurnSuperseded
	}

	if !resp.OK() {
		turnErr := classify(resp, prompt)
		o.mu.Lock()
		if o.seq == seq {
			o.state = StateError
			o.lastErr = turnErr
		}
		o.mu.Unlock()
		logger.Error("model call failed", "category", turnErr.Category, "block_reason", turnErr.BlockReason,
			"error", turnErr.Message, "elapsed", o.now().Sub(started))
		return nil, turnErr
	}

	reply := models.Message{
		ID:        o.newID(),
		Text:      *resp.Reply,
		IsUser:    false,
		Timestamp: o.now(),
	}
	if err := o.sessions.SaveMessageToActiveSession(ctx, reply); err != nil {
		logger.Warn("assistant reply not persisted", "message_id", reply.ID, "error", err)
	}

	o.mu.Lock()
	if o.seq == seq {
		o.state = StateIdle
		o.pending = ""
	}
	o.mu.Unlock()
	observability.Debug("turn completed", "session_id", sessionID, "elapsed", o.now().Sub(started))
	return &reply, nil
}

func (o *Orchestrator) current(seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seq == seq
}

func (o *Orchestrator) abort(seq uint64) {
	o.mu.Lock()
	if o.seq == seq {
		o.state = StateIdle
		o.pending = ""
	}
	o.mu.Unlock()
}
