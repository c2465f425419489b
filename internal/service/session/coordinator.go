package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"kharomchat/internal/models"
	"kharomchat/internal/observability"
)

var (
	// ErrNoActiveSession is returned when a mutation needs an active session and none is selected.
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionUnavailable means a new session could not be created.
	ErrSessionUnavailable = errors.New("no session available")
)

// Store is the persistence the coordinator drives. *history.Store implements it.
type Store interface {
	GetAllSessionSummaries(ctx context.Context) []models.SessionSummary
	GetSession(ctx context.Context, id string) (*models.Session, bool)
	SaveSession(ctx context.Context, session *models.Session) error
	DeleteSession(ctx context.Context, id string) error
	UpdateSessionTitle(ctx context.Context, id, title string) error
	NewSessionObject(title string) *models.Session
}

// State is a point-in-time copy of what the coordinator exposes.
type State struct {
	Sessions              []models.SessionSummary `json:"sessions"`
	ActiveSessionID       string                  `json:"activeSessionId"`
	ActiveSessionMessages []models.Message        `json:"activeSessionMessages"`
	IsLoadingSession      bool                    `json:"isLoadingSession"`
	IsLoadingSummaries    bool                    `json:"isLoadingSummaries"`
}

// Coordinator owns the session list, the active session and its message mirror,
// and keeps them consistent with the Store.
type Coordinator struct {
	store  Store
	queues *writeQueues

	mu               sync.RWMutex
	sessions         []models.SessionSummary
	activeID         string
	activeMessages   []models.Message
	loadingSession   bool
	loadingSummaries bool
	selectSeq        uint64

	started    atomic.Bool
	loaded     chan struct{}
	loadedOnce sync.Once
	ensureMu   sync.Mutex

	subsMu  sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

type Option func(*Coordinator)

// WithObserver registers a state listener at construction time.
func WithObserver(fn func(State)) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.subs[c.nextSub] = fn
			c.nextSub++
		}
	}
}

func NewCoordinator(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:            store,
		queues:           newWriteQueues(),
		sessions:         []models.SessionSummary{},
		activeMessages:   []models.Message{},
		loadingSummaries: true,
		loaded:           make(chan struct{}),
		subs:             make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start loads the summaries in the background. The returned channel closes when the load is done.
// No session is selected automatically.
func (c *Coordinator) Start(ctx context.Context) <-chan struct{} {
	c.started.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RefreshSessionSummaries(ctx)
	}()
	return done
}

// Close stops every session write queue.
func (c *Coordinator) Close() {
	c.queues.close()
}

func (c *Coordinator) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() State {
	return State{
		Sessions:              slices.Clone(c.sessions),
		ActiveSessionID:       c.activeID,
		ActiveSessionMessages: models.CloneMessages(c.activeMessages),
		IsLoadingSession:      c.loadingSession,
		IsLoadingSummaries:    c.loadingSummaries,
	}
}

func (c *Coordinator) Sessions() []models.SessionSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.sessions)
}

func (c *Coordinator) ActiveSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeID
}

func (c *Coordinator) ActiveSessionMessages() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.CloneMessages(c.activeMessages)
}

func (c *Coordinator) IsLoadingSession() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadingSession
}

func (c *Coordinator) IsLoadingSummaries() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadingSummaries
}

// Subscribe registers fn to receive a snapshot after every state change.
func (c *Coordinator) Subscribe(fn func(State)) (unsubscribe func()) {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()
	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

func (c *Coordinator) notify() {
	c.subsMu.Lock()
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subsMu.Unlock()
	if len(subs) == 0 {
		return
	}
	state := c.Snapshot()
	for _, fn := range subs {
		fn(state)
	}
}

// RefreshSessionSummaries replaces the local list with what the Store holds.
func (c *Coordinator) RefreshSessionSummaries(ctx context.Context) {
	summaries := c.store.GetAllSessionSummaries(ctx)
	if summaries == nil {
		summaries = []models.SessionSummary{}
	}
	c.mu.Lock()
	c.sessions = summaries
	c.loadingSummaries = false
	c.mu.Unlock()
	c.loadedOnce.Do(func() { close(c.loaded) })
	c.notify()
}

// SelectSession makes id active right away and then loads its messages. A session that cannot be
// read leaves id active with an empty thread.
func (c *Coordinator) SelectSession(ctx context.Context, id string) {
	c.mu.Lock()
	c.selectSeq++
	seq := c.selectSeq
	c.activeID = id
	c.activeMessages = []models.Message{}
	c.loadingSession = true
	c.mu.Unlock()
	c.notify()

	session, ok := c.store.GetSession(ctx, id)
	if !ok {
		observability.LoggerFromContext(ctx).Error("select session: session not found", "session_id", id)
	}

	c.mu.Lock()
	if c.selectSeq != seq {
		// A newer selection owns the state now.
		c.mu.Unlock()
		return
	}
	if ok {
		c.activeMessages = models.CloneMessages(session.Messages)
	} else {
		c.activeMessages = []models.Message{}
	}
	c.loadingSession = false
	c.mu.Unlock()
	c.notify()
}

// CreateNewSession persists a fresh session and makes it active. It returns "" when the session
// could not be saved; callers must not send messages in that case.
func (c *Coordinator) CreateNewSession(ctx context.Context) string {
	session := c.store.NewSessionObject("")
	logger := observability.LoggerFromContext(ctx).With("session_id", session.ID)

	err := c.queues.submit(ctx, session.ID, func(ctx context.Context) error {
		return c.store.SaveSession(ctx, session)
	})
	if err != nil {
		logger.Error("create session failed", "error", err)
		return ""
	}
	c.RefreshSessionSummaries(ctx)

	c.mu.Lock()
	c.selectSeq++
	c.activeID = session.ID
	c.activeMessages = []models.Message{}
	c.loadingSession = false
	c.mu.Unlock()
	c.notify()

	logger.Info("session created")
	return session.ID
}

// EnsureActiveSession returns the active session id, creating a session when none is active.
// Creation waits for the first summary load to finish, running it here if Start was never called.
func (c *Coordinator) EnsureActiveSession(ctx context.Context) (string, error) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()

	if id := c.ActiveSessionID(); id != "" {
		return id, nil
	}
	if c.IsLoadingSummaries() {
		if !c.started.Load() {
			c.RefreshSessionSummaries(ctx)
		}
		select {
		case <-c.loaded:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if id := c.ActiveSessionID(); id != "" {
			return id, nil
		}
	}
	id := c.CreateNewSession(ctx)
	if id == "" {
		return "", ErrSessionUnavailable
	}
	return id, nil
}

// SaveMessageToActiveSession appends msg to the active thread at once and then persists it
// on top of the latest stored copy of the session. Duplicate message ids are ignored.
func (c *Coordinator) SaveMessageToActiveSession(ctx context.Context, msg models.Message) error {
	c.mu.Lock()
	id := c.activeID
	if id == "" {
		c.mu.Unlock()
		observability.LoggerFromContext(ctx).Error("save message: no active session", "message_id", msg.ID)
		return ErrNoActiveSession
	}
	if !containsMessage(c.activeMessages, msg.ID) {
		c.activeMessages = append(c.activeMessages, msg.Clone())
	}
	mirror := models.CloneMessages(c.activeMessages)
	c.mu.Unlock()
	c.notify()

	logger := observability.LoggerFromContext(ctx).With("session_id", id, "message_id", msg.ID)
	var stored []models.Message
	err := c.queues.submit(ctx, id, func(ctx context.Context) error {
		session, ok := c.store.GetSession(ctx, id)
		if !ok {
			logger.Warn("active session missing from storage, recreating it")
			session = c.store.NewSessionObject("")
			session.ID = id
		}
		// Messages of earlier failed writes ride along with this one.
		session.Messages = mergeMessages(session.Messages, mirror)
		if err := c.store.SaveSession(ctx, session); err != nil {
			return err
		}
		stored = session.Messages
		return nil
	})
	if err != nil {
		logger.Error("save message failed", "error", err)
		return fmt.Errorf("save message: %w", err)
	}

	c.reconcile(id, stored)
	c.RefreshSessionSummaries(ctx)
	return nil
}

// RenameSession stores a user-chosen title. The local list is patched in place without reordering.
func (c *Coordinator) RenameSession(ctx context.Context, id, title string) error {
	c.mu.Lock()
	for i := range c.sessions {
		if c.sessions[i].ID == id {
			c.sessions[i].Title = title
			c.sessions[i].HasCustomTitle = true
			break
		}
	}
	c.mu.Unlock()
	c.notify()

	err := c.queues.submit(ctx, id, func(ctx context.Context) error {
		return c.store.UpdateSessionTitle(ctx, id, title)
	})
	if err != nil {
		observability.LoggerFromContext(ctx).Error("rename session failed", "session_id", id, "error", err)
		return fmt.Errorf("rename session: %w", err)
	}
	return nil
}

// DeleteSession removes a session. Deleting the active one selects the newest remaining session,
// or clears the active state when none is left.
func (c *Coordinator) DeleteSession(ctx context.Context, id string) error {
	err := c.queues.submit(ctx, id, func(ctx context.Context) error {
		return c.store.DeleteSession(ctx, id)
	})
	if err != nil {
		observability.LoggerFromContext(ctx).Error("delete session failed", "session_id", id, "error", err)
		return fmt.Errorf("delete session: %w", err)
	}
	c.queues.purge(id)
	c.RefreshSessionSummaries(ctx)

	c.mu.Lock()
	if c.activeID != id {
		c.mu.Unlock()
		return nil
	}
	if len(c.sessions) > 0 {
		next := c.sessions[0].ID
		c.mu.Unlock()
		c.SelectSession(ctx, next)
		return nil
	}
	c.selectSeq++
	c.activeID = ""
	c.activeMessages = []models.Message{}
	c.loadingSession = false
	c.mu.Unlock()
	c.notify()
	return nil
}

// UpdateMessageFeedbackInActiveSession records a verdict on one message of the active session.
// A nil detailed keeps the stored details; liking a message clears them.
func (c *Coordinator) UpdateMessageFeedbackInActiveSession(ctx context.Context, messageID string, fb models.Feedback, detailed *models.DetailedFeedback) error {
	if !fb.Valid() {
		return fmt.Errorf("update feedback: invalid feedback %q", fb)
	}
	c.mu.Lock()
	id := c.activeID
	if id == "" {
		c.mu.Unlock()
		observability.LoggerFromContext(ctx).Error("update feedback: no active session", "message_id", messageID)
		return ErrNoActiveSession
	}
	for i := range c.activeMessages {
		if c.activeMessages[i].ID == messageID {
			c.activeMessages[i].ApplyFeedback(fb, detailed)
		}
	}
	mirror := models.CloneMessages(c.activeMessages)
	c.mu.Unlock()
	c.notify()

	logger := observability.LoggerFromContext(ctx).With("session_id", id, "message_id", messageID)
	var stored []models.Message
	err := c.queues.submit(ctx, id, func(ctx context.Context) error {
		session, ok := c.store.GetSession(ctx, id)
		if !ok {
			logger.Warn("active session missing from storage, recreating it")
			session = c.store.NewSessionObject("")
			session.ID = id
		}
		session.Messages = mergeMessages(session.Messages, mirror)
		for i := range session.Messages {
			if session.Messages[i].ID == messageID {
				session.Messages[i].ApplyFeedback(fb, detailed)
			}
		}
		if err := c.store.SaveSession(ctx, session); err != nil {
			return err
		}
		stored = session.Messages
		return nil
	})
	if err != nil {
		logger.Error("update feedback failed", "error", err)
		return fmt.Errorf("update feedback: %w", err)
	}

	c.reconcile(id, stored)
	c.RefreshSessionSummaries(ctx)
	return nil
}

// reconcile makes the mirror equal to the stored messages of id, keeping any optimistic
// messages whose writes are still queued.
func (c *Coordinator) reconcile(id string, stored []models.Message) {
	c.mu.Lock()
	if c.activeID != id || c.loadingSession {
		c.mu.Unlock()
		return
	}
	c.activeMessages = mergeMessages(models.CloneMessages(stored), c.activeMessages)
	c.mu.Unlock()
	c.notify()
}

// mergeMessages returns base followed by the messages of extra not already in base.
func mergeMessages(base, extra []models.Message) []models.Message {
	out := slices.Clip(base)
	for _, m := range extra {
		if !containsMessage(out, m.ID) {
			out = append(out, m.Clone())
		}
	}
	if out == nil {
		out = []models.Message{}
	}
	return out
}

func containsMessage(msgs []models.Message, id string) bool {
	return slices.ContainsFunc(msgs, func(m models.Message) bool { return m.ID == id })
}
