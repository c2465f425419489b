package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"kharomchat/internal/models"
	"kharomchat/internal/observability"
	"kharomchat/internal/storage"
)

const (
	DefaultKeyPrefix     = "KHAROM_SESSION_"
	DefaultIndexKey      = "KHAROM_SESSION_SUMMARIES"
	DefaultSnippetLength = 50

	defaultTitleLayout = "1/2/2006, 3:04:05 PM"
)

// Store translates sessions and their summaries to and from key-value records.
// One record holds the summary index; every session lives under prefix+id.
type Store struct {
	kv         storage.KeyValue
	prefix     string
	indexKey   string
	snippetLen int
	now        func() time.Time
	titleFn    func(time.Time) string

	// indexMu serializes read-modify-write cycles on the index record.
	indexMu sync.Mutex
}

type Option func(*Store)

// WithKeys overrides the record key layout.
func WithKeys(prefix, indexKey string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
		if indexKey != "" {
			s.indexKey = indexKey
		}
	}
}

func WithSnippetLength(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.snippetLen = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTitleFormatter replaces the default "New Chat <time>" title.
func WithTitleFormatter(fn func(time.Time) string) Option {
	return func(s *Store) {
		if fn != nil {
			s.titleFn = fn
		}
	}
}

func NewStore(kv storage.KeyValue, opts ...Option) *Store {
	s := &Store{
		kv:         kv,
		prefix:     DefaultKeyPrefix,
		indexKey:   DefaultIndexKey,
		snippetLen: DefaultSnippetLength,
		now:        time.Now,
		titleFn:    DefaultTitle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultTitle names a session after its creation time.
func DefaultTitle(t time.Time) string {
	return "New Chat " + t.Format(defaultTitleLayout)
}

func (s *Store) sessionKey(id string) string {
	return s.prefix + id
}

// GetAllSessionSummaries returns the index, newest first. An absent or malformed index reads as empty.
func (s *Store) GetAllSessionSummaries(ctx context.Context) []models.SessionSummary {
	records := s.readIndex(ctx)
	out := make([]models.SessionSummary, 0, len(records))
	for _, r := range records {
		out = append(out, r.toModel())
	}
	return out
}

func (s *Store) readIndex(ctx context.Context) []summaryRecord {
	logger := observability.LoggerFromContext(ctx).With("key", s.indexKey)
	raw, err := s.kv.Get(ctx, s.indexKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Error("read session index failed", "error", err)
		}
		return []summaryRecord{}
	}
	var records []summaryRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		logger.Error("session index is malformed", "error", err)
		return []summaryRecord{}
	}
	if records == nil {
		records = []summaryRecord{}
	}
	return records
}

func (s *Store) writeIndex(ctx context.Context, records []summaryRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode session index: %w", err)
	}
	if err := s.kv.Set(ctx, s.indexKey, string(data)); err != nil {
		observability.LoggerFromContext(ctx).Error("write session index failed", "key", s.indexKey, "error", err)
		return fmt.Errorf("write session index: %w", err)
	}
	return nil
}

// GetSession loads one session. It reports false when the record is absent or unreadable.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, bool) {
	key := s.sessionKey(id)
	logger := observability.LoggerFromContext(ctx).With("session_id", id, "key", key)
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Error("read session failed", "error", err)
		}
		return nil, false
	}
	var rec sessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		logger.Error("session record is malformed", "error", err)
		return nil, false
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return rec.toModel(), true
}

// SaveSession stamps UpdatedAt on session, writes the full record and then upserts its summary
// into the index. The index is written last so a failure leaves at worst a stale summary.
func (s *Store) SaveSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("save session: id is required")
	}
	session.UpdatedAt = time.UnixMilli(s.now().UnixMilli())
	if session.Messages == nil {
		session.Messages = []models.Message{}
	}

	if err := s.writeSession(ctx, session); err != nil {
		return err
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	summary := toSummaryRecord(s.summarize(session))
	records := s.readIndex(ctx)
	if i := indexOf(records, session.ID); i >= 0 {
		records[i] = summary
	} else {
		records = append(records, summary)
	}
	slices.SortStableFunc(records, func(a, b summaryRecord) int {
		return time.Time(b.UpdatedAt).Compare(time.Time(a.UpdatedAt))
	})
	return s.writeIndex(ctx, records)
}

func (s *Store) writeSession(ctx context.Context, session *models.Session) error {
	key := s.sessionKey(session.ID)
	data, err := json.Marshal(toSessionRecord(session))
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	if err := s.kv.Set(ctx, key, string(data)); err != nil {
		observability.LoggerFromContext(ctx).Error("write session failed",
			"session_id", session.ID, "key", key, "error", err)
		return fmt.Errorf("write session %s: %w", session.ID, err)
	}
	return nil
}

// summarize projects a session into its index entry.
func (s *Store) summarize(session *models.Session) models.SessionSummary {
	summary := models.SessionSummary{
		ID:             session.ID,
		Title:          session.Title,
		UpdatedAt:      session.UpdatedAt,
		HasCustomTitle: session.HasCustomTitle,
	}
	if n := len(session.Messages); n > 0 {
		snippet := truncateRunes(session.Messages[n-1].Text, s.snippetLen)
		summary.LastMessageSnippet = &snippet
	}
	return summary
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	count := 0
	for i := range text {
		if count == limit {
			return text[:i]
		}
		count++
	}
	return text
}

func indexOf(records []summaryRecord, id string) int {
	return slices.IndexFunc(records, func(r summaryRecord) bool { return r.ID == id })
}

// DeleteSession removes the session record and its summary. Deleting an unknown id is a no-op.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	key := s.sessionKey(id)
	if err := s.kv.Remove(ctx, key); err != nil {
		observability.LoggerFromContext(ctx).Error("remove session failed", "session_id", id, "key", key, "error", err)
		return fmt.Errorf("remove session %s: %w", id, err)
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	records := s.readIndex(ctx)
	i := indexOf(records, id)
	if i < 0 {
		return nil
	}
	records = slices.Delete(records, i, i+1)
	return s.writeIndex(ctx, records)
}

// UpdateSessionTitle marks the title as user-chosen on the record and its summary.
// UpdatedAt is left alone and the index keeps its order.
func (s *Store) UpdateSessionTitle(ctx context.Context, id, title string) error {
	logger := observability.LoggerFromContext(ctx).With("session_id", id)
	session, ok := s.GetSession(ctx, id)
	if !ok {
		logger.Warn("rename skipped: session not found")
		return nil
	}
	session.Title = title
	session.HasCustomTitle = true
	if err := s.writeSession(ctx, session); err != nil {
		return err
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	records := s.readIndex(ctx)
	i := indexOf(records, id)
	if i < 0 {
		logger.Warn("rename: session missing from index")
		return nil
	}
	records[i].Title = title
	records[i].HasCustomTitle = true
	return s.writeIndex(ctx, records)
}

// NewSessionObject builds an unsaved session. An empty title gets the default one.
func (s *Store) NewSessionObject(title string) *models.Session {
	now := time.UnixMilli(s.now().UnixMilli())
	if title == "" {
		title = s.titleFn(now)
	}
	return &models.Session{
		ID:        GenerateID(),
		Title:     title,
		Messages:  []models.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
