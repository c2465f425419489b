package models

import "time"

// Session is one independent chat thread.
type Session struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	HasCustomTitle bool      `json:"hasCustomTitle"`
}

// SessionSummary is the lightweight projection of a Session shown in the history list.
type SessionSummary struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	UpdatedAt          time.Time `json:"updatedAt"`
	LastMessageSnippet *string   `json:"lastMessageSnippet,omitempty"`
	HasCustomTitle     bool      `json:"hasCustomTitle"`
}

// DisplayTitle is what the history list shows: the custom title if the user set one,
// otherwise the latest message snippet, falling back to the default title.
func (s SessionSummary) DisplayTitle() string {
	if s.HasCustomTitle {
		return s.Title
	}
	if s.LastMessageSnippet != nil && *s.LastMessageSnippet != "" {
		return *s.LastMessageSnippet
	}
	return s.Title
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Messages = CloneMessages(s.Messages)
	return &cp
}
