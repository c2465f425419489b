package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Feedback is the thumbs up/down verdict on an assistant message. The zero value means no verdict.
type Feedback string

const (
	FeedbackNone     Feedback = ""
	FeedbackLiked    Feedback = "liked"
	FeedbackDisliked Feedback = "disliked"
)

// Presets offered when a reply is disliked.
const (
	PresetInaccurate = "inaccurate"
	PresetOffensive  = "offensive"
	PresetUnhelpful  = "unhelpful"
	PresetOther      = "other"
)

func (f Feedback) Valid() bool {
	switch f {
	case FeedbackNone, FeedbackLiked, FeedbackDisliked:
		return true
	}
	return false
}

func (f Feedback) MarshalJSON() ([]byte, error) {
	if f == FeedbackNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(f))
}

func (f *Feedback) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = FeedbackNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	fb := Feedback(s)
	if !fb.Valid() {
		return fmt.Errorf("unknown feedback %q", s)
	}
	*f = fb
	return nil
}

// DetailedFeedback explains a dislike.
type DetailedFeedback struct {
	Presets []string `json:"presets"`
	Comment string   `json:"comment"`
}

// Message is one entry of a chat thread, written either by the user or by the assistant.
type Message struct {
	ID               string            `json:"id"`
	Text             string            `json:"text"`
	IsUser           bool              `json:"isUser"`
	Timestamp        time.Time         `json:"timestamp"`
	Feedback         Feedback          `json:"feedback"`
	DetailedFeedback *DetailedFeedback `json:"detailedFeedback"`
}

// ApplyFeedback sets the verdict. A non-nil detailed replaces the stored details and a nil one keeps them,
// except that liking a message always clears them.
func (m *Message) ApplyFeedback(fb Feedback, detailed *DetailedFeedback) {
	m.Feedback = fb
	if detailed != nil {
		cp := *detailed
		cp.Presets = append([]string(nil), detailed.Presets...)
		m.DetailedFeedback = &cp
	}
	if fb == FeedbackLiked {
		m.DetailedFeedback = nil
	}
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	if m.DetailedFeedback != nil {
		cp := *m.DetailedFeedback
		cp.Presets = append([]string(nil), m.DetailedFeedback.Presets...)
		m.DetailedFeedback = &cp
	}
	return m
}

// CloneMessages deep-copies a message slice, never returning nil.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
