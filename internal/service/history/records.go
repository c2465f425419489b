package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"kharomchat/internal/models"
)

// Persisted shapes. Session and summary times are epoch milliseconds; message timestamps are
// RFC 3339 strings. Both time fields accept either form when read back.

type sessionRecord struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Messages       []messageRecord `json:"messages"`
	CreatedAt      epochMillis     `json:"createdAt"`
	UpdatedAt      epochMillis     `json:"updatedAt"`
	HasCustomTitle bool            `json:"hasCustomTitle"`
}

type messageRecord struct {
	ID               string                   `json:"id"`
	Text             string                   `json:"text"`
	IsUser           bool                     `json:"isUser"`
	Timestamp        isoTime                  `json:"timestamp"`
	Feedback         models.Feedback          `json:"feedback"`
	DetailedFeedback *models.DetailedFeedback `json:"detailedFeedback"`
}

type summaryRecord struct {
	ID                 string      `json:"id"`
	Title              string      `json:"title"`
	UpdatedAt          epochMillis `json:"updatedAt"`
	LastMessageSnippet *string     `json:"lastMessageSnippet,omitempty"`
	HasCustomTitle     bool        `json:"hasCustomTitle"`
}

type epochMillis time.Time

func (t epochMillis) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(time.Time(t).UnixMilli(), 10)), nil
}

func (t *epochMillis) UnmarshalJSON(data []byte) error {
	parsed, err := parseFlexTime(data)
	if err != nil {
		return err
	}
	*t = epochMillis(parsed)
	return nil
}

type isoTime time.Time

func (t isoTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}

func (t *isoTime) UnmarshalJSON(data []byte) error {
	parsed, err := parseFlexTime(data)
	if err != nil {
		return err
	}
	*t = isoTime(parsed)
	return nil
}

// parseFlexTime reads an ISO-8601 string or an epoch millisecond number.
func parseFlexTime(data []byte) (time.Time, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return time.Time{}, nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return time.Time{}, err
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z07:00"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms), nil
		}
		return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return time.Time{}, fmt.Errorf("unparsable timestamp %s: %w", data, err)
	}
	return time.UnixMilli(int64(ms)), nil
}

func toSessionRecord(s *models.Session) sessionRecord {
	rec := sessionRecord{
		ID:             s.ID,
		Title:          s.Title,
		Messages:       make([]messageRecord, 0, len(s.Messages)),
		CreatedAt:      epochMillis(s.CreatedAt),
		UpdatedAt:      epochMillis(s.UpdatedAt),
		HasCustomTitle: s.HasCustomTitle,
	}
	for _, m := range s.Messages {
		rec.Messages = append(rec.Messages, messageRecord{
			ID:               m.ID,
			Text:             m.Text,
			IsUser:           m.IsUser,
			Timestamp:        isoTime(m.Timestamp),
			Feedback:         m.Feedback,
			DetailedFeedback: m.DetailedFeedback,
		})
	}
	return rec
}

func (r sessionRecord) toModel() *models.Session {
	s := &models.Session{
		ID:             r.ID,
		Title:          r.Title,
		Messages:       make([]models.Message, 0, len(r.Messages)),
		CreatedAt:      time.Time(r.CreatedAt),
		UpdatedAt:      time.Time(r.UpdatedAt),
		HasCustomTitle: r.HasCustomTitle,
	}
	for _, m := range r.Messages {
		s.Messages = append(s.Messages, models.Message{
			ID:               m.ID,
			Text:             m.Text,
			IsUser:           m.IsUser,
			Timestamp:        time.Time(m.Timestamp),
			Feedback:         m.Feedback,
			DetailedFeedback: m.DetailedFeedback,
		})
	}
	return s
}

func toSummaryRecord(s models.SessionSummary) summaryRecord {
	return summaryRecord{
		ID:                 s.ID,
		Title:              s.Title,
		UpdatedAt:          epochMillis(s.UpdatedAt),
		LastMessageSnippet: s.LastMessageSnippet,
		HasCustomTitle:     s.HasCustomTitle,
	}
}

func (r summaryRecord) toModel() models.SessionSummary {
	return models.SessionSummary{
		ID:                 r.ID,
		Title:              r.Title,
		UpdatedAt:          time.Time(r.UpdatedAt),
		LastMessageSnippet: r.LastMessageSnippet,
		HasCustomTitle:     r.HasCustomTitle,
	}
}
