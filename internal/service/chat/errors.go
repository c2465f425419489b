package chat

import (
	"errors"

	"kharomchat/internal/models"
)

var (
	ErrEmptyPrompt    = errors.New("prompt is required")
	ErrPromptTooLong  = errors.New("prompt is too long")
	ErrTurnInFlight   = errors.New("a message is already being sent")
	ErrNoSession      = errors.New("no session available")
	ErrNothingToRetry = errors.New("nothing to retry")
	// ErrTurnSuperseded is returned when a reply arrives for a turn that was reset or replaced.
	ErrTurnSuperseded = errors.New("turn superseded")
)

// Category classifies a failed turn for display. Every category can be retried.
type Category string

const (
	CategoryBlocked Category = "blocked"
	CategoryNetwork Category = "network"
	CategoryGeneric Category = "generic"
)

// MessageKey is the user-facing message key of the category.
func (c Category) MessageKey() string {
	switch c {
	case CategoryBlocked:
		return "errorBlocked"
	case CategoryNetwork:
		return "errorNetwork"
	default:
		return "errorGeneric"
	}
}

// TurnError describes why the model produced no reply. Prompt is kept verbatim for retry.
type TurnError struct {
	Category    Category `json:"category"`
	Key         string   `json:"key"`
	Message     string   `json:"message"`
	BlockReason string   `json:"blockReason,omitempty"`
	Prompt      string   `json:"prompt"`
}

func (e *TurnError) Error() string {
	if e.Message == "" {
		return string(e.Category) + " failure"
	}
	return e.Message
}

// Retryable reports whether the prompt may be resent.
func (e *TurnError) Retryable() bool { return true }

func classify(resp models.ChatResponse, prompt string) *TurnError {
	category := CategoryGeneric
	switch {
	case resp.Blocked:
		category = CategoryBlocked
	case resp.NetworkFailure:
		category = CategoryNetwork
	}
	msg := resp.ErrorText()
	if msg == "" {
		msg = "empty reply from model"
	}
	return &TurnError{
		Category:    category,
		Key:         category.MessageKey(),
		Message:     msg,
		BlockReason: resp.BlockReason,
		Prompt:      prompt,
	}
}
