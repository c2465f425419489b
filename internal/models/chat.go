package models

// ChatRequest is the body accepted by the chat route.
type ChatRequest struct {
	Prompt string `json:"prompt"`
}

// ChatResponse is the outcome of sending one prompt to the model.
// Exactly one of Reply and Error is set.
type ChatResponse struct {
	Reply       *string `json:"reply"`
	Error       *string `json:"error"`
	Blocked     bool    `json:"blocked,omitempty"`
	BlockReason string  `json:"blockReason,omitempty"`

	// NetworkFailure marks transport errors; it never crosses the wire.
	NetworkFailure bool `json:"-"`
}

// ReplyResponse builds a successful response.
func ReplyResponse(text string) ChatResponse {
	return ChatResponse{Reply: &text}
}

// ErrorResponse builds a failed response.
func ErrorResponse(msg string) ChatResponse {
	return ChatResponse{Error: &msg}
}

// OK reports whether the response carries a reply.
func (r ChatResponse) OK() bool {
	return r.Error == nil && r.Reply != nil
}

// ErrorText returns the error message or "".
func (r ChatResponse) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}
