package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kharomchat/internal/models"
	"kharomchat/internal/observability"
)

const maxResponseBytes = 1 << 20

// Client sends prompts to the backend chat route.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient targets {baseURL}/api/chat. A baseURL already ending in /api/chat is used as is.
func NewClient(baseURL string, timeout time.Duration) *Client {
	endpoint := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(endpoint, "/api/chat") {
		endpoint += "/api/chat"
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// SendPrompt never fails outright: every problem is reported in the returned response.
func (c *Client) SendPrompt(ctx context.Context, prompt string) models.ChatResponse {
	logger := observability.LoggerFromContext(ctx).With("endpoint", c.endpoint)

	body, err := json.Marshal(models.ChatRequest{Prompt: prompt})
	if err != nil {
		return models.ErrorResponse(fmt.Sprintf("encode request: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.ErrorResponse(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("chat request failed", "error", err)
		out := models.ErrorResponse(err.Error())
		out.NetworkFailure = true
		return out
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		logger.Error("read chat response failed", "status", resp.StatusCode, "error", err)
		out := models.ErrorResponse(err.Error())
		out.NetworkFailure = true
		return out
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeFailure(resp.StatusCode, data)
	}

	var out models.ChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		logger.Error("decode chat response failed", "error", err)
		return models.ErrorResponse(fmt.Sprintf("decode response: %v", err))
	}
	if out.Reply == nil && out.Error == nil {
		return models.ErrorResponse("empty reply from chat service")
	}
	return out
}

// decodeFailure prefers the error text of the body and falls back to the status code.
func decodeFailure(status int, data []byte) models.ChatResponse {
	fallback := fmt.Sprintf("HTTP error! status: %d", status)
	var body struct {
		Error       any    `json:"error"`
		Blocked     bool   `json:"blocked"`
		BlockReason string `json:"blockReason"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return models.ErrorResponse(fallback)
	}
	msg, ok := body.Error.(string)
	if !ok || msg == "" {
		msg = fallback
	}
	out := models.ErrorResponse(msg)
	out.Blocked = body.Blocked
	out.BlockReason = body.BlockReason
	return out
}

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
}
