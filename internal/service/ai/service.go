package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"kharomchat/internal/config"
	"kharomchat/internal/models"
	"kharomchat/internal/observability"
)

// BlockedError reports a reply withheld by the provider's content filter.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("reply blocked: %s", e.Reason)
}

// Service talks to an LLM provider through eino.
type Service struct {
	chatModel model.BaseChatModel
	provider  string
	modelName string
	timeout   time.Duration
}

// NewService builds the chat model for provider from its configuration.
func NewService(ctx context.Context, provider string, cfg config.ProviderConfig, timeout time.Duration) (*Service, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: api key is required", provider)
	}
	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		modelName := orDefault(cfg.Model, "gpt-4o-mini")
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   modelName,
			APIKey:  cfg.APIKey,
		})
		cfg.Model = modelName
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		cfg.Model = orDefault(cfg.Model, "gemini-2.0-flash")
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	case "claude":
		var baseURL *string
		if cfg.BaseURL != "" {
			baseURL = &cfg.BaseURL
		}
		cfg.Model = orDefault(cfg.Model, "claude-3-5-haiku-latest")
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURL,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return newServiceWithModel(chatModel, provider, cfg.Model, timeout), nil
}

func newServiceWithModel(chatModel model.BaseChatModel, provider, modelName string, timeout time.Duration) *Service {
	return &Service{chatModel: chatModel, provider: provider, modelName: modelName, timeout: timeout}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// GenerateReply sends prompt with the advisor instructions and returns the reply text.
// A content-filtered reply yields *BlockedError.
func (s *Service) GenerateReply(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt is required")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	messages := []*schema.Message{
		{Role: schema.System, Content: systemPrompt},
		{Role: schema.User, Content: prompt},
	}
	started := time.Now()
	resp, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	observability.Debug("model replied", "provider", s.provider, "model", s.modelName, "elapsed", time.Since(started))

	if reason := blockReason(resp); reason != "" {
		return "", &BlockedError{Reason: reason}
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errors.New("empty reply from model")
	}
	return text, nil
}

func blockReason(resp *schema.Message) string {
	if resp == nil || resp.ResponseMeta == nil {
		return ""
	}
	reason := resp.ResponseMeta.FinishReason
	if _, ok := blockedFinishReasons[strings.ToLower(reason)]; ok {
		return strings.ToUpper(reason)
	}
	return ""
}

// SendPrompt runs GenerateReply in-process and reports the outcome in wire form.
func (s *Service) SendPrompt(ctx context.Context, prompt string) models.ChatResponse {
	reply, err := s.GenerateReply(ctx, prompt)
	if err == nil {
		return models.ReplyResponse(reply)
	}
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		resp := models.ErrorResponse(BlockedMessage)
		resp.Blocked = true
		resp.BlockReason = blocked.Reason
		return resp
	}
	observability.LoggerFromContext(ctx).Error("model call failed", "provider", s.provider, "error", err)
	resp := models.ErrorResponse(err.Error())
	resp.NetworkFailure = IsTimeout(err)
	return resp
}
