package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"kharomchat/internal/config"
)

type fakeModel struct {
	reply *schema.Message
	err   error
	input []*schema.Message
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	return f.reply, f.err
}

func (f *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestGenerateReplyPrependsSystemPrompt(t *testing.T) {
	fm := &fakeModel{reply: &schema.Message{Role: schema.Assistant, Content: " Try a picnic. "}}
	svc := newServiceWithModel(fm, "openai", "test", 0)

	got, err := svc.GenerateReply(context.Background(), "first date ideas?")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "Try a picnic." {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(fm.input) != 2 || fm.input[0].Role != schema.System || fm.input[1].Content != "first date ideas?" {
		t.Fatalf("unexpected model input %+v", fm.input)
	}
}

func TestSendPromptClassifiesOutcomes(t *testing.T) {
	blocked := &fakeModel{reply: &schema.Message{
		Role:         schema.Assistant,
		ResponseMeta: &schema.ResponseMeta{FinishReason: "SAFETY"},
	}}
	resp := newServiceWithModel(blocked, "gemini", "test", 0).SendPrompt(context.Background(), "hi")
	if !resp.Blocked || resp.BlockReason != "SAFETY" || resp.Reply != nil {
		t.Fatalf("expected blocked response, got %+v", resp)
	}

	failing := &fakeModel{err: errors.New("quota exceeded")}
	resp = newServiceWithModel(failing, "openai", "test", 0).SendPrompt(context.Background(), "hi")
	if resp.OK() || resp.Blocked || resp.ErrorText() == "" {
		t.Fatalf("expected generic failure, got %+v", resp)
	}

	timeout := &fakeModel{err: context.DeadlineExceeded}
	resp = newServiceWithModel(timeout, "openai", "test", 0).SendPrompt(context.Background(), "hi")
	if !resp.NetworkFailure {
		t.Fatalf("deadline should be reported as a network failure: %+v", resp)
	}

	empty := &fakeModel{reply: &schema.Message{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{FinishReason: "stop"}}}
	resp = newServiceWithModel(empty, "openai", "test", 0).SendPrompt(context.Background(), "hi")
	if resp.OK() || resp.Blocked {
		t.Fatalf("empty reply should fail without being blocked: %+v", resp)
	}
}

func TestNewServiceRejectsBadConfig(t *testing.T) {
	if _, err := NewService(context.Background(), "openai", config.ProviderConfig{}, 0); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := NewService(context.Background(), "carrier-pigeon", config.ProviderConfig{APIKey: "k"}, 0); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}
