package cmd

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"kharomchat/internal/config"
	"kharomchat/internal/models"
	"kharomchat/internal/service/chat"
	"kharomchat/internal/service/history"
	"kharomchat/internal/service/session"
	"kharomchat/internal/storage"
)

type echoSender struct {
	fail bool
}

func (s *echoSender) SendPrompt(_ context.Context, prompt string) models.ChatResponse {
	if s.fail {
		resp := models.ErrorResponse("connection refused")
		resp.NetworkFailure = true
		return resp
	}
	return models.ReplyResponse("re: " + prompt)
}

func newTestREPL(t *testing.T, sender chat.PromptSender) (*repl, *history.Store, *bytes.Buffer) {
	t.Helper()
	var (
		mu   sync.Mutex
		tick = time.Date(2024, 2, 14, 19, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	store := history.NewStore(storage.NewMemory(), history.WithClock(clock))
	coord := session.NewCoordinator(store)
	t.Cleanup(coord.Close)
	<-coord.Start(context.Background())
	out := &bytes.Buffer{}
	return newREPL(coord, chat.NewOrchestrator(coord, sender), out), store, out
}

func TestREPLChatAndHistory(t *testing.T) {
	r, store, out := newTestREPL(t, &echoSender{})
	script := "hello there\n/history\n/quit\nnot reached\n"
	if err := r.run(context.Background(), strings.NewReader(script)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Kharom: re: hello there") {
		t.Fatalf("reply not printed:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "1. You: hello there") {
		t.Fatalf("history not printed:\n%s", out.String())
	}
	summaries := store.GetAllSessionSummaries(context.Background())
	if len(summaries) != 1 {
		t.Fatalf("expected one stored session, got %d", len(summaries))
	}
	sess, _ := store.GetSession(context.Background(), summaries[0].ID)
	if len(sess.Messages) != 2 {
		t.Fatalf("input after /quit was processed: %+v", sess.Messages)
	}
}

func TestREPLRetryAfterFailure(t *testing.T) {
	sender := &echoSender{fail: true}
	r, _, out := newTestREPL(t, sender)
	ctx := context.Background()

	if err := r.handle(ctx, "are you there?"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(out.String(), "[errorNetwork]") {
		t.Fatalf("network error not shown:\n%s", out.String())
	}
	sender.fail = false
	if err := r.handle(ctx, "/retry"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !strings.Contains(out.String(), "Kharom: re: are you there?") {
		t.Fatalf("retry reply missing:\n%s", out.String())
	}
	if n := len(r.sessions.ActiveSessionMessages()); n != 2 {
		t.Fatalf("expected 2 messages after retry, got %d", n)
	}
}

func TestREPLSessionCommands(t *testing.T) {
	r, store, out := newTestREPL(t, &echoSender{})
	ctx := context.Background()
	for _, line := range []string{"first chat", "/new", "second chat", "/rename 1 Date ideas", "/list"} {
		if err := r.handle(ctx, line); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}
	if !strings.Contains(out.String(), "Date ideas") {
		t.Fatalf("renamed chat not listed:\n%s", out.String())
	}
	summaries := store.GetAllSessionSummaries(ctx)
	if len(summaries) != 2 || summaries[0].Title != "Date ideas" || !summaries[0].HasCustomTitle {
		t.Fatalf("unexpected summaries %+v", summaries)
	}

	if err := r.handle(ctx, "/select 2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if r.sessions.ActiveSessionID() != summaries[1].ID {
		t.Fatalf("select by position picked %s", r.sessions.ActiveSessionID())
	}
	if err := r.handle(ctx, "/delete 2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := len(store.GetAllSessionSummaries(ctx)); n != 1 {
		t.Fatalf("expected 1 session after delete, got %d", n)
	}
	if r.sessions.ActiveSessionID() != summaries[0].ID {
		t.Fatalf("deleting the open chat should open the newest remaining one")
	}

	out.Reset()
	if err := r.handle(ctx, "/select 9"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if !strings.Contains(out.String(), "no chat number 9") {
		t.Fatalf("bad position not reported:\n%s", out.String())
	}
}

func TestREPLFeedback(t *testing.T) {
	r, _, out := newTestREPL(t, &echoSender{})
	ctx := context.Background()
	if err := r.handle(ctx, "help me"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := r.handle(ctx, "/like 1"); err != nil {
		t.Fatalf("like: %v", err)
	}
	if !strings.Contains(out.String(), "only replies can be rated") {
		t.Fatalf("user message rating not rejected:\n%s", out.String())
	}

	if err := r.handle(ctx, "/dislike 2 inaccurate,unhelpful too generic"); err != nil {
		t.Fatalf("dislike: %v", err)
	}
	reply := r.sessions.ActiveSessionMessages()[1]
	if reply.Feedback != models.FeedbackDisliked || reply.DetailedFeedback == nil {
		t.Fatalf("dislike not applied: %+v", reply)
	}
	if got := reply.DetailedFeedback; len(got.Presets) != 2 || got.Comment != "too generic" {
		t.Fatalf("unexpected details %+v", got)
	}

	if err := r.handle(ctx, "/like 2"); err != nil {
		t.Fatalf("like: %v", err)
	}
	reply = r.sessions.ActiveSessionMessages()[1]
	if reply.Feedback != models.FeedbackLiked || reply.DetailedFeedback != nil {
		t.Fatalf("like should clear details: %+v", reply)
	}
}

func TestParseDislike(t *testing.T) {
	if parseDislike(nil) != nil {
		t.Fatalf("no fields should keep stored details")
	}
	got := parseDislike([]string{"just", "wrong"})
	if len(got.Presets) != 0 || got.Comment != "just wrong" {
		t.Fatalf("comment-only dislike parsed as %+v", got)
	}
	got = parseDislike([]string{"offensive"})
	if len(got.Presets) != 1 || got.Presets[0] != models.PresetOffensive || got.Comment != "" {
		t.Fatalf("preset-only dislike parsed as %+v", got)
	}
}

func TestOpenKeyValue(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "memory"
	kv, closer, err := openKeyValue(cfg)
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	defer closer.Close()
	if _, ok := kv.(*storage.Memory); !ok {
		t.Fatalf("expected *storage.Memory, got %T", kv)
	}

	cfg.Storage.EncryptionKey = strings.Repeat("k", 32)
	kv, closer, err = openKeyValue(cfg)
	if err != nil {
		t.Fatalf("encrypted backend: %v", err)
	}
	defer closer.Close()
	if _, ok := kv.(*storage.Encrypted); !ok {
		t.Fatalf("expected *storage.Encrypted, got %T", kv)
	}

	cfg.Storage.Backend = "floppy"
	if _, _, err := openKeyValue(cfg); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}
