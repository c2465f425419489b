package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kharomchat/internal/models"
)

func TestClientSendPromptSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req models.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(models.ReplyResponse("echo: " + req.Prompt))
	}))
	defer srv.Close()

	resp := NewClient(srv.URL, time.Second).SendPrompt(context.Background(), "hi")
	if !resp.OK() || *resp.Reply != "echo: hi" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestClientSendPromptErrors(t *testing.T) {
	cases := []struct {
		name        string
		status      int
		body        string
		wantErr     string
		wantBlocked bool
	}{
		{"body error", http.StatusBadGateway, `{"reply":null,"error":"provider down"}`, "provider down", false},
		{"blocked", http.StatusBadRequest, `{"error":"Request blocked","blocked":true,"blockReason":"SAFETY"}`, "Request blocked", true},
		{"no body", http.StatusInternalServerError, `oops`, "HTTP error! status: 500", false},
		{"non-string error", http.StatusServiceUnavailable, `{"error":{"code":1}}`, "HTTP error! status: 503", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			resp := NewClient(srv.URL+"/", time.Second).SendPrompt(context.Background(), "hi")
			if resp.OK() || resp.Reply != nil {
				t.Fatalf("expected failure, got %+v", resp)
			}
			if resp.ErrorText() != tc.wantErr {
				t.Fatalf("want error %q, got %q", tc.wantErr, resp.ErrorText())
			}
			if resp.Blocked != tc.wantBlocked {
				t.Fatalf("blocked mismatch: %+v", resp)
			}
			if resp.NetworkFailure {
				t.Fatalf("HTTP errors are not network failures")
			}
		})
	}
}

func TestClientSendPromptNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	resp := NewClient(url, time.Second).SendPrompt(context.Background(), "hi")
	if resp.OK() || !resp.NetworkFailure || resp.ErrorText() == "" {
		t.Fatalf("expected network failure, got %+v", resp)
	}
}

func TestNewClientEndpoint(t *testing.T) {
	if got := NewClient("http://x.test/api/chat", 0).Endpoint(); got != "http://x.test/api/chat" {
		t.Fatalf("unexpected endpoint %q", got)
	}
	if got := NewClient("http://x.test/", 0).Endpoint(); got != "http://x.test/api/chat" {
		t.Fatalf("unexpected endpoint %q", got)
	}
}
