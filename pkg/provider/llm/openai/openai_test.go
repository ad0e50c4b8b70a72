package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/mira/pkg/provider/llm"
)

func TestParams_Roles(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.params(llm.CompletionRequest{
		SystemPrompt: "sys",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "extra"},
			{Role: llm.RoleUser, Content: "สวัสดี"},
			{Role: llm.RoleAssistant, Content: "สวัสดีค่ะ"},
		},
	})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	m := params.Messages
	if len(m) != 4 || m[0].OfSystem == nil || m[1].OfSystem == nil || m[2].OfUser == nil || m[3].OfAssistant == nil {
		t.Errorf("unexpected message layout: %+v", m)
	}
}

func TestParams_UnknownRole(t *testing.T) {
	p := &Provider{model: "m"}
	if _, err := p.params(llm.CompletionRequest{Messages: []llm.Message{{Role: "tool"}}}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestParams_JSONMode(t *testing.T) {
	p := &Provider{model: "m"}
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "x"}}

	plain, _ := p.params(llm.CompletionRequest{Messages: msgs})
	if plain.ResponseFormat.OfJSONObject != nil {
		t.Error("JSON mode set without being requested")
	}
	js, _ := p.params(llm.CompletionRequest{Messages: msgs, JSON: true})
	if js.ResponseFormat.OfJSONObject == nil {
		t.Error("JSON mode not set")
	}
}

func TestComplete_RejectsEmptyRequest(t *testing.T) {
	p, _ := New("sk-test", "m")
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); !errors.Is(err, llm.ErrNoMessages) {
		t.Errorf("err = %v, want ErrNoMessages", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for missing API key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestComplete_AgainstServer(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "c1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"intent\":\"greeting\"}"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "sys",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "สวัสดี"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"intent":"greeting"}` {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q, want stop", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if got.Model != "gpt-4o-mini" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("request = %+v", got)
	}
}

func TestComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad"}}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	p, _ := New("sk-test", "m", WithBaseURL(srv.URL+"/v1"), WithMaxRetries(0))
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	}); err == nil {
		t.Fatal("expected error")
	}
}
