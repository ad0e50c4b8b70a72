package llmdialogue

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/mira/pkg/provider/dialogue"
	"github.com/MrWong99/mira/pkg/provider/llm"
	llmmock "github.com/MrWong99/mira/pkg/provider/llm/mock"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantIntent string
		wantSSML   string
	}{
		{"plain json", `{"intent":"greeting","response_ssml":"<speak>hi</speak>"}`, "greeting", "<speak>hi</speak>"},
		{"fenced", "```json\n{\"intent\":\"thank_you\",\"response_ssml\":\"<speak>bye</speak>\"}\n```", "thank_you", "<speak>bye</speak>"},
		{"legacy response key", `{"intent":"add_order","response":"<speak>ok</speak>"}`, "add_order", "<speak>ok</speak>"},
		{"prose", "hello there", dialogue.IntentUnknown, "<speak>hello there</speak>"},
		{"empty", "  ", dialogue.IntentUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseReply(tt.in)
			if got.Intent != tt.wantIntent || got.ResponseSSML != tt.wantSSML {
				t.Errorf("parseReply(%q) = %+v", tt.in, got)
			}
		})
	}
}

func TestAsk_KeepsAndResetsHistory(t *testing.T) {
	p := &llmmock.Provider{Responses: []string{`{"intent":"greeting","response_ssml":"<speak>hi</speak>"}`}}
	c, err := New(p, WithMaxHistory(3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, err := c.Ask(ctx, "s1", "สวัสดี"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got := c.HistoryLen("s1"); got != 2 {
		t.Errorf("history = %d, want 2", got)
	}
	if _, err := c.Ask(ctx, "s1", "again"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got := c.HistoryLen("s1"); got != 3 {
		t.Errorf("history = %d, want capped at 3", got)
	}
	req := p.LastRequest()
	if req.SystemPrompt != DefaultSystemPrompt {
		t.Error("system prompt not forwarded")
	}
	if !req.JSON {
		t.Error("JSON output mode not requested")
	}
	if last := req.Messages[len(req.Messages)-1]; last.Role != llm.RoleUser || last.Content != "again" {
		t.Errorf("last message = %+v", last)
	}

	_ = c.Reset(ctx, "s1")
	if got := c.HistoryLen("s1"); got != 0 {
		t.Errorf("history after reset = %d", got)
	}
}

func TestAsk_ProviderError(t *testing.T) {
	c, _ := New(&llmmock.Provider{Err: errors.New("down")})
	if _, err := c.Ask(context.Background(), "s", "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestAsk_EmptyReply(t *testing.T) {
	c, _ := New(&llmmock.Provider{Responses: []string{""}})
	_, err := c.Ask(context.Background(), "s", "x")
	if !errors.Is(err, dialogue.ErrEmptyReply) {
		t.Errorf("err = %v, want ErrEmptyReply", err)
	}
	if c.HistoryLen("s") != 0 {
		t.Error("failed turns should not be remembered")
	}
}

func TestNew_NilProvider(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error")
	}
}
