package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/intervox/pkg/provider/llm"
)

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "claude-3-5-haiku-latest"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are Interview Bot.",
		Messages: []llm.Message{
			{Role: llm.RoleAssistant, Content: "Hi Alex, let's start the interview."},
			{Role: llm.RoleUser, Content: "Hello"},
		},
		Temperature: 0.3,
		MaxTokens:   200,
	})

	if params.Model != "claude-3-5-haiku-latest" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "You are Interview Bot." {
		t.Errorf("system message = %+v", params.Messages[0])
	}
	if params.Messages[2].Role != "user" || params.Messages[2].ContentString() != "Hello" {
		t.Errorf("last message = %+v", params.Messages[2])
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 200 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_NoSystemNoOptions(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if len(params.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("unset options should stay nil")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		opts     []anyllmlib.Option
		wantErr  bool
	}{
		{name: "empty provider", provider: "", model: "gpt-4o", wantErr: true},
		{name: "empty model", provider: "openai", model: "", wantErr: true},
		{name: "unsupported", provider: "fakecloud", model: "m", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("dummy")}, wantErr: true},
		{name: "openai with key", provider: "openai", model: "gpt-4o", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{name: "anthropic with key", provider: "Anthropic", model: "claude-3-5-sonnet-latest", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{name: "ollama without key", provider: "ollama", model: "llama3"},
		{name: "llamacpp without key", provider: "llamacpp", model: "llama3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New(tc.provider, tc.model, tc.opts...)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if err == nil && p.model != tc.model {
				t.Errorf("model = %q, want %q", p.model, tc.model)
			}
		})
	}
}

func TestNew_OpenAIMissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
