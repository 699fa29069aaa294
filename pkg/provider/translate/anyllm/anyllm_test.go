package anyllm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxrelay/pkg/provider/translate"
)

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_EmptyProviderName(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("openai", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
	if !strings.Contains(err.Error(), "llamafile") {
		t.Errorf("error should list supported backends: %v", err)
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		name string
		opts []anyllmlib.Option
	}{
		{"openai", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"Anthropic", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"ollama", nil},
		{"llamacpp", nil},
		{"llamafile", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.name, "m", tt.opts...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != strings.ToLower(tt.name) {
				t.Errorf("Name() = %q", p.Name())
			}
		})
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

// ── Translate ─────────────────────────────────────────────────────────────────

func TestBuildParams(t *testing.T) {
	p := newWithBackend(nil, "test", "llama3")
	params := p.buildParams("Hola", "es", "en")

	if params.Model != "llama3" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q", params.Messages[0].Role)
	}
	if params.Messages[1].ContentString() != "Hola" {
		t.Errorf("user content = %q", params.Messages[1].ContentString())
	}
	if params.Temperature == nil || *params.Temperature != 0 {
		t.Errorf("temperature = %v", params.Temperature)
	}
}

func TestTranslate_EmptyText(t *testing.T) {
	p := newWithBackend(nil, "test", "m")
	if _, err := p.Translate(context.Background(), "", "es", "en"); !errors.Is(err, translate.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

func TestTranslate_OpenAICompatibleServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "local",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": " Hello "}, "finish_reason": "stop"}]
		}`))
	}))
	defer srv.Close()

	p, err := New("openai", "local", anyllmlib.WithAPIKey("sk-test"), anyllmlib.WithBaseURL(srv.URL+"/v1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := p.Translate(context.Background(), "Hola", "es", "en")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if out != "Hello" {
		t.Errorf("out = %q, want %q", out, "Hello")
	}
}
