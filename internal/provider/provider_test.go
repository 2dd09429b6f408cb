package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/prompt"
	"github.com/wardenhq/warden/internal/types"
)

func TestOpenAI_CollapsesSystemBlocks(t *testing.T) {
	var captured openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]string{"content": "hello"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3},
		})
	}))
	defer srv.Close()

	p := NewOpenAI("openai", config.ProviderConfig{BaseURL: srv.URL, APIKey: "test-key"}, srv.Client())
	res, err := p.Complete(context.Background(), "gpt-4o-mini", prompt.AssembledPrompt{
		SystemBlocks: []prompt.Block{{Text: "first"}, {Text: "second", Cacheable: true}},
		Messages:     []types.Message{{Role: "user", Content: "hi"}},
		MaxTokens:    64,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Content != "hello" || res.TokensIn != 12 || res.TokensOut != 3 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(captured.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(captured.Messages))
	}
	if captured.Messages[0].Role != "system" || captured.Messages[0].Content != "first\n\nsecond" {
		t.Errorf("system message = %+v", captured.Messages[0])
	}
	if captured.MaxTokens != 64 {
		t.Errorf("max_tokens = %d", captured.MaxTokens)
	}
}

func TestAnthropic_MarksCacheableBlocks(t *testing.T) {
	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("missing anthropic-version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]string{{"type": "text", "text": "hello"}},
			"stop_reason": "max_tokens",
			"usage":       map[string]int{"input_tokens": 20, "output_tokens": 5},
		})
	}))
	defer srv.Close()

	p := NewAnthropic("anthropic", config.ProviderConfig{BaseURL: srv.URL, APIKey: "test-key"}, srv.Client())
	res, err := p.Complete(context.Background(), "claude-sonnet", prompt.AssembledPrompt{
		SystemBlocks: []prompt.Block{{Text: "identity", Cacheable: true}, {Text: "agent"}},
		Messages:     []types.Message{{Role: "user", Content: "hi"}},
		MaxTokens:    256,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.FinishReason != "length" {
		t.Errorf("FinishReason = %q, want length", res.FinishReason)
	}
	if len(captured.System) != 2 {
		t.Fatalf("got %d system blocks, want 2", len(captured.System))
	}
	if captured.System[0].CacheControl == nil || captured.System[0].CacheControl.Type != "ephemeral" {
		t.Errorf("cacheable block missing cache_control: %+v", captured.System[0])
	}
	if captured.System[1].CacheControl != nil {
		t.Errorf("non-cacheable block got cache_control: %+v", captured.System[1])
	}
}

func TestComplete_UpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAI("openai", config.ProviderConfig{BaseURL: srv.URL}, srv.Client())
	_, err := p.Complete(context.Background(), "m", prompt.AssembledPrompt{})
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("want UpstreamError, got %v", err)
	}
	if ue.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", ue.StatusCode)
	}
	if !IsTransient(err) {
		t.Error("429 should be transient")
	}
}

func TestComplete_MalformedBodyDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	p := NewOpenAI("openai", config.ProviderConfig{BaseURL: srv.URL}, srv.Client())
	res, err := p.Complete(context.Background(), "m", prompt.AssembledPrompt{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.FinishReason != "malformed" || res.Content != "not json at all" {
		t.Errorf("unexpected degraded result %+v", res)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"auth failure", &UpstreamError{StatusCode: 401}, false},
		{"bad request", &UpstreamError{StatusCode: 400}, false},
		{"rate limit", &UpstreamError{StatusCode: 429}, true},
		{"server error", &UpstreamError{StatusCode: 503}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestBuildFromConfig(t *testing.T) {
	reg := BuildFromConfig(&config.ProvidersConfig{Providers: map[string]config.ProviderConfig{
		"anthropic": {Type: "anthropic", BaseURL: "https://api.anthropic.com/v1", MaxConcurrent: 4},
		"openai":    {Type: "openai", BaseURL: "https://api.openai.com/v1", MaxConcurrent: 4},
		"local":     {Type: "openai-compatible", BaseURL: "http://localhost:8080/v1"},
	}})

	for _, name := range []string{"anthropic", "openai", "local"} {
		p, ok := reg.Get(name)
		if !ok {
			t.Fatalf("provider %q not registered", name)
		}
		if p.Name() != name {
			t.Errorf("Name() = %q, want %q", p.Name(), name)
		}
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("unexpected provider for unknown name")
	}
}
