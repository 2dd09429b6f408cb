package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/prompt"
)

// Anthropic speaks the messages API. Cacheable system blocks carry an
// ephemeral cache_control marker so repeated prefixes hit the prompt cache.
type Anthropic struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewAnthropic(name string, cfg config.ProviderConfig, client *http.Client) *Anthropic {
	return &Anthropic{name: name, cfg: cfg, client: client}
}

func (a *Anthropic) Name() string { return a.name }

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicSystemBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string                 `json:"model"`
	System    []anthropicSystemBlock `json:"system,omitempty"`
	Messages  []anthropicMessage     `json:"messages"`
	MaxTokens int                    `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Anthropic) Complete(ctx context.Context, model string, p prompt.AssembledPrompt) (*Result, error) {
	system := make([]anthropicSystemBlock, 0, len(p.SystemBlocks))
	for _, b := range p.SystemBlocks {
		blk := anthropicSystemBlock{Type: "text", Text: b.Text}
		if b.Cacheable {
			blk.CacheControl = &anthropicCacheControl{Type: "ephemeral"}
		}
		system = append(system, blk)
	}
	msgs := make([]anthropicMessage, 0, len(p.Messages))
	for _, m := range p.Messages {
		msgs = append(msgs, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024 // messages API requires a positive cap
	}

	body, err := json.Marshal(anthropicRequest{Model: model, System: system, Messages: msgs, MaxTokens: maxTokens})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	apiVersion := a.cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2023-06-01"
	}
	req.Header.Set("anthropic-version", apiVersion)
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", a.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", a.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Provider: a.name, StatusCode: resp.StatusCode, Body: truncate(raw, 512)}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Content) == 0 {
		return &Result{Content: string(raw), FinishReason: "malformed"}, nil
	}

	var text bytes.Buffer
	for _, c := range parsed.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}

	return &Result{
		Content:      text.String(),
		FinishReason: mapStopReason(parsed.StopReason),
		TokensIn:     parsed.Usage.InputTokens,
		TokensOut:    parsed.Usage.OutputTokens,
	}, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
