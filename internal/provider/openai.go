package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/prompt"
)

// OpenAI speaks the chat completions API, which most self-hosted and
// commercial gateways also accept.
type OpenAI struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewOpenAI(name string, cfg config.ProviderConfig, client *http.Client) *OpenAI {
	return &OpenAI{name: name, cfg: cfg, client: client}
}

func (o *OpenAI) Name() string { return o.name }

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model     string          `json:"model"`
	Messages  []openaiMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Complete(ctx context.Context, model string, p prompt.AssembledPrompt) (*Result, error) {
	// The chat completions API has no prompt caching control; the system
	// blocks collapse into a single system message.
	msgs := make([]openaiMessage, 0, len(p.Messages)+1)
	if len(p.SystemBlocks) > 0 {
		var sys strings.Builder
		for i, b := range p.SystemBlocks {
			if i > 0 {
				sys.WriteString("\n\n")
			}
			sys.WriteString(b.Text)
		}
		msgs = append(msgs, openaiMessage{Role: "system", Content: sys.String()})
	}
	for _, m := range p.Messages {
		msgs = append(msgs, openaiMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(openaiRequest{Model: model, Messages: msgs, MaxTokens: p.MaxTokens})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	for k, v := range o.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", o.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", o.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Provider: o.name, StatusCode: resp.StatusCode, Body: truncate(raw, 512)}
	}

	var parsed openaiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Choices) == 0 {
		// A 200 with an unparseable body still carried the model's answer
		// somewhere; surface it rather than failing the whole request.
		return &Result{Content: string(raw), FinishReason: "malformed"}, nil
	}

	return &Result{
		Content:      parsed.Choices[0].Message.Content,
		FinishReason: parsed.Choices[0].FinishReason,
		TokensIn:     parsed.Usage.PromptTokens,
		TokensOut:    parsed.Usage.CompletionTokens,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
