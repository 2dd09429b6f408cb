package types

import "time"

// AIRequest is the canonical representation of an agent action entering the
// governance pipeline. Defaults are filled once at intake; after that the
// pipeline reads it, it does not write to it.
type AIRequest struct {
	// Identity (set at submission)
	ID    string `json:"id"`
	Agent string `json:"agent"`

	// Governance inputs
	Category          Category   `json:"category"`
	TrustLevel        TrustLevel `json:"trust_level"`
	Priority          int        `json:"priority"`
	SecuritySensitive bool       `json:"security_sensitive"`

	// Request content
	Content       string    `json:"content"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	Messages      []Message `json:"messages,omitempty"`
	MaxTokens     *int      `json:"max_tokens,omitempty"`
	EnableCaching bool      `json:"enable_caching"`

	// Internal tracking
	ReceivedAt time.Time `json:"-"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AllText returns the content plus every explicit message body, which is the
// full surface the sanitizer must scan.
func (r *AIRequest) AllText() []string {
	texts := make([]string, 0, len(r.Messages)+1)
	if r.Content != "" {
		texts = append(texts, r.Content)
	}
	for _, m := range r.Messages {
		texts = append(texts, m.Content)
	}
	return texts
}

// CoreAgent is the default platform agent. Requests from it carry the base
// identity block only; other agents get an extra identity block appended.
const CoreAgent = "core"
