package types

// Response is the result of a request that completed against a provider.
type Response struct {
	RequestID        string    `json:"request_id"`
	Model            string    `json:"model"`
	Provider         string    `json:"provider"`
	Content          string    `json:"content"`
	FinishReason     string    `json:"finish_reason"`
	Usage            Usage     `json:"usage"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
	Attempts         []Attempt `json:"attempts"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Attempt records one dispatch in the fallback chain, successful or not.
// Refusals and terminal failures carry the full chain so the calling layer
// can explain the outcome without re-deriving it.
type Attempt struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Error    string `json:"error,omitempty"`
}
