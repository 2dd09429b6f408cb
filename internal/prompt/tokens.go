package prompt

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// EstimateTokens counts tokens for cost projection. Uses the cl100k_base
// encoding; if the encoding cannot be loaded (offline environments) it falls
// back to the chars/4 heuristic so budget checks keep working.
func EstimateTokens(text string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

// EstimatePromptTokens sums the token estimate over an assembled prompt.
func EstimatePromptTokens(p AssembledPrompt) int {
	total := 0
	for _, b := range p.SystemBlocks {
		total += EstimateTokens(b.Text)
	}
	for _, m := range p.Messages {
		total += EstimateTokens(m.Content)
	}
	return total
}
