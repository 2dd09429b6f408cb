package types

// Category is the semantic intent of a request. It selects the default token
// budget and which models are suitable.
type Category string

const (
	CategoryHeartbeat      Category = "heartbeat"
	CategorySummarize      Category = "summarize"
	CategoryQuery          Category = "query"
	CategoryCodeGeneration Category = "code_generation"
	CategoryPlanning       Category = "planning"
	CategoryAnalysis       Category = "analysis"
	CategoryCreative       Category = "creative"

	// CategoryUnknown is the fallback for unrecognized categories so that new
	// request kinds degrade to conservative defaults instead of erroring.
	CategoryUnknown Category = "unknown"
)

// Categories lists every known category, in a stable order.
func Categories() []Category {
	return []Category{
		CategoryHeartbeat,
		CategorySummarize,
		CategoryQuery,
		CategoryCodeGeneration,
		CategoryPlanning,
		CategoryAnalysis,
		CategoryCreative,
	}
}

// ParseCategory maps a string onto a known category, returning CategoryUnknown
// for anything unrecognized.
func ParseCategory(s string) Category {
	c := Category(s)
	for _, known := range Categories() {
		if c == known {
			return c
		}
	}
	return CategoryUnknown
}
