package config

// ModelsConfig is the model catalog: which providers serve which models, at
// what price, and which request categories each model is suitable for.
type ModelsConfig struct {
	Models map[string]ModelEntry `yaml:"models"`
}

type ModelEntry struct {
	DisplayName string `yaml:"display_name"`
	Provider    string `yaml:"provider"`
	// Model is the provider-side model identifier.
	Model string `yaml:"model"`
	// Prices are USD per 1K tokens.
	InputPricePer1K  float64 `yaml:"input_price_per_1k"`
	OutputPricePer1K float64 `yaml:"output_price_per_1k"`
	ContextWindow    int     `yaml:"context_window"`
	// Categories lists the request categories this model is suitable for.
	// Empty means suitable for everything.
	Categories []string `yaml:"categories,omitempty"`
}

type ProvidersConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	Type          string            `yaml:"type"`
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	APIVersion    string            `yaml:"api_version,omitempty"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Headers       map[string]string `yaml:"headers,omitempty"`
}
