package config

import "time"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Sanitizer SanitizerConfig `yaml:"sanitizer"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Budget    BudgetConfig    `yaml:"budget"`
	Policy    PolicyConfig    `yaml:"policy"`
	Routing   RoutingConfig   `yaml:"routing"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + itoa(d.Port) + "/" + d.Name + "?sslmode=disable"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	s := ""
	for i > 0 {
		s = string(rune('0'+i%10)) + s
		i /= 10
	}
	return s
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// SanitizerConfig holds the risk-scoring policy. The numeric cutoffs are
// policy, not behavior: operators tune them per deployment.
type SanitizerConfig struct {
	Enabled bool `yaml:"enabled"`

	// Thresholds maps trust level to the risk score at which the action
	// becomes escalate. Scores at or above BlockThreshold block outright
	// regardless of trust; scores at or above WarnThreshold warn.
	Thresholds     map[string]float64 `yaml:"thresholds"`
	WarnThreshold  float64            `yaml:"warn_threshold"`
	BlockThreshold float64            `yaml:"block_threshold"`

	// SensitiveThreshold applies to security-sensitive requests at every
	// trust level. It must sit below the per-trust thresholds.
	SensitiveThreshold float64 `yaml:"sensitive_threshold"`

	// TrustMultipliers scale the raw risk score per trust level before the
	// thresholds apply. Lower trust gets a higher multiplier.
	TrustMultipliers map[string]float64 `yaml:"trust_multipliers"`

	// ExcerptRunes bounds the content excerpt attached to security alerts.
	ExcerptRunes int `yaml:"excerpt_runes"`
}

// EscalationThreshold returns the escalate cutoff for a trust level,
// honoring the security-sensitive override.
func (s SanitizerConfig) EscalationThreshold(trust string, sensitive bool) float64 {
	if sensitive {
		return s.SensitiveThreshold
	}
	if v, ok := s.Thresholds[trust]; ok {
		return v
	}
	return s.SensitiveThreshold
}

type PromptConfig struct {
	// CacheMinChars is the minimum custom system prompt length worth a
	// provider cache marker.
	CacheMinChars int `yaml:"cache_min_chars"`

	// TokenBudgets maps request category to its default max tokens.
	TokenBudgets map[string]int `yaml:"token_budgets"`

	// DefaultTokenBudget applies to unknown categories.
	DefaultTokenBudget int `yaml:"default_token_budget"`
}

type BudgetConfig struct {
	ActiveProfile string                   `yaml:"active_profile"`
	Profiles      map[string]ProfileConfig `yaml:"profiles"`

	// Fractions of a window cap at which threshold events fire.
	WarningThreshold  float64 `yaml:"warning_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`
}

// ProfileConfig is a named set of spend caps. A zero cap means uncapped.
type ProfileConfig struct {
	DailyCapUSD   float64 `yaml:"daily_cap_usd"`
	WeeklyCapUSD  float64 `yaml:"weekly_cap_usd"`
	MonthlyCapUSD float64 `yaml:"monthly_cap_usd"`
}

type PolicyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

type RoutingConfig struct {
	MaxAttempts    int                  `yaml:"max_attempts"`
	AttemptTimeout time.Duration        `yaml:"attempt_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "warden",
			User:            "warden",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			DB:        0,
			PoolSize:  50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
		Sanitizer: SanitizerConfig{
			Enabled: true,
			Thresholds: map[string]float64{
				"low":      30,
				"standard": 45,
				"elevated": 60,
				"system":   80,
			},
			WarnThreshold:      15,
			BlockThreshold:     90,
			SensitiveThreshold: 20,
			TrustMultipliers: map[string]float64{
				"low":      1.5,
				"standard": 1.0,
				"elevated": 0.8,
				"system":   0.5,
			},
			ExcerptRunes: 160,
		},
		Prompt: PromptConfig{
			CacheMinChars: 200,
			TokenBudgets: map[string]int{
				"heartbeat":       256,
				"summarize":       1024,
				"query":           2048,
				"analysis":        4096,
				"creative":        4096,
				"planning":        8192,
				"code_generation": 8192,
			},
			DefaultTokenBudget: 2048,
		},
		Budget: BudgetConfig{
			ActiveProfile: "normal",
			Profiles: map[string]ProfileConfig{
				"conservative": {DailyCapUSD: 1, WeeklyCapUSD: 5, MonthlyCapUSD: 15},
				"normal":       {DailyCapUSD: 5, WeeklyCapUSD: 25, MonthlyCapUSD: 75},
				"unlimited":    {},
			},
			WarningThreshold:  0.75,
			CriticalThreshold: 0.95,
		},
		Policy: PolicyConfig{
			Enabled:           true,
			EvaluationTimeout: 100 * time.Millisecond,
		},
		Routing: RoutingConfig{
			MaxAttempts:    3,
			AttemptTimeout: 30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:      5,
				RecoveryProbeInterval: 15 * time.Second,
			},
		},
	}
}
