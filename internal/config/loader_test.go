package config

import (
	"os"
	"testing"
)

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("TEST_VAR", "hello")
	defer os.Unsetenv("TEST_VAR")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"${TEST_VAR:default}", "hello"},
		{"${UNSET_VAR:fallback}", "fallback"},
		{"${UNSET_VAR}", ""},
		{"no vars here", "no vars here"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
	}

	for _, tt := range tests {
		got := expandEnvVars(tt.input)
		if got != tt.expected {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "test-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "127.0.0.1"
  port: 9999
budget:
  active_profile: conservative
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	cfg := DefaultConfig()
	if err := LoadFile(tmpFile.Name(), cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Budget.ActiveProfile != "conservative" {
		t.Errorf("expected active profile conservative, got %s", cfg.Budget.ActiveProfile)
	}
	// Untouched defaults survive a partial file.
	if cfg.Routing.MaxAttempts != 3 {
		t.Errorf("expected default max_attempts 3, got %d", cfg.Routing.MaxAttempts)
	}
}

func TestDefaultConfig_SanitizerThresholdsOrdered(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.Sanitizer

	prev := -1.0
	for _, trust := range []string{"low", "standard", "elevated", "system"} {
		th := s.Thresholds[trust]
		if th <= prev {
			t.Errorf("threshold for %s (%f) should exceed the previous trust level's", trust, th)
		}
		prev = th
	}

	// The sensitive override must be stricter than every per-trust cutoff.
	for trust, th := range s.Thresholds {
		if s.SensitiveThreshold >= th {
			t.Errorf("sensitive threshold %f should be below %s threshold %f", s.SensitiveThreshold, trust, th)
		}
	}
}

func TestEscalationThreshold(t *testing.T) {
	s := DefaultConfig().Sanitizer

	if got := s.EscalationThreshold("low", false); got != s.Thresholds["low"] {
		t.Errorf("expected low threshold, got %f", got)
	}
	if got := s.EscalationThreshold("system", true); got != s.SensitiveThreshold {
		t.Errorf("security-sensitive must use the override threshold, got %f", got)
	}
	// Unknown trust levels fall back to the strictest cutoff.
	if got := s.EscalationThreshold("bogus", false); got != s.SensitiveThreshold {
		t.Errorf("unknown trust should use sensitive threshold, got %f", got)
	}
}

func TestDefaultConfig_TokenBudgetsMatchIntent(t *testing.T) {
	p := DefaultConfig().Prompt
	if p.TokenBudgets["heartbeat"] >= p.TokenBudgets["query"] {
		t.Error("heartbeat budget should be the smallest")
	}
	if p.TokenBudgets["planning"] <= p.TokenBudgets["query"] {
		t.Error("planning budget should exceed query")
	}
	if p.TokenBudgets["code_generation"] != p.TokenBudgets["planning"] {
		t.Error("code_generation and planning share the largest budget")
	}
}
