// Package provider holds the adapters that execute an assembled prompt
// against one upstream model API, and the registry the router selects from.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/prompt"
)

// Result is a provider-agnostic completion.
type Result struct {
	Content      string
	FinishReason string
	TokensIn     int
	TokensOut    int
}

// Provider executes prompts against one upstream API.
type Provider interface {
	Name() string
	Complete(ctx context.Context, model string, p prompt.AssembledPrompt) (*Result, error)
}

// UpstreamError reports a non-200 answer from a provider.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth a fallback attempt.
func (e *UpstreamError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTransient classifies an error for retry/fallback: rate limits, 5xx
// responses, timeouts, and network errors are transient; everything else
// (auth failures, invalid requests) is terminal.
func IsTransient(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}

// Registry manages provider adapters by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Reload swaps this registry's providers for those of other, so long-lived
// references pick up a config reload.
func (r *Registry) Reload(other *Registry) {
	other.mu.RLock()
	next := make(map[string]Provider, len(other.providers))
	for name, p := range other.providers {
		next[name] = p
	}
	other.mu.RUnlock()

	r.mu.Lock()
	r.providers = next
	r.mu.Unlock()
}

// BuildFromConfig builds provider adapters from the providers config.
func BuildFromConfig(provCfg *config.ProvidersConfig) *Registry {
	registry := NewRegistry()
	for name, cfg := range provCfg.Providers {
		client := &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxConcurrent,
				MaxIdleConnsPerHost: cfg.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}

		var p Provider
		switch cfg.Type {
		case "anthropic":
			p = NewAnthropic(name, cfg, client)
		default:
			// OpenAI-compatible is the lingua franca for unknown types.
			p = NewOpenAI(name, cfg, client)
		}
		registry.Register(name, p)
	}
	return registry
}
