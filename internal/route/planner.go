// Package route turns a categorized request into an ordered list of model
// candidates: cheapest suitable model first, circuit-broken models skipped.
package route

import (
	"errors"
	"sort"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/types"
)

// ErrNoModels means no configured model can serve the request right now.
var ErrNoModels = errors.New("no models available for request")

// Candidate is one model the dispatcher may try, with the cost the planner
// expects the attempt to incur.
type Candidate struct {
	Key           string // catalog key, also the breaker key
	Provider      string
	Model         string
	EstimatedCost float64
}

// Planner selects and orders model candidates from the live catalog.
type Planner struct {
	models func() config.ModelsConfig
	health *Health
}

func NewPlanner(models func() config.ModelsConfig, health *Health) *Planner {
	return &Planner{models: models, health: health}
}

// Health exposes the breaker tracker so the dispatcher can record outcomes.
func (p *Planner) Health() *Health { return p.health }

// Plan returns candidates suitable for the request's category, cheapest
// estimated cost first. Models whose breaker is open are excluded; ties
// break on catalog key so ordering is deterministic. promptTokens and
// maxTokens feed the cost estimate.
func (p *Planner) Plan(req *types.AIRequest, promptTokens, maxTokens int) ([]Candidate, error) {
	catalog := p.models()

	var out []Candidate
	for key, entry := range catalog.Models {
		if !suitable(entry, req.Category) {
			continue
		}
		if entry.ContextWindow > 0 && promptTokens+maxTokens > entry.ContextWindow {
			continue
		}
		if p.health != nil && !p.health.Available(key) {
			continue
		}
		out = append(out, Candidate{
			Key:           key,
			Provider:      entry.Provider,
			Model:         entry.Model,
			EstimatedCost: EstimateCost(entry, promptTokens, maxTokens),
		})
	}
	if len(out) == 0 {
		return nil, ErrNoModels
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EstimatedCost != out[j].EstimatedCost {
			return out[i].EstimatedCost < out[j].EstimatedCost
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// EstimateCost prices a worst-case attempt: the full prompt in, the token
// cap out.
func EstimateCost(entry config.ModelEntry, promptTokens, maxTokens int) float64 {
	in := float64(promptTokens) / 1000 * entry.InputPricePer1K
	out := float64(maxTokens) / 1000 * entry.OutputPricePer1K
	return in + out
}

// Cost prices an attempt from actual usage reported by the provider.
func Cost(entry config.ModelEntry, usage types.Usage) float64 {
	in := float64(usage.PromptTokens) / 1000 * entry.InputPricePer1K
	out := float64(usage.CompletionTokens) / 1000 * entry.OutputPricePer1K
	return in + out
}

// suitable reports whether a catalog entry serves the category. An entry
// with no category list serves everything.
func suitable(entry config.ModelEntry, category types.Category) bool {
	if len(entry.Categories) == 0 {
		return true
	}
	for _, c := range entry.Categories {
		if c == string(category) {
			return true
		}
	}
	return false
}
