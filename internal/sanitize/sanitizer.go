// Package sanitize classifies free-text input against known attack pattern
// families before it is allowed anywhere near a model provider.
package sanitize

import (
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/wardenhq/warden/internal/bus"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/types"
)

// Action is the sanitizer's disposition for a piece of input.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionWarn     Action = "warn"
	ActionBlock    Action = "block"
	ActionEscalate Action = "escalate"
)

// Verdict is the outcome of classifying one request's text.
type Verdict struct {
	MatchedCategories []AttackCategory `json:"matched_categories"`
	RiskScore         float64          `json:"risk_score"`
	Action            Action           `json:"action"`
}

// Matched reports whether the verdict includes the given category.
func (v Verdict) Matched(c AttackCategory) bool {
	for _, m := range v.MatchedCategories {
		if m == c {
			return true
		}
	}
	return false
}

// ExternalClassifier is an optional second-stage scorer (e.g. an ML sidecar).
// A nil classifier or a scoring error contributes nothing to the verdict.
type ExternalClassifier interface {
	Score(text string) (float64, error)
}

// Sanitizer runs the rule families over raw text. It is stateless after
// construction and safe for concurrent use.
type Sanitizer struct {
	rules    []Rule
	cfg      func() config.SanitizerConfig
	bus      *bus.Bus
	external ExternalClassifier
}

// New compiles the default rule set. Rules whose patterns fail to compile are
// dropped with a log line; classification itself can never fail.
func New(cfg func() config.SanitizerConfig, b *bus.Bus) *Sanitizer {
	return NewWithRules(DefaultRules(), cfg, b)
}

func NewWithRules(rules []Rule, cfg func() config.SanitizerConfig, b *bus.Bus) *Sanitizer {
	compiled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			slog.Warn("dropping malformed sanitizer rule", "rule", r.Name, "error", err)
			continue
		}
		r.regex = re
		compiled = append(compiled, r)
	}
	return &Sanitizer{rules: compiled, cfg: cfg, bus: b}
}

// SetExternalClassifier installs an optional second-stage scorer.
func (s *Sanitizer) SetExternalClassifier(c ExternalClassifier) { s.external = c }

// Classify scans a single text and derives the action from the risk score,
// the caller's trust level, and the security-sensitive flag. It has no side
// effects and never fails.
func (s *Sanitizer) Classify(text string, trust types.TrustLevel, securitySensitive bool) Verdict {
	return s.classify([]string{text}, trust, securitySensitive)
}

// ClassifyRequest scans every text surface of a request and emits a
// security:alert event when the action is block or escalate.
func (s *Sanitizer) ClassifyRequest(req *types.AIRequest) Verdict {
	v := s.classify(req.AllText(), req.TrustLevel, req.SecuritySensitive)

	if v.Action == ActionBlock || v.Action == ActionEscalate {
		cats := make([]string, len(v.MatchedCategories))
		for i, c := range v.MatchedCategories {
			cats[i] = string(c)
		}
		s.bus.Publish(bus.SecurityAlert{
			RequestID:  req.ID,
			Agent:      req.Agent,
			Categories: cats,
			RiskScore:  v.RiskScore,
			Action:     string(v.Action),
			Excerpt:    truncate(req.Content, s.cfg().ExcerptRunes),
			At:         time.Now().UTC(),
		})
	}
	return v
}

func (s *Sanitizer) classify(texts []string, trust types.TrustLevel, sensitive bool) Verdict {
	cfg := s.cfg()
	if !cfg.Enabled {
		return Verdict{Action: ActionAllow}
	}

	// Track the single highest severity weight per distinct category so a
	// flood of hits in one family cannot dominate the score.
	maxWeight := make(map[AttackCategory]float64)
	for _, text := range texts {
		for _, r := range s.rules {
			if r.regex == nil || !r.regex.MatchString(text) {
				continue
			}
			if w := r.Severity.Weight(); w > maxWeight[r.Category] {
				maxWeight[r.Category] = w
			}
		}
	}

	score := 0.0
	categories := make([]AttackCategory, 0, len(maxWeight))
	for c, w := range maxWeight {
		score += w
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	if s.external != nil {
		for _, text := range texts {
			if ext, err := s.external.Score(text); err == nil && ext > 0 {
				score += ext
			}
		}
	}

	if mult, ok := cfg.TrustMultipliers[string(trust)]; ok {
		score *= mult
	}
	if score > 100 {
		score = 100
	}

	return Verdict{
		MatchedCategories: categories,
		RiskScore:         score,
		Action:            s.action(score, trust, sensitive, cfg),
	}
}

func (s *Sanitizer) action(score float64, trust types.TrustLevel, sensitive bool, cfg config.SanitizerConfig) Action {
	if score >= cfg.BlockThreshold {
		return ActionBlock
	}
	if score >= cfg.EscalationThreshold(string(trust), sensitive) {
		return ActionEscalate
	}
	if score >= cfg.WarnThreshold {
		return ActionWarn
	}
	return ActionAllow
}

func truncate(s string, max int) string {
	if max <= 0 {
		max = 160
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
