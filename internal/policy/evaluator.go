// Package policy decides what happens to requests the governance pipeline
// refuses on its own authority: block outright, or divert to the approval
// queue. The decision table is Rego so operators can change escalation
// policy without a deploy.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/types"
)

//go:embed default.rego
var defaultModule string

// Input is the data handed to the policy for one decision.
type Input struct {
	// Trigger names the stage that refused the request ("budget").
	Trigger     string  `json:"trigger"`
	Category    string  `json:"category"`
	Trust       string  `json:"trust"`
	Agent       string  `json:"agent"`
	RiskScore   float64 `json:"risk_score"`
	Utilization float64 `json:"utilization"`
	Window      string  `json:"window,omitempty"`
}

// Decision is the policy's answer.
type Decision struct {
	Escalate bool
	Reason   string
}

// Evaluator wraps a prepared Rego query. The default embedded module applies
// until a bundle directory overrides it.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.PolicyConfig
}

// NewEvaluator creates an evaluator with the embedded default policy
// compiled. Call Load to pick up an operator bundle.
func NewEvaluator(cfg func() config.PolicyConfig) (*Evaluator, error) {
	e := &Evaluator{cfg: cfg}
	if err := e.LoadFromModules(map[string]string{"default.rego": defaultModule}); err != nil {
		return nil, fmt.Errorf("compile default policy: %w", err)
	}
	return e, nil
}

// Load compiles Rego modules from the configured bundle path, replacing the
// default policy. A missing or empty bundle path keeps the default.
func (e *Evaluator) Load() error {
	path := e.cfg().BundlePath
	if path == "" {
		return nil
	}
	modules, err := LoadRegoFiles(path)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		slog.Warn("no rego files in policy bundle, keeping default", "path", path)
		return nil
	}
	return e.LoadFromModules(modules)
}

// LoadFromModules compiles policies from provided sources (also used by tests).
func (e *Evaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){
		rego.Query("[data.warden.policy.escalate, data.warden.policy.reason]"),
	}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// BudgetBreach decides the disposition of a request the ledger denied.
// Policy failures fail safe: block, never escalate by accident.
func (e *Evaluator) BudgetBreach(ctx context.Context, req *types.AIRequest, utilization float64, window string) Decision {
	if !e.cfg().Enabled {
		return Decision{Escalate: false, Reason: "budget cap exceeded"}
	}
	return e.evaluate(ctx, Input{
		Trigger:     "budget",
		Category:    string(req.Category),
		Trust:       string(req.TrustLevel),
		Agent:       req.Agent,
		Utilization: utilization,
		Window:      window,
	})
}

func (e *Evaluator) evaluate(ctx context.Context, input Input) Decision {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return Decision{Escalate: false, Reason: "no policy loaded"}
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		slog.Error("policy evaluation failed", "error", err)
		return Decision{Escalate: false, Reason: "policy evaluation failed"}
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Escalate: false, Reason: "no policy result"}
	}

	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return Decision{Escalate: false, Reason: "unexpected policy result format"}
	}

	escalate, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return Decision{Escalate: escalate, Reason: reason}
}
