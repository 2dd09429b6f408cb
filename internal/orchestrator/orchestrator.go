// Package orchestrator runs a request through the full governance pipeline:
// sanitize, assemble, budget, route, dispatch, record. It owns the ordering
// guarantees between those stages; the stages themselves stay independent.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenhq/warden/internal/approval"
	"github.com/wardenhq/warden/internal/budget"
	"github.com/wardenhq/warden/internal/bus"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/ids"
	"github.com/wardenhq/warden/internal/policy"
	"github.com/wardenhq/warden/internal/prompt"
	"github.com/wardenhq/warden/internal/provider"
	"github.com/wardenhq/warden/internal/route"
	"github.com/wardenhq/warden/internal/sanitize"
	"github.com/wardenhq/warden/internal/types"
)

// ErrAllProvidersFailed means every candidate attempt failed; the wrapping
// DispatchError carries the attempt chain.
var ErrAllProvidersFailed = errors.New("all providers failed")

// BlockedError reports a request the sanitizer refused outright.
type BlockedError struct {
	Verdict sanitize.Verdict
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("request blocked: risk score %.1f", e.Verdict.RiskScore)
}

// PendingApprovalError reports a request parked in the approval queue. The
// caller gets the item id back so the decision can be tracked out of band.
type PendingApprovalError struct {
	ItemID string
	Reason string
}

func (e *PendingApprovalError) Error() string {
	return "request pending approval: " + e.Reason
}

// BudgetExceededError reports a request denied for capacity.
type BudgetExceededError struct {
	Window      string
	Utilization float64
	Reason      string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded in %s window (%.0f%% utilized): %s",
		e.Window, e.Utilization*100, e.Reason)
}

// DispatchError wraps ErrAllProvidersFailed with the full attempt chain.
type DispatchError struct {
	Attempts []types.Attempt
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("all providers failed after %d attempts", len(e.Attempts))
}

func (e *DispatchError) Unwrap() error { return ErrAllProvidersFailed }

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	sanitizer *sanitize.Sanitizer
	assembler *prompt.Assembler
	ledger    *budget.Ledger
	approvals *approval.Queue
	policy    *policy.Evaluator
	planner   *route.Planner
	providers *provider.Registry
	models    func() config.ModelsConfig
	routing   func() config.RoutingConfig
	bus       *bus.Bus
	logger    *slog.Logger
	now       func() time.Time
}

type Deps struct {
	Sanitizer *sanitize.Sanitizer
	Assembler *prompt.Assembler
	Ledger    *budget.Ledger
	Approvals *approval.Queue
	Policy    *policy.Evaluator
	Planner   *route.Planner
	Providers *provider.Registry
	Models    func() config.ModelsConfig
	Routing   func() config.RoutingConfig
	Bus       *bus.Bus
	Logger    *slog.Logger
}

func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sanitizer: d.Sanitizer,
		assembler: d.Assembler,
		ledger:    d.Ledger,
		approvals: d.Approvals,
		policy:    d.Policy,
		planner:   d.Planner,
		providers: d.Providers,
		models:    d.Models,
		routing:   d.Routing,
		bus:       d.Bus,
		logger:    logger,
		now:       time.Now,
	}
}

// Execute runs one request through the pipeline. The error, when non-nil, is
// one of BlockedError, PendingApprovalError, BudgetExceededError or
// DispatchError, so callers can map outcomes without string matching.
func (o *Orchestrator) Execute(ctx context.Context, req *types.AIRequest) (*types.Response, error) {
	o.prepare(req)

	o.bus.Publish(bus.RequestLifecycle{
		Phase:     "started",
		RequestID: req.ID,
		Agent:     req.Agent,
		Category:  string(req.Category),
		At:        o.now().UTC(),
	})

	verdict := o.sanitizer.ClassifyRequest(req)
	switch verdict.Action {
	case sanitize.ActionBlock:
		o.finish(req, "blocked", map[string]any{"risk_score": verdict.RiskScore})
		return nil, &BlockedError{Verdict: verdict}
	case sanitize.ActionEscalate:
		itemID, _ := o.approvals.Enqueue(map[string]any{
			"request_id": req.ID,
			"agent":      req.Agent,
			"category":   string(req.Category),
			"risk_score": verdict.RiskScore,
		}, "security review")
		o.finish(req, "escalated", map[string]any{"approval_id": itemID, "risk_score": verdict.RiskScore})
		return nil, &PendingApprovalError{ItemID: itemID, Reason: "security review"}
	case sanitize.ActionWarn:
		o.logger.Warn("request passed with elevated risk",
			"request_id", req.ID, "agent", req.Agent, "risk_score", verdict.RiskScore)
	}

	assembled := o.assembler.Assemble(req)
	promptTokens := prompt.EstimatePromptTokens(assembled)

	candidates, err := o.planner.Plan(req, promptTokens, assembled.MaxTokens)
	if err != nil {
		o.finish(req, "failed", map[string]any{"error": err.Error()})
		return nil, err
	}

	estimated := candidates[0].EstimatedCost
	capacity := o.ledger.Reserve(req.ID, estimated)
	if !capacity.Allowed {
		resp, err := o.handleBudgetDenial(ctx, req, assembled, candidates, capacity)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}

	resp, err := o.dispatch(ctx, req, assembled, candidates)
	if err != nil {
		o.ledger.Release(req.ID)
		o.finish(req, "failed", failureDetails(err))
		return nil, err
	}
	o.finish(req, "completed", map[string]any{
		"model":    resp.Model,
		"provider": resp.Provider,
		"cost_usd": resp.EstimatedCostUSD,
		"attempts": attemptChain(resp.Attempts),
	})
	return resp, nil
}

// Chat is a lower-level convenience for core-agent conversations: the caller
// supplies the turns and a tier (request category, which picks the suitable
// models and token budget) without building an AIRequest.
func (o *Orchestrator) Chat(ctx context.Context, messages []types.Message, systemPrompt string, tier types.Category) (*types.Response, error) {
	return o.Execute(ctx, &types.AIRequest{
		Agent:        types.CoreAgent,
		Category:     tier,
		Messages:     messages,
		SystemPrompt: systemPrompt,
	})
}

// prepare fills request defaults so downstream stages never see zero values.
func (o *Orchestrator) prepare(req *types.AIRequest) {
	if req.ID == "" {
		req.ID = ids.New("req")
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = o.now().UTC()
	}
	if req.Agent == "" {
		req.Agent = types.CoreAgent
	}
	if req.Category == "" {
		req.Category = types.CategoryUnknown
	}
	if req.TrustLevel == "" {
		req.TrustLevel = types.TrustStandard
	}
}

// handleBudgetDenial consults policy on a capacity denial. Policy may route
// the overage to a human; an approval during the request's lifetime lets the
// dispatch proceed, otherwise the caller gets a typed refusal.
func (o *Orchestrator) handleBudgetDenial(ctx context.Context, req *types.AIRequest, assembled prompt.AssembledPrompt, candidates []route.Candidate, capacity budget.CapacityResult) (*types.Response, error) {
	window := string(capacity.LimitingWindow)
	utilization := capacity.Utilization[capacity.LimitingWindow]

	decision := o.policy.BudgetBreach(ctx, req, utilization, window)
	if !decision.Escalate {
		o.finish(req, "budget_denied", map[string]any{"window": window, "utilization": utilization})
		return nil, &BudgetExceededError{Window: window, Utilization: utilization, Reason: decision.Reason}
	}

	itemID, decided := o.approvals.Enqueue(map[string]any{
		"request_id":  req.ID,
		"agent":       req.Agent,
		"category":    string(req.Category),
		"window":      window,
		"utilization": utilization,
	}, "budget overage: "+decision.Reason)

	select {
	case d := <-decided:
		if !d.Approved {
			o.finish(req, "budget_denied", map[string]any{"window": window, "approval_id": itemID})
			return nil, &BudgetExceededError{Window: window, Utilization: utilization, Reason: "overage rejected: " + d.Note}
		}
	case <-ctx.Done():
		// The item stays pending; the caller can retry once it is approved.
		o.finish(req, "escalated", map[string]any{"approval_id": itemID, "window": window})
		return nil, &PendingApprovalError{ItemID: itemID, Reason: "budget overage awaiting approval"}
	}

	resp, err := o.dispatch(ctx, req, assembled, candidates)
	if err != nil {
		o.finish(req, "failed", failureDetails(err))
		return nil, err
	}
	o.finish(req, "completed", map[string]any{
		"model":       resp.Model,
		"provider":    resp.Provider,
		"cost_usd":    resp.EstimatedCostUSD,
		"attempts":    attemptChain(resp.Attempts),
		"approval_id": itemID,
	})
	return resp, nil
}

// dispatch tries candidates in order until one succeeds, a terminal error
// occurs, or the attempt cap is reached. Each success records realized spend.
func (o *Orchestrator) dispatch(ctx context.Context, req *types.AIRequest, assembled prompt.AssembledPrompt, candidates []route.Candidate) (*types.Response, error) {
	routing := o.routing()
	maxAttempts := routing.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var attempts []types.Attempt
	for _, cand := range candidates {
		if len(attempts) >= maxAttempts {
			break
		}

		prov, ok := o.providers.Get(cand.Provider)
		if !ok {
			attempts = append(attempts, types.Attempt{
				Provider: cand.Provider, Model: cand.Model, Error: "provider not configured",
			})
			continue
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if routing.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, routing.AttemptTimeout)
		}
		result, err := prov.Complete(attemptCtx, cand.Model, assembled)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			o.planner.Health().RecordFailure(cand.Key)
			attempts = append(attempts, types.Attempt{Provider: cand.Provider, Model: cand.Model, Error: err.Error()})
			o.logger.Warn("dispatch attempt failed",
				"request_id", req.ID, "model", cand.Key, "error", err)
			if !provider.IsTransient(err) {
				break
			}
			continue
		}

		o.planner.Health().RecordSuccess(cand.Key)
		attempts = append(attempts, types.Attempt{Provider: cand.Provider, Model: cand.Model})

		usage := types.Usage{
			PromptTokens:     result.TokensIn,
			CompletionTokens: result.TokensOut,
			TotalTokens:      result.TokensIn + result.TokensOut,
		}
		cost := o.realizedCost(cand, usage)
		o.ledger.Record(budget.CostEntry{
			RequestID: req.ID,
			Provider:  cand.Provider,
			Model:     cand.Model,
			TokensIn:  usage.PromptTokens,
			TokensOut: usage.CompletionTokens,
			CostUSD:   cost,
		})

		return &types.Response{
			RequestID:        req.ID,
			Model:            cand.Model,
			Provider:         cand.Provider,
			Content:          result.Content,
			FinishReason:     result.FinishReason,
			Usage:            usage,
			EstimatedCostUSD: cost,
			Attempts:         attempts,
		}, nil
	}

	return nil, &DispatchError{Attempts: attempts}
}

// realizedCost prices actual usage; when the provider reported no usage the
// planner's estimate is the fallback.
func (o *Orchestrator) realizedCost(cand route.Candidate, usage types.Usage) float64 {
	if usage.TotalTokens == 0 {
		return cand.EstimatedCost
	}
	entry, ok := o.models().Models[cand.Key]
	if !ok {
		return cand.EstimatedCost
	}
	return route.Cost(entry, usage)
}

// attemptChain flattens dispatch attempts for the audit trail, so the record
// shows which models were tried and why each fallback happened.
func attemptChain(attempts []types.Attempt) []map[string]any {
	chain := make([]map[string]any, 0, len(attempts))
	for _, a := range attempts {
		entry := map[string]any{"provider": a.Provider, "model": a.Model}
		if a.Error != "" {
			entry["error"] = a.Error
		}
		chain = append(chain, entry)
	}
	return chain
}

func failureDetails(err error) map[string]any {
	details := map[string]any{"error": err.Error()}
	var de *DispatchError
	if errors.As(err, &de) {
		details["attempts"] = attemptChain(de.Attempts)
	}
	return details
}

// finish emits the audit record and the completion lifecycle event for a
// request, in that order.
func (o *Orchestrator) finish(req *types.AIRequest, outcome string, details map[string]any) {
	now := o.now().UTC()
	o.bus.Publish(bus.AuditLog{
		ID:         ids.New("aud"),
		Action:     "request:" + outcome,
		Agent:      req.Agent,
		TrustLevel: string(req.TrustLevel),
		Details:    details,
		At:         now,
	})
	o.bus.Publish(bus.RequestLifecycle{
		Phase:     "completed",
		RequestID: req.ID,
		Agent:     req.Agent,
		Category:  string(req.Category),
		Outcome:   outcome,
		At:        now,
	})
}
