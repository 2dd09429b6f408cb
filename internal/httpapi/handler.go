// Package httpapi exposes the governance pipeline over HTTP: request
// submission for agents, and the approval/budget/audit management surface
// for admin keys.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wardenhq/warden/internal/approval"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/budget"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/httputil"
	"github.com/wardenhq/warden/internal/orchestrator"
	"github.com/wardenhq/warden/internal/route"
	"github.com/wardenhq/warden/internal/telemetry"
	"github.com/wardenhq/warden/internal/types"
)

// Handler serves the API. All fields are required except Metrics.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
	Ledger       *budget.Ledger
	Approvals    *approval.Queue
	Audit        *audit.Recorder
	Models       func() config.ModelsConfig
	Metrics      *telemetry.Metrics
}

type submitRequest struct {
	Category          string          `json:"category"`
	Content           string          `json:"content"`
	SystemPrompt      string          `json:"system_prompt,omitempty"`
	Messages          []types.Message `json:"messages,omitempty"`
	MaxTokens         *int            `json:"max_tokens,omitempty"`
	EnableCaching     bool            `json:"enable_caching"`
	SecuritySensitive bool            `json:"security_sensitive"`
	Priority          int             `json:"priority,omitempty"`
}

// SubmitRequest runs one request through the pipeline. The agent identity
// and trust level come from the API key, never the body.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Missing identity")
		return
	}

	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON body: "+err.Error())
		return
	}
	if body.Content == "" && len(body.Messages) == 0 {
		httputil.WriteBadRequestError(w, reqID, "Either content or messages is required")
		return
	}

	req := &types.AIRequest{
		Agent:             id.Agent,
		TrustLevel:        id.TrustLevel,
		Category:          types.ParseCategory(body.Category),
		Content:           body.Content,
		SystemPrompt:      body.SystemPrompt,
		Messages:          body.Messages,
		MaxTokens:         body.MaxTokens,
		EnableCaching:     body.EnableCaching,
		SecuritySensitive: body.SecuritySensitive,
		Priority:          body.Priority,
	}

	resp, err := h.Orchestrator.Execute(r.Context(), req)
	if err != nil {
		h.writeExecuteError(w, reqID, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.RecordSpend(resp.Provider, resp.Model,
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.EstimatedCostUSD)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeExecuteError(w http.ResponseWriter, reqID string, err error) {
	var blocked *orchestrator.BlockedError
	var pending *orchestrator.PendingApprovalError
	var overBudget *orchestrator.BudgetExceededError

	switch {
	case errors.As(err, &blocked):
		httputil.WriteContentBlockedError(w, reqID, err.Error())
	case errors.As(err, &pending):
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":      "pending_approval",
			"approval_id": pending.ItemID,
			"reason":      pending.Reason,
		})
	case errors.As(err, &overBudget):
		httputil.WriteBudgetExceededError(w, reqID, err.Error())
	case errors.Is(err, route.ErrNoModels), errors.Is(err, orchestrator.ErrAllProvidersFailed):
		httputil.WriteServiceUnavailableError(w, reqID, err.Error())
	default:
		httputil.WriteInternalError(w, reqID, err.Error())
	}
}

// ListModels returns the live model catalog with pricing.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	catalog := h.Models()
	out := make([]map[string]any, 0, len(catalog.Models))
	for key, m := range catalog.Models {
		out = append(out, map[string]any{
			"id":                  key,
			"provider":            m.Provider,
			"model":               m.Model,
			"input_price_per_1k":  m.InputPricePer1K,
			"output_price_per_1k": m.OutputPricePer1K,
			"context_window":      m.ContextWindow,
			"categories":          m.Categories,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

// ledgerReady distinguishes "ledger not wired yet" from unknown ids and
// validation failures; callers see a 503, not a 404 or 400.
func (h *Handler) ledgerReady(w http.ResponseWriter, reqID string) bool {
	if h.Ledger == nil {
		httputil.WriteServiceUnavailableError(w, reqID, "Budget ledger is not initialized")
		return false
	}
	return true
}

func (h *Handler) approvalsReady(w http.ResponseWriter, reqID string) bool {
	if h.Approvals == nil {
		httputil.WriteServiceUnavailableError(w, reqID, "Approval queue is not initialized")
		return false
	}
	return true
}

// BudgetStatus reports per-window utilization under the active profile.
func (h *Handler) BudgetStatus(w http.ResponseWriter, r *http.Request) {
	if !h.ledgerReady(w, w.Header().Get("X-Request-ID")) {
		return
	}
	writeJSON(w, http.StatusOK, h.Ledger.Status())
}

// SetBudgetProfile swaps the active profile.
func (h *Handler) SetBudgetProfile(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	if !h.ledgerReady(w, reqID) {
		return
	}
	var body struct {
		Profile string `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Profile == "" {
		httputil.WriteBadRequestError(w, reqID, "Body must be {\"profile\": \"<name>\"}")
		return
	}
	if err := h.Ledger.SetProfile(body.Profile); err != nil {
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.Ledger.Status())
}

// ListApprovals returns pending items in creation order.
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	if !h.approvalsReady(w, w.Header().Get("X-Request-ID")) {
		return
	}
	items := h.Approvals.Pending()
	if items == nil {
		items = []approval.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetApproval returns one item by id.
func (h *Handler) GetApproval(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	if !h.approvalsReady(w, reqID) {
		return
	}

	item, err := h.Approvals.Get(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteNotFoundError(w, reqID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ApproveItem resolves an item as approved.
func (h *Handler) ApproveItem(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	if !h.approvalsReady(w, reqID) {
		return
	}
	var body struct {
		ApprovedBy string `json:"approved_by"`
		Note       string `json:"note,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ApprovedBy == "" {
		httputil.WriteBadRequestError(w, reqID, "Body must include \"approved_by\"")
		return
	}
	item, err := h.Approvals.Approve(chi.URLParam(r, "id"), body.ApprovedBy, body.Note)
	h.writeResolution(w, reqID, item, err)
}

// RejectItem resolves an item as rejected.
func (h *Handler) RejectItem(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	if !h.approvalsReady(w, reqID) {
		return
	}
	var body struct {
		RejectedBy string `json:"rejected_by"`
		Reason     string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RejectedBy == "" {
		httputil.WriteBadRequestError(w, reqID, "Body must include \"rejected_by\"")
		return
	}
	item, err := h.Approvals.Reject(chi.URLParam(r, "id"), body.RejectedBy, body.Reason)
	h.writeResolution(w, reqID, item, err)
}

func (h *Handler) writeResolution(w http.ResponseWriter, reqID string, item approval.Item, err error) {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		httputil.WriteNotFoundError(w, reqID, err.Error())
	case errors.Is(err, approval.ErrAlreadyResolved):
		httputil.WriteConflictError(w, reqID, err.Error())
	case err != nil:
		httputil.WriteInternalError(w, reqID, err.Error())
	default:
		writeJSON(w, http.StatusOK, item)
	}
}

// ApprovalHistory returns resolved items, newest created first.
func (h *Handler) ApprovalHistory(w http.ResponseWriter, r *http.Request) {
	if !h.approvalsReady(w, w.Header().Get("X-Request-ID")) {
		return
	}
	limit := queryInt(r, "limit", 50)
	items := h.Approvals.History(limit)
	if items == nil {
		items = []approval.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ApprovalStats summarizes the queue.
func (h *Handler) ApprovalStats(w http.ResponseWriter, r *http.Request) {
	if !h.approvalsReady(w, w.Header().Get("X-Request-ID")) {
		return
	}
	writeJSON(w, http.StatusOK, h.Approvals.Stats())
}

// AuditLog returns recent audit entries, newest first.
func (h *Handler) AuditLog(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		httputil.WriteServiceUnavailableError(w, w.Header().Get("X-Request-ID"), "Audit recorder is not initialized")
		return
	}
	entries := h.Audit.Recent(queryInt(r, "limit", 100))
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
