package bus

import "time"

// Topic names published by the governance pipeline.
const (
	TopicSecurityAlert    = "security:alert"
	TopicBudgetWarning    = "budget:warning"
	TopicBudgetCritical   = "budget:critical"
	TopicBudgetPause      = "budget:pause"
	TopicAuditLog         = "audit:log"
	TopicRequestStarted   = "request:started"
	TopicRequestCompleted = "request:completed"
	TopicApprovalCreated  = "approval:created"
	TopicApprovalResolved = "approval:resolved"
)

// SecurityAlert is emitted when the sanitizer blocks or escalates a request.
// Excerpt is truncated; the full raw payload never rides the bus.
type SecurityAlert struct {
	RequestID  string    `json:"request_id"`
	Agent      string    `json:"agent"`
	Categories []string  `json:"categories"`
	RiskScore  float64   `json:"risk_score"`
	Action     string    `json:"action"`
	Excerpt    string    `json:"excerpt"`
	At         time.Time `json:"at"`
}

func (SecurityAlert) Topic() string { return TopicSecurityAlert }

// BudgetThreshold is emitted at most once per threshold crossing per window.
type BudgetThreshold struct {
	Level       string    `json:"level"` // "warning", "critical", "pause"
	Profile     string    `json:"profile"`
	Window      string    `json:"window"` // "daily", "weekly", "monthly"
	Utilization float64   `json:"utilization"`
	SpentUSD    float64   `json:"spent_usd"`
	CapUSD      float64   `json:"cap_usd"`
	At          time.Time `json:"at"`
}

func (e BudgetThreshold) Topic() string {
	switch e.Level {
	case "critical":
		return TopicBudgetCritical
	case "pause":
		return TopicBudgetPause
	default:
		return TopicBudgetWarning
	}
}

// AuditLog is the generic record of a governance decision.
type AuditLog struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	Agent      string         `json:"agent"`
	TrustLevel string         `json:"trust_level"`
	Details    map[string]any `json:"details,omitempty"`
	At         time.Time      `json:"at"`
}

func (AuditLog) Topic() string { return TopicAuditLog }

// RequestLifecycle marks a request entering or leaving the pipeline.
type RequestLifecycle struct {
	Phase     string    `json:"phase"` // "started", "completed"
	RequestID string    `json:"request_id"`
	Agent     string    `json:"agent"`
	Category  string    `json:"category"`
	Outcome   string    `json:"outcome,omitempty"`
	At        time.Time `json:"at"`
}

func (e RequestLifecycle) Topic() string {
	if e.Phase == "completed" {
		return TopicRequestCompleted
	}
	return TopicRequestStarted
}

// ApprovalLifecycle marks an approval item being created or resolved.
type ApprovalLifecycle struct {
	Phase      string    `json:"phase"` // "created", "resolved"
	ItemID     string    `json:"item_id"`
	Reason     string    `json:"reason,omitempty"`
	Status     string    `json:"status,omitempty"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	At         time.Time `json:"at"`
}

func (e ApprovalLifecycle) Topic() string {
	if e.Phase == "resolved" {
		return TopicApprovalResolved
	}
	return TopicApprovalCreated
}
