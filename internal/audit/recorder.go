// Package audit persists governance decisions. The recorder subscribes to
// the event bus and forwards every notable event to Postgres; a bounded
// in-memory ring keeps the most recent entries queryable without a database.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenhq/warden/internal/bus"
	"github.com/wardenhq/warden/internal/ids"
)

// Entry is one recorded governance event.
type Entry struct {
	ID      string         `json:"id"`
	Topic   string         `json:"topic"`
	Action  string         `json:"action"`
	Agent   string         `json:"agent,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	At      time.Time      `json:"at"`
}

const ringSize = 512

// Recorder listens on the bus and writes entries to the ring and, when a
// pool is configured, to Postgres. Database writes are asynchronous and
// fail-open.
type Recorder struct {
	mu   sync.Mutex
	ring []Entry
	db   *pgxpool.Pool
}

func NewRecorder(db *pgxpool.Pool) *Recorder {
	return &Recorder{db: db}
}

// Observe subscribes the recorder to every audited topic.
func (r *Recorder) Observe(b *bus.Bus) {
	b.Subscribe(bus.TopicAuditLog, func(ev bus.Event) {
		e := ev.(bus.AuditLog)
		r.record(Entry{ID: e.ID, Topic: bus.TopicAuditLog, Action: e.Action, Agent: e.Agent, Details: e.Details, At: e.At})
	})
	b.Subscribe(bus.TopicSecurityAlert, func(ev bus.Event) {
		e := ev.(bus.SecurityAlert)
		r.record(Entry{
			Topic:  bus.TopicSecurityAlert,
			Action: "sanitizer:" + e.Action,
			Agent:  e.Agent,
			Details: map[string]any{
				"request_id": e.RequestID,
				"categories": e.Categories,
				"risk_score": e.RiskScore,
				"excerpt":    e.Excerpt,
			},
			At: e.At,
		})
	})
	for _, topic := range []string{bus.TopicBudgetWarning, bus.TopicBudgetCritical, bus.TopicBudgetPause} {
		b.Subscribe(topic, func(ev bus.Event) {
			e := ev.(bus.BudgetThreshold)
			r.record(Entry{
				Topic:  e.Topic(),
				Action: "budget:" + e.Level,
				Details: map[string]any{
					"profile":     e.Profile,
					"window":      e.Window,
					"utilization": e.Utilization,
					"spent_usd":   e.SpentUSD,
					"cap_usd":     e.CapUSD,
				},
				At: e.At,
			})
		})
	}
	b.Subscribe(bus.TopicApprovalResolved, func(ev bus.Event) {
		e := ev.(bus.ApprovalLifecycle)
		r.record(Entry{
			Topic:  bus.TopicApprovalResolved,
			Action: "approval:" + e.Status,
			Agent:  e.ResolvedBy,
			Details: map[string]any{
				"item_id": e.ItemID,
			},
			At: e.At,
		})
	})
}

func (r *Recorder) record(e Entry) {
	if e.ID == "" {
		e.ID = ids.New("aud")
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	r.mu.Lock()
	r.ring = append(r.ring, e)
	if len(r.ring) > ringSize {
		r.ring = r.ring[len(r.ring)-ringSize:]
	}
	db := r.db
	r.mu.Unlock()

	if db == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		details, err := json.Marshal(e.Details)
		if err != nil {
			details = []byte("{}")
		}
		_, err = db.Exec(ctx, `
			INSERT INTO audit_events (id, topic, action, agent, details, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, e.ID, e.Topic, e.Action, e.Agent, details, e.At)
		if err != nil {
			slog.Warn("audit event write failed", "error", err, "event_id", e.ID)
		}
	}()
}

// Recent returns up to limit entries, newest first.
func (r *Recorder) Recent(limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > len(r.ring) {
		limit = len(r.ring)
	}
	out := make([]Entry, limit)
	for i := 0; i < limit; i++ {
		out[i] = r.ring[len(r.ring)-1-i]
	}
	return out
}
