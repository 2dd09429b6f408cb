// Package budget tracks realized model spend and enforces the caps of the
// active budget profile. Capacity checks and recordings serialize under one
// mutex so two concurrent requests cannot jointly overspend past a cap by
// more than one in-flight request's worth.
package budget

import (
	"sync"
	"time"

	"github.com/wardenhq/warden/internal/bus"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/ids"
)

// CostEntry is an immutable, append-only record of one successful dispatch.
type CostEntry struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	CostUSD   float64   `json:"cost_usd"`
	At        time.Time `json:"at"`
}

// CapacityResult is the outcome of a capacity check.
type CapacityResult struct {
	Allowed bool `json:"allowed"`
	// LimitingWindow names the window that denied capacity, if any.
	LimitingWindow Window `json:"limiting_window,omitempty"`
	// Utilization is current spend over cap per capped window.
	Utilization map[Window]float64 `json:"utilization"`
}

// WindowStatus reports one window of the active profile.
type WindowStatus struct {
	SpentUSD    float64 `json:"spent_usd"`
	CapUSD      float64 `json:"cap_usd"`
	Utilization float64 `json:"utilization"`
}

// Status is the ledger's externally visible state.
type Status struct {
	Profile string                  `json:"profile"`
	Windows map[Window]WindowStatus `json:"windows"`
}

// Mirror receives spend updates off the hot path (redis counter, Postgres
// archive). Mirrors are advisory; the in-memory ledger is the source of truth.
type Mirror interface {
	RecordSpend(entry CostEntry, profile string)
}

// Ledger enforces the active budget profile. All public methods are safe for
// concurrent use.
type Ledger struct {
	mu      sync.Mutex
	cfg     func() config.BudgetConfig
	bus     *bus.Bus
	profile string
	entries []CostEntry
	// reserved holds estimated costs of in-flight requests that passed a
	// Reserve call and have not yet recorded or released. Counting them in
	// capacity checks bounds concurrent overspend to one request's worth.
	reserved map[string]float64
	// crossed tracks threshold events already fired, keyed by window
	// instance + level. Keys age out with their window.
	crossed map[string]bool
	mirrors []Mirror

	now func() time.Time
}

func NewLedger(cfg func() config.BudgetConfig, b *bus.Bus) *Ledger {
	return &Ledger{
		cfg:      cfg,
		bus:      b,
		profile:  cfg().ActiveProfile,
		reserved: make(map[string]float64),
		crossed:  make(map[string]bool),
		now:      time.Now,
	}
}

// AddMirror registers a spend mirror.
func (l *Ledger) AddMirror(m Mirror) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mirrors = append(l.mirrors, m)
}

// Profile returns the active profile name.
func (l *Ledger) Profile() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profile
}

// SetProfile atomically swaps the active profile. Past entries are untouched;
// only future cap comparisons change. Unknown profiles are rejected.
func (l *Ledger) SetProfile(name string) error {
	if _, ok := l.cfg().Profiles[name]; !ok {
		return &UnknownProfileError{Name: name}
	}
	l.mu.Lock()
	l.profile = name
	l.mu.Unlock()
	return nil
}

// CheckCapacity reports whether a request with the given estimated cost fits
// under every capped window of the active profile. A projected breach fires
// the corresponding threshold event (once per window instance) even though
// nothing is recorded.
func (l *Ledger) CheckCapacity(estimatedCostUSD float64) CapacityResult {
	l.mu.Lock()
	result, events := l.capacityLocked(estimatedCostUSD)
	l.mu.Unlock()

	l.publish(events)
	return result
}

// Reserve performs a capacity check and, when allowed, holds the estimated
// cost against the request id until Record or Release. Reservations are what
// keep two in-flight check+record sequences from jointly blowing past a cap:
// the second Reserve sees the first one's hold.
func (l *Ledger) Reserve(requestID string, estimatedCostUSD float64) CapacityResult {
	l.mu.Lock()
	result, events := l.capacityLocked(estimatedCostUSD)
	if result.Allowed && requestID != "" {
		l.reserved[requestID] = estimatedCostUSD
	}
	l.mu.Unlock()

	l.publish(events)
	return result
}

// Release drops a reservation without recording spend (failed dispatch).
func (l *Ledger) Release(requestID string) {
	l.mu.Lock()
	delete(l.reserved, requestID)
	l.mu.Unlock()
}

func (l *Ledger) capacityLocked(estimatedCostUSD float64) (CapacityResult, []bus.BudgetThreshold) {
	now := l.now()
	caps := l.activeCaps()
	result := CapacityResult{Allowed: true, Utilization: make(map[Window]float64)}

	held := 0.0
	for _, v := range l.reserved {
		held += v
	}

	var events []bus.BudgetThreshold
	for _, w := range Windows() {
		capUSD := caps[w]
		if capUSD <= 0 {
			continue // uncapped
		}
		spent := l.spentLocked(w, now)
		result.Utilization[w] = spent / capUSD

		projected := (spent + held + estimatedCostUSD) / capUSD
		if projected > 1 {
			if result.Allowed {
				result.Allowed = false
				result.LimitingWindow = w
			}
			events = append(events, l.thresholdEventsLocked(w, now, spent, capUSD, projected)...)
		}
	}
	return result, events
}

// Record appends a cost entry and fires any threshold events its spend
// crosses. Entries are never edited or deleted.
func (l *Ledger) Record(entry CostEntry) {
	l.mu.Lock()

	if entry.ID == "" {
		entry.ID = ids.New("cost")
	}
	if entry.At.IsZero() {
		entry.At = l.now()
	}
	delete(l.reserved, entry.RequestID)
	l.entries = append(l.entries, entry)

	caps := l.activeCaps()
	var events []bus.BudgetThreshold
	for _, w := range Windows() {
		capUSD := caps[w]
		if capUSD <= 0 {
			continue
		}
		spent := l.spentLocked(w, entry.At)
		events = append(events, l.thresholdEventsLocked(w, entry.At, spent, capUSD, spent/capUSD)...)
	}
	mirrors := l.mirrors
	profile := l.profile
	l.mu.Unlock()

	l.publish(events)
	for _, m := range mirrors {
		m.RecordSpend(entry, profile)
	}
}

// Status reports utilization per window under the active profile.
func (l *Ledger) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	caps := l.activeCaps()
	st := Status{Profile: l.profile, Windows: make(map[Window]WindowStatus)}
	for _, w := range Windows() {
		spent := l.spentLocked(w, now)
		ws := WindowStatus{SpentUSD: spent, CapUSD: caps[w]}
		if ws.CapUSD > 0 {
			ws.Utilization = spent / ws.CapUSD
		}
		st.Windows[w] = ws
	}
	return st
}

// Entries returns a copy of every entry inside the given window, for audit.
func (l *Ledger) Entries(w Window) []CostEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := w.start(l.now())
	var out []CostEntry
	for _, e := range l.entries {
		if !e.At.Before(start) {
			out = append(out, e)
		}
	}
	return out
}

func (l *Ledger) activeCaps() map[Window]float64 {
	p := l.cfg().Profiles[l.profile]
	return map[Window]float64{
		WindowDaily:   p.DailyCapUSD,
		WindowWeekly:  p.WeeklyCapUSD,
		WindowMonthly: p.MonthlyCapUSD,
	}
}

// spentLocked sums entries within the window instance containing now.
func (l *Ledger) spentLocked(w Window, now time.Time) float64 {
	start := w.start(now)
	sum := 0.0
	for _, e := range l.entries {
		if !e.At.Before(start) && !e.At.After(now) {
			sum += e.CostUSD
		}
	}
	return sum
}

// thresholdEventsLocked returns the threshold events newly crossed by the
// given utilization, marking them so each fires at most once per window
// instance.
func (l *Ledger) thresholdEventsLocked(w Window, now time.Time, spent, capUSD, utilization float64) []bus.BudgetThreshold {
	cfg := l.cfg()
	levels := []struct {
		name     string
		fraction float64
	}{
		{"warning", cfg.WarningThreshold},
		{"critical", cfg.CriticalThreshold},
		{"pause", 1.0},
	}

	var events []bus.BudgetThreshold
	for _, lv := range levels {
		if utilization < lv.fraction {
			continue
		}
		key := w.key(now) + ":" + lv.name
		if l.crossed[key] {
			continue
		}
		l.crossed[key] = true
		events = append(events, bus.BudgetThreshold{
			Level:       lv.name,
			Profile:     l.profile,
			Window:      string(w),
			Utilization: utilization,
			SpentUSD:    spent,
			CapUSD:      capUSD,
			At:          now,
		})
	}
	return events
}

func (l *Ledger) publish(events []bus.BudgetThreshold) {
	for _, ev := range events {
		l.bus.Publish(ev)
	}
}

// UnknownProfileError reports a SetProfile call naming a profile the
// configuration does not define.
type UnknownProfileError struct{ Name string }

func (e *UnknownProfileError) Error() string {
	return "unknown budget profile: " + e.Name
}
