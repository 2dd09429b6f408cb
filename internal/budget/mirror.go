package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror keeps window spend counters in redis so dashboards and sibling
// processes can observe spend without querying the ledger. Writes are
// fire-and-forget; redis being down never affects governance decisions.
type RedisMirror struct {
	rdb *redis.Client
}

// NewRedisMirror creates a redis spend mirror. A nil client makes every
// update a no-op.
func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb}
}

func spendKey(profile string, w Window, at time.Time) string {
	return fmt.Sprintf("warden:budget:%s:%s:%s", profile, w, w.start(at).Format("2006-01-02"))
}

// RecordSpend implements Mirror. Costs are stored as integer micro-dollars to
// keep INCRBY atomic.
func (m *RedisMirror) RecordSpend(entry CostEntry, profile string) {
	if m.rdb == nil || entry.CostUSD <= 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		micro := int64(entry.CostUSD * 1e6)
		pipe := m.rdb.Pipeline()
		for _, w := range Windows() {
			key := spendKey(profile, w, entry.At)
			pipe.IncrBy(ctx, key, micro)
			// Keep the counter one extra window beyond rollover for late readers.
			pipe.Expire(ctx, key, ttlFor(w))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Warn("redis spend mirror write failed", "error", err)
		}
	}()
}

func ttlFor(w Window) time.Duration {
	switch w {
	case WindowDaily:
		return 48 * time.Hour
	case WindowWeekly:
		return 14 * 24 * time.Hour
	default:
		return 62 * 24 * time.Hour
	}
}
