package budget

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store archives cost entries to Postgres for audit. Entries outside the live
// windows remain queryable here after the in-memory ledger is restarted.
// Writes are asynchronous and fail-open: the pipeline never waits on the
// database.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a cost-entry archive. A nil pool makes every write a no-op.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// RecordSpend implements Mirror.
func (s *Store) RecordSpend(entry CostEntry, profile string) {
	if s.db == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := s.db.Exec(ctx, `
			INSERT INTO cost_entries (id, request_id, provider, model, tokens_in, tokens_out, cost_usd, profile, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`, entry.ID, entry.RequestID, entry.Provider, entry.Model,
			entry.TokensIn, entry.TokensOut, entry.CostUSD, profile, entry.At)
		if err != nil {
			slog.Warn("cost entry archive write failed", "error", err, "entry_id", entry.ID)
		}
	}()
}

// EntriesSince returns archived entries recorded at or after the given time,
// newest first.
func (s *Store) EntriesSince(ctx context.Context, since time.Time, limit int) ([]CostEntry, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, request_id, provider, model, tokens_in, tokens_out, cost_usd, recorded_at
		FROM cost_entries
		WHERE recorded_at >= $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CostEntry
	for rows.Next() {
		var e CostEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Provider, &e.Model, &e.TokensIn, &e.TokensOut, &e.CostUSD, &e.At); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
