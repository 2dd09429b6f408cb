package approval

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists approval items to Postgres so decisions survive restarts
// and remain auditable. Writes are asynchronous and fail-open; the in-memory
// queue stays authoritative for resolution semantics.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates an approval persister. A nil pool makes every write a no-op.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// SaveItem implements Persister.
func (s *Store) SaveItem(item Item) {
	if s.db == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		payload, _ := json.Marshal(item.Payload)
		_, err := s.db.Exec(ctx, `
			INSERT INTO approval_items (id, payload, reason, status, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, item.ID, payload, item.Reason, string(item.Status), item.CreatedAt)
		if err != nil {
			slog.Warn("approval item persist failed", "error", err, "item_id", item.ID)
		}
	}()
}

// SaveResolution implements Persister.
func (s *Store) SaveResolution(item Item) {
	if s.db == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		resolvedBy := item.ApprovedBy
		if item.Status == StatusRejected {
			resolvedBy = item.RejectedBy
		}
		_, err := s.db.Exec(ctx, `
			UPDATE approval_items
			SET status = $2, resolved_by = $3, note = $4, resolved_at = $5
			WHERE id = $1 AND status = 'pending'
		`, item.ID, string(item.Status), resolvedBy, item.Note, item.ResolvedAt)
		if err != nil {
			slog.Warn("approval resolution persist failed", "error", err, "item_id", item.ID)
		}
	}()
}
