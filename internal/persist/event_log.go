package persist

import (
	"context"
	"fmt"
	"time"
)

// ClipEventRow is one clip lifecycle notification kept for auditing.
type ClipEventRow struct {
	Clip       string
	Event      string // "ended", "looped", "destroyed"
	Detail     int    // loop count for "looped"
	OccurredAt time.Time
}

type EventLogRepo struct {
	db *DB
}

func NewEventLogRepo(db *DB) *EventLogRepo {
	return &EventLogRepo{db: db}
}

// WriteBatch writes entries in a single transaction.
func (r *EventLogRepo) WriteBatch(ctx context.Context, entries []ClipEventRow) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("event log begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO clip_events (clip, event, detail, occurred_at)
			 VALUES ($1, $2, $3, $4)`,
			e.Clip, e.Event, e.Detail, e.OccurredAt,
		); err != nil {
			return fmt.Errorf("event log insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}
