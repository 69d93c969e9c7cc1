package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mnemo-agent/mnemo/internal/core"
)

// TrackerRepo implements core.TrackerStore. A missing row reads as zero.
type TrackerRepo struct {
	db *sql.DB
}

var _ core.TrackerStore = (*TrackerRepo)(nil)

func NewTrackerRepo(db *sql.DB) *TrackerRepo {
	return &TrackerRepo{db: db}
}

func (r *TrackerRepo) MessagesSinceMemory(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT messages_since_memory FROM memory_op_trackers WHERE user_id = ?`, userID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read tracker: %w", err)
	}
	return count, nil
}

func (r *TrackerRepo) SetMessagesSinceMemory(ctx context.Context, userID int64, count int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO memory_op_trackers (user_id, messages_since_memory) VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET messages_since_memory = excluded.messages_since_memory`,
		userID, count)
	if err != nil {
		return fmt.Errorf("failed to write tracker: %w", err)
	}
	return nil
}
