package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"jobsync/internal/models"
)

const cursorColumns = `key, last_sync_at, last_sync_count, total_synced, created_at, updated_at`

// GetCursor returns the cursor for key, materializing an empty one on first access.
func (s *Store) GetCursor(ctx context.Context, key string) (models.SyncCursor, error) {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO sync_cursors (key) VALUES ($1)
		ON CONFLICT (key) DO NOTHING
	`, key); err != nil {
		return models.SyncCursor{}, fmt.Errorf("ensure cursor: %w", err)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+cursorColumns+` FROM sync_cursors WHERE key = $1`, key)
	c, err := scanCursor(row)
	if err != nil {
		return models.SyncCursor{}, fmt.Errorf("get cursor: %w", err)
	}
	return c, nil
}

// AdvanceCursor records a completed pass in one statement: last_sync_at never moves
// backwards and total_synced grows by exactly forwarded.
func (s *Store) AdvanceCursor(ctx context.Context, key string, at time.Time, forwarded int64) (models.SyncCursor, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO sync_cursors (key, last_sync_at, last_sync_count, total_synced)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (key) DO UPDATE SET
			last_sync_at = GREATEST(COALESCE(sync_cursors.last_sync_at, EXCLUDED.last_sync_at), EXCLUDED.last_sync_at),
			last_sync_count = EXCLUDED.last_sync_count,
			total_synced = sync_cursors.total_synced + EXCLUDED.last_sync_count,
			updated_at = NOW()
		RETURNING `+cursorColumns, key, at, forwarded)
	c, err := scanCursor(row)
	if err != nil {
		return models.SyncCursor{}, fmt.Errorf("advance cursor: %w", err)
	}
	return c, nil
}

func scanCursor(row pgx.Row) (models.SyncCursor, error) {
	var c models.SyncCursor
	var last pgtype.Timestamptz
	if err := row.Scan(&c.Key, &last, &c.LastSyncCount, &c.TotalSynced, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return models.SyncCursor{}, err
	}
	c.LastSyncAt = timePtr(last)
	return c, nil
}
