package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mini-rodalies-3d/livebus/internal/models"
)

// RecordTick stores one tick's run metadata. A missing TickID is generated.
func (db *DB) RecordTick(ctx context.Context, record models.TickRecord) error {
	if record.TickID == "" {
		record.TickID = uuid.New().String()
	}

	db.LockWrite()
	defer db.UnlockWrite()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sim_ticks (
			tick_id, source, started_at_utc, finished_at_utc,
			processed, failed, skipped, delivered
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.TickID, record.Source, formatTime(record.StartedAt), formatTime(record.FinishedAt),
		record.Processed, record.Failed, record.Skipped, record.Delivered,
	)
	if err != nil {
		return fmt.Errorf("failed to record tick: %w", err)
	}
	return nil
}

// LatestTick returns the most recently started tick, or nil if none was recorded
func (db *DB) LatestTick(ctx context.Context) (*models.TickRecord, error) {
	var r models.TickRecord
	var startedAt, finishedAt string
	err := db.conn.QueryRowContext(ctx, `
		SELECT tick_id, source, started_at_utc, finished_at_utc,
		       processed, failed, skipped, delivered
		FROM sim_ticks
		ORDER BY started_at_utc DESC
		LIMIT 1
	`).Scan(&r.TickID, &r.Source, &startedAt, &finishedAt, &r.Processed, &r.Failed, &r.Skipped, &r.Delivered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest tick: %w", err)
	}

	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// Cleanup deletes tick records older than the specified retention duration
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := formatTime(time.Now().Add(-retention))

	db.LockWrite()
	defer db.UnlockWrite()

	result, err := db.conn.ExecContext(ctx, "DELETE FROM sim_ticks WHERE started_at_utc < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup sim_ticks: %w", err)
	}
	deleted, _ := result.RowsAffected()

	if deleted > 0 {
		log.Printf("Cleanup: deleted %d tick records older than %v", deleted, retention)
	}
	return int(deleted), nil
}
