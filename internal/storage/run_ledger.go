package storage

import (
	"context"
	"time"

	apperrors "github.com/faveindex/internal/errors"
	"github.com/faveindex/internal/models"
	"github.com/faveindex/internal/types"
)

// RunLedger records finished indexing runs
type RunLedger interface {
	Record(ctx context.Context, outcome *models.RunOutcome) error
	Recent(ctx context.Context, userID string, limit int) ([]models.RunOutcome, error)
}

// ClickHouseRunLedger appends run outcomes to the indexing_runs table
type ClickHouseRunLedger struct {
	db *ClickHouseDB
}

// NewClickHouseRunLedger creates a ledger backed by db
func NewClickHouseRunLedger(db *ClickHouseDB) *ClickHouseRunLedger {
	return &ClickHouseRunLedger{db: db}
}

type runRow struct {
	RunID         string    `ch:"run_id"`
	UserID        string    `ch:"user_id"`
	Rounds        int64     `ch:"rounds"`
	State         string    `ch:"state"`
	Fetched       int64     `ch:"fetched"`
	New           int64     `ch:"new_ids"`
	Hydrated      int64     `ch:"hydrated"`
	Indexed       int64     `ch:"indexed"`
	Malformed     int64     `ch:"malformed"`
	WatermarkSize int64     `ch:"watermark_size"`
	StartedAt     time.Time `ch:"started_at"`
	FinishedAt    time.Time `ch:"finished_at"`
	Error         string    `ch:"error"`
}

// Record inserts one outcome
func (l *ClickHouseRunLedger) Record(ctx context.Context, o *models.RunOutcome) error {
	batch, err := l.db.Conn().PrepareBatch(ctx, `INSERT INTO indexing_runs`)
	if err != nil {
		return apperrors.NewStoreError("prepare run insert", err)
	}

	err = batch.Append(
		o.RunID,
		o.UserID,
		int64(o.Rounds),
		string(o.State),
		int64(o.Fetched),
		int64(o.New),
		int64(o.Hydrated),
		int64(o.Indexed),
		int64(o.Malformed),
		int64(o.WatermarkSize),
		o.StartedAt.UTC(),
		o.FinishedAt.UTC(),
		o.Error,
	)
	if err != nil {
		_ = batch.Abort()
		return apperrors.NewStoreError("append run", err)
	}

	if err := batch.Send(); err != nil {
		return apperrors.NewStoreError("insert run", err)
	}
	return nil
}

// Recent returns the latest runs for a user, newest first
func (l *ClickHouseRunLedger) Recent(ctx context.Context, userID string, limit int) ([]models.RunOutcome, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []runRow
	query := `
		SELECT run_id, user_id, rounds, state, fetched, new_ids, hydrated, indexed,
			malformed, watermark_size, started_at, finished_at, error
		FROM indexing_runs
		WHERE user_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`
	if err := l.db.Conn().Select(ctx, &rows, query, userID, limit); err != nil {
		return nil, apperrors.NewStoreError("query runs", err)
	}

	outcomes := make([]models.RunOutcome, 0, len(rows))
	for _, r := range rows {
		outcomes = append(outcomes, models.RunOutcome{
			RunID:         r.RunID,
			UserID:        r.UserID,
			Rounds:        int(r.Rounds),
			State:         types.RunState(r.State),
			Fetched:       int(r.Fetched),
			New:           int(r.New),
			Hydrated:      int(r.Hydrated),
			Indexed:       int(r.Indexed),
			Malformed:     int(r.Malformed),
			WatermarkSize: int(r.WatermarkSize),
			StartedAt:     r.StartedAt,
			FinishedAt:    r.FinishedAt,
			Error:         r.Error,
		})
	}
	return outcomes, nil
}

// NopRunLedger discards outcomes; used when ClickHouse is disabled
type NopRunLedger struct{}

// Record does nothing
func (NopRunLedger) Record(context.Context, *models.RunOutcome) error { return nil }

// Recent always returns no runs
func (NopRunLedger) Recent(context.Context, string, int) ([]models.RunOutcome, error) {
	return nil, nil
}
