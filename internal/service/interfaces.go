package service

import (
	"context"
	"time"

	"github.com/faveindex/internal/adapter"
	"github.com/faveindex/internal/models"
)

// UserStore persists UserRecords and owns the per-user indexing lock.
// Lock calls name an owner; only the owner may renew or release its lease.
type UserStore interface {
	Create(ctx context.Context, user *models.UserRecord) error
	Get(ctx context.Context, id string) (*models.UserRecord, error)
	Update(ctx context.Context, id string, update models.UserUpdate) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, afterID string, limit int) ([]*models.UserRecord, error)
	AcquireLock(ctx context.Context, id, owner string, now time.Time, lease time.Duration) error
	RenewLock(ctx context.Context, id, owner string, now time.Time, lease time.Duration) error
	ReleaseLock(ctx context.Context, id, owner string) error
	ForceReleaseLock(ctx context.Context, id string) error
}

// WatermarkStore persists the set of ids already indexed per user
type WatermarkStore interface {
	Load(ctx context.Context, userID string) (*models.Watermark, error)
	Save(ctx context.Context, wm *models.Watermark) error
	Delete(ctx context.Context, userID string) error
}

// TextIndex is the per-user full-text index
type TextIndex interface {
	CreateIndex(ctx context.Context, userID string) error
	DeleteIndex(ctx context.Context, userID string) error
	BulkUpsert(ctx context.Context, userID string, docs []*models.IndexedDocument) error
	Query(ctx context.Context, userID, text string, fields []string, offset int) (*models.IndexHits, error)
	ScrollAllIDs(ctx context.Context, userID string) ([]string, error)
}

// SourceProvider returns a content source authenticated as user
type SourceProvider interface {
	ForUser(user *models.UserRecord) (adapter.ContentSource, error)
}

// JobEnqueuer submits indexing jobs
type JobEnqueuer interface {
	Enqueue(ctx context.Context, j models.Job) error
}

// RunRecorder receives the outcome of every finished run
type RunRecorder interface {
	Record(ctx context.Context, outcome *models.RunOutcome) error
}
