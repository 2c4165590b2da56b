// Package service implements the indexing engine, search and account flows.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/faveindex/internal/adapter"
	apperrors "github.com/faveindex/internal/errors"
	"github.com/faveindex/internal/logging"
	"github.com/faveindex/internal/models"
	"github.com/faveindex/internal/retry"
	"github.com/faveindex/internal/types"
)

// releaseTimeout bounds the lock release and ledger write that run after
// the run context may already be cancelled
const releaseTimeout = 10 * time.Second

// IndexingConfig tunes one indexing run
type IndexingConfig struct {
	PageCooldown time.Duration // pause between favorites pages
	LockLease    time.Duration // how long a crashed run keeps the lock
	RunTimeout   time.Duration // run deadline, kept below LockLease
	BulkBatch    int           // documents per bulk upsert
	BatchRetries int           // attempts per bulk batch
}

// DefaultIndexingConfig returns production defaults
func DefaultIndexingConfig() IndexingConfig {
	return IndexingConfig{
		PageCooldown: 12 * time.Second,
		LockLease:    time.Hour,
		RunTimeout:   45 * time.Minute,
		BulkBatch:    200,
		BatchRetries: 3,
	}
}

// IndexingService runs the per-user indexing pipeline:
// lock, fetch, dedup, hydrate, index, persist, release.
type IndexingService struct {
	users      UserStore
	watermarks WatermarkStore
	index      TextIndex
	sources    SourceProvider
	ledger     RunRecorder
	cfg        IndexingConfig

	// user id -> run id of the runs in flight in this process
	active sync.Map

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	retry *retry.RetryConfig
}

// NewIndexingService creates an indexing engine. ledger may be nil.
func NewIndexingService(
	users UserStore,
	watermarks WatermarkStore,
	index TextIndex,
	sources SourceProvider,
	ledger RunRecorder,
	cfg IndexingConfig,
) *IndexingService {
	if cfg.LockLease <= 0 {
		cfg.LockLease = time.Hour
	}
	// a run must end before its lease can be taken over
	if cfg.RunTimeout <= 0 || cfg.RunTimeout >= cfg.LockLease {
		cfg.RunTimeout = cfg.LockLease * 3 / 4
	}
	if cfg.BulkBatch <= 0 {
		cfg.BulkBatch = 200
	}
	if cfg.BatchRetries <= 0 {
		cfg.BatchRetries = 1
	}
	retryCfg := retry.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.BatchRetries
	retryCfg.Retryable = apperrors.IsRetryable

	return &IndexingService{
		users:      users,
		watermarks: watermarks,
		index:      index,
		sources:    sources,
		ledger:     ledger,
		cfg:        cfg,
		now:        time.Now,
		sleep:      retry.Sleep,
		retry:      retryCfg,
	}
}

// indexRun carries the mutable state of one run
type indexRun struct {
	outcome *models.RunOutcome
	logger  *logging.Logger
	user    *models.UserRecord
	source  adapter.ContentSource
	wm      *models.Watermark
	fetched []string
	newIDs  []string
	items   []models.Item
}

func (r *indexRun) enter(state types.RunState) {
	r.outcome.State = state
	r.logger.WithField("state", string(state)).Debug("run state")
}

// Run executes one indexing run for userID over the given number of
// favorites pages. A user whose lock is held, here or by another process,
// yields a skipped outcome and no error. On failure the outcome is returned along with the error; the
// lock is released on every path once acquired.
func (s *IndexingService) Run(ctx context.Context, userID string, rounds int) (*models.RunOutcome, error) {
	if rounds < 1 {
		rounds = 1
	}

	runID := uuid.New().String()
	run := &indexRun{
		outcome: &models.RunOutcome{
			RunID:     runID,
			UserID:    userID,
			Rounds:    rounds,
			State:     types.RunIdle,
			StartedAt: s.now(),
		},
		logger: logging.FromContext(ctx).WithUser(userID).WithField("run_id", runID),
	}
	ctx = logging.WithLogger(ctx, run.logger)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	err := s.run(ctx, run)
	s.finish(ctx, run, err)
	if err != nil {
		return run.outcome, err
	}
	return run.outcome, nil
}

func (s *IndexingService) run(ctx context.Context, run *indexRun) error {
	user, err := s.users.Get(ctx, run.outcome.UserID)
	if err != nil {
		return err
	}
	run.user = user

	run.enter(types.RunLocking)
	if _, busy := s.active.LoadOrStore(user.ID, run.outcome.RunID); busy {
		run.outcome.State = types.RunSkipped
		return nil
	}
	defer s.active.Delete(user.ID)

	if err := s.users.AcquireLock(ctx, user.ID, run.outcome.RunID, s.now(), s.cfg.LockLease); err != nil {
		if errors.Is(err, apperrors.ErrLockHeld) {
			run.outcome.State = types.RunSkipped
			return nil
		}
		return err
	}
	defer s.releaseLock(ctx, run)

	source, err := s.sources.ForUser(user)
	if err != nil {
		return err
	}
	run.source = source

	run.enter(types.RunFetching)
	if err := s.fetch(ctx, run); err != nil {
		return err
	}

	run.enter(types.RunDeduping)
	if err := s.dedup(ctx, run); err != nil {
		return err
	}

	run.enter(types.RunHydrating)
	hydrateErr := s.hydrate(ctx, run)

	// items hydrated before a failure are still indexed; the watermark is not
	// advanced so the next run retries the whole set
	run.enter(types.RunIndexing)
	if err := s.renewLock(ctx, run); err != nil {
		return err
	}
	if err := s.indexItems(ctx, run); err != nil {
		return err
	}
	if hydrateErr != nil {
		return hydrateErr
	}

	run.enter(types.RunPersisting)
	if err := s.renewLock(ctx, run); err != nil {
		return err
	}
	return s.persist(ctx, run)
}

// fetch pages backward through the favorites feed. Each page is requested
// with the smallest id seen so far as the cursor.
func (s *IndexingService) fetch(ctx context.Context, run *indexRun) error {
	cursor := ""
	for round := 0; round < run.outcome.Rounds; round++ {
		if round > 0 {
			if err := s.sleep(ctx, s.cfg.PageCooldown); err != nil {
				return err
			}
			if err := s.renewLock(ctx, run); err != nil {
				return err
			}
		}

		page, err := run.source.FetchFavoritesPage(ctx, cursor)
		if err != nil {
			return err
		}
		if len(page.Items) == 0 {
			break
		}

		run.fetched = append(run.fetched, models.ItemIDs(page.Items)...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
	}

	run.outcome.Fetched = len(run.fetched)
	run.logger.WithFields(map[string]interface{}{
		"fetched": run.outcome.Fetched,
		"cursor":  cursor,
	}).Info("fetched favorites")
	return nil
}

func (s *IndexingService) dedup(ctx context.Context, run *indexRun) error {
	wm, err := s.watermarks.Load(ctx, run.user.ID)
	if err != nil {
		return err
	}
	run.wm = wm
	run.newIDs = wm.Missing(run.fetched)
	run.outcome.New = len(run.newIDs)
	return nil
}

func (s *IndexingService) hydrate(ctx context.Context, run *indexRun) error {
	if len(run.newIDs) == 0 {
		return nil
	}

	items, err := run.source.Hydrate(ctx, run.newIDs)
	run.items = items
	run.outcome.Hydrated = len(items)
	if err != nil {
		run.logger.WithError(err).WithField("hydrated", len(items)).Warn("hydrate stopped early")
		return err
	}
	return nil
}

// indexItems projects hydrated items and upserts them in fixed-size
// batches. An item with an unparseable creation time is skipped.
func (s *IndexingService) indexItems(ctx context.Context, run *indexRun) error {
	docs := make([]*models.IndexedDocument, 0, len(run.items))
	for i := range run.items {
		doc, err := models.NewIndexedDocument(&run.items[i])
		if err != nil {
			run.outcome.Malformed++
			run.logger.WithError(apperrors.NewMalformedItemError(run.items[i].IDStr, err)).Warn("skipping malformed item")
			continue
		}
		docs = append(docs, doc)
	}

	for start := 0; start < len(docs); start += s.cfg.BulkBatch {
		end := start + s.cfg.BulkBatch
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		result := retry.WithExponentialBackoff(ctx, s.retry, func(ctx context.Context, _ int) error {
			return s.index.BulkUpsert(ctx, run.user.ID, batch)
		})
		if err := result.Err(); err != nil {
			return fmt.Errorf("bulk upsert of documents %d-%d: %w", start, end, err)
		}
		run.outcome.Indexed += len(batch)
	}
	return nil
}

// persist appends every deduped id to the watermark, including ids the
// source no longer returns or that could not be indexed, so they are not
// refetched forever.
func (s *IndexingService) persist(ctx context.Context, run *indexRun) error {
	added := 0
	for _, id := range run.newIDs {
		if run.wm.Add(id) {
			added++
		}
	}
	if added > 0 {
		if err := s.watermarks.Save(ctx, run.wm); err != nil {
			return err
		}
	}

	entries := run.wm.Len()
	now := s.now()
	if err := s.users.Update(ctx, run.user.ID, models.UserUpdate{
		IndexedEntries: &entries,
		LastIndexTime:  &now,
	}); err != nil {
		return err
	}

	run.outcome.WatermarkSize = entries
	return nil
}

// renewLock extends the lease before a stage that may outlast it. A lease
// taken over by another run fails this run with ErrLockLost.
func (s *IndexingService) renewLock(ctx context.Context, run *indexRun) error {
	return s.users.RenewLock(ctx, run.user.ID, run.outcome.RunID, s.now(), s.cfg.LockLease)
}

// releaseLock runs on every exit after the lock was taken. It uses a fresh
// context so a cancelled or timed-out run still clears its lock.
func (s *IndexingService) releaseLock(ctx context.Context, run *indexRun) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := s.users.ReleaseLock(releaseCtx, run.outcome.UserID, run.outcome.RunID); err != nil {
		run.logger.WithError(err).Error("failed to release indexing lock; lease expiry will clear it")
	}
}

func (s *IndexingService) finish(ctx context.Context, run *indexRun, err error) {
	o := run.outcome
	o.FinishedAt = s.now()
	stage := o.State
	if err != nil {
		o.Error = err.Error()
		o.State = types.RunFailed
	} else if o.State != types.RunSkipped {
		o.State = types.RunDone
	}

	fields := map[string]interface{}{
		"state":     string(o.State),
		"fetched":   o.Fetched,
		"new":       o.New,
		"hydrated":  o.Hydrated,
		"indexed":   o.Indexed,
		"malformed": o.Malformed,
		"watermark": o.WatermarkSize,
		"duration":  o.Duration().String(),
	}
	switch o.State {
	case types.RunFailed:
		run.logger.WithFields(fields).WithField("stage", string(stage)).WithError(err).Error("indexing run failed")
	case types.RunSkipped:
		run.logger.WithFields(fields).Info("indexing run skipped, lock held")
	default:
		run.logger.WithFields(fields).Info("indexing run finished")
	}

	if s.ledger == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if recErr := s.ledger.Record(recordCtx, o); recErr != nil {
		run.logger.WithError(recErr).Warn("failed to record run outcome")
	}
}
