// Package worker runs the dispatcher loop that turns queued jobs into
// indexing runs.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/faveindex/internal/errors"
	"github.com/faveindex/internal/job"
	"github.com/faveindex/internal/logging"
	"github.com/faveindex/internal/models"
)

// Engine runs one indexing run for a user
type Engine interface {
	Run(ctx context.Context, userID string, rounds int) (*models.RunOutcome, error)
}

// UserReader reads user records for the lock check
type UserReader interface {
	Get(ctx context.Context, id string) (*models.UserRecord, error)
}

// DispatcherConfig holds dispatcher loop configuration
type DispatcherConfig struct {
	Interval    time.Duration // tick period
	Polls       int           // queue polls merged per tick
	Concurrency int           // max runs in flight
}

// RunHandle tracks one launched indexing run
type RunHandle struct {
	UserID  string
	done    chan struct{}
	outcome *models.RunOutcome
	err     error
}

// Done is closed when the run finishes
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finishes or ctx is done
func (h *RunHandle) Wait(ctx context.Context) (*models.RunOutcome, error) {
	select {
	case <-h.done:
		return h.outcome, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DispatcherStatus is a snapshot of the dispatcher
type DispatcherStatus struct {
	Running      bool      `json:"running"`
	LastTick     time.Time `json:"lastTick"`
	Launched     int64     `json:"launched"`
	InFlight     int       `json:"inFlight"`
	SkippedLocks int64     `json:"skippedLocks"`
}

// Dispatcher drains the job queue on a fixed period and launches one
// indexing run per distinct user, skipping users whose lock is held
type Dispatcher struct {
	queue  job.Queue
	users  UserReader
	engine Engine
	cfg    DispatcherConfig
	sem    *semaphore.Weighted
	now    func() time.Time

	runs      sync.WaitGroup
	runCtx    context.Context
	runCancel context.CancelFunc

	mu           sync.RWMutex
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	lastTick     time.Time
	launched     int64
	inFlight     int
	skippedLocks int64
}

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg DispatcherConfig, queue job.Queue, users UserReader, engine Engine) (*Dispatcher, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if users == nil {
		return nil, fmt.Errorf("user reader cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 12 * time.Second
	}
	if cfg.Polls <= 0 {
		cfg.Polls = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	return &Dispatcher{
		queue:     queue,
		users:     users,
		engine:    engine,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		now:       time.Now,
		runCtx:    runCtx,
		runCancel: runCancel,
	}, nil
}

// Start launches the tick loop
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher is already running")
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"interval":    d.cfg.Interval.String(),
		"polls":       d.cfg.Polls,
		"concurrency": d.cfg.Concurrency,
	}).Info("dispatcher starting")

	go d.loop(ctx)
	return nil
}

// Stop ends the tick loop and waits for in-flight runs. If ctx expires
// first the runs are cancelled; each still releases its lock.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher is not running")
	}
	d.running = false
	close(d.stopCh)
	doneCh := d.doneCh
	d.mu.Unlock()

	logger := logging.FromContext(ctx)
	select {
	case <-doneCh:
	case <-ctx.Done():
		d.runCancel()
		return ctx.Err()
	}

	finished := make(chan struct{})
	go func() {
		d.runs.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		logger.Info("dispatcher stopped gracefully")
		return nil
	case <-ctx.Done():
		logger.Warn("dispatcher stop timed out, cancelling in-flight runs")
		d.runCancel()
		<-finished
		return ctx.Err()
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one dispatch cycle and returns a handle per launched run.
// It does not wait for the runs.
func (d *Dispatcher) Tick(ctx context.Context) []*RunHandle {
	d.mu.Lock()
	d.lastTick = d.now()
	d.mu.Unlock()

	logger := logging.FromContext(ctx).WithField("component", "dispatcher")

	jobs := d.collect(ctx)
	if len(jobs) == 0 {
		return nil
	}

	var handles []*RunHandle
	for _, j := range jobs {
		jobLogger := logger.WithUser(j.UserID)

		user, err := d.users.Get(ctx, j.UserID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				// the account is gone; nothing left to index
				d.ack(ctx, jobLogger, j)
				jobLogger.Warn("dropping job for unknown user")
				continue
			}
			jobLogger.WithError(err).Warn("failed to read user, leaving job for redelivery")
			continue
		}

		if user.IsLocked(d.now()) {
			d.mu.Lock()
			d.skippedLocks++
			d.mu.Unlock()
			jobLogger.Debug("user locked, leaving job for redelivery")
			continue
		}

		d.ack(ctx, jobLogger, j)
		handles = append(handles, d.launch(jobLogger, j))
	}

	logger.WithFields(map[string]interface{}{
		"jobs":     len(jobs),
		"launched": len(handles),
	}).Info("dispatch tick")
	return handles
}

// collect polls the queue and keeps the first job per user
func (d *Dispatcher) collect(ctx context.Context) []models.Job {
	seen := make(map[string]struct{})
	var jobs []models.Job
	for i := 0; i < d.cfg.Polls; i++ {
		for _, j := range d.queue.Poll(ctx) {
			if _, dup := seen[j.UserID]; dup {
				continue
			}
			seen[j.UserID] = struct{}{}
			jobs = append(jobs, j)
		}
	}
	return jobs
}

func (d *Dispatcher) ack(ctx context.Context, logger *logging.Logger, j models.Job) {
	if err := d.queue.Ack(ctx, j.ReceiptHandle); err != nil {
		logger.WithError(err).Warn("failed to acknowledge job")
	}
}

func (d *Dispatcher) launch(logger *logging.Logger, j models.Job) *RunHandle {
	h := &RunHandle{UserID: j.UserID, done: make(chan struct{})}

	d.mu.Lock()
	d.launched++
	d.inFlight++
	d.mu.Unlock()

	d.runs.Add(1)
	go func() {
		defer d.runs.Done()
		defer close(h.done)
		defer func() {
			d.mu.Lock()
			d.inFlight--
			d.mu.Unlock()
		}()

		ctx := logging.WithLogger(d.runCtx, logger)
		if err := d.sem.Acquire(ctx, 1); err != nil {
			h.err = err
			return
		}
		defer d.sem.Release(1)

		h.outcome, h.err = d.engine.Run(ctx, j.UserID, j.Amount)
	}()
	return h
}

// GetStatus returns a snapshot of the dispatcher
func (d *Dispatcher) GetStatus() *DispatcherStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return &DispatcherStatus{
		Running:      d.running,
		LastTick:     d.lastTick,
		Launched:     d.launched,
		InFlight:     d.inFlight,
		SkippedLocks: d.skippedLocks,
	}
}
