// Package detection runs the batch jobs that turn raw user and transaction
// records into scored account facts, device facts, and review-queue entries.
//
// Each job reads and writes the store through a fixed number of bulk
// operations regardless of how many entities it touches. Jobs are serialized
// by the Runner; the per-entity compute loops may fan out across workers.
package detection

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/riskwatch/internal/features"
	"github.com/mbd888/riskwatch/internal/kvstore"
	"github.com/mbd888/riskwatch/internal/logging"
	"github.com/mbd888/riskwatch/internal/metrics"
	"github.com/mbd888/riskwatch/internal/risk"
)

// Runner executes feature and detection jobs against a store.
type Runner struct {
	store   kvstore.Store
	configs *risk.ConfigStore
	logger  *slog.Logger

	workers int
	now     func() time.Time
	newID   func() string

	lock  *jobLock
	state atomic.Value // State
	last  atomic.Pointer[JobResult]
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers sets how many goroutines the per-entity compute loops use.
// Values below 1 mean sequential.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n < 1 {
			n = 1
		}
		r.workers = n
	}
}

// WithClock overrides the evaluation time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithIDGenerator overrides how job ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(r *Runner) { r.newID = fn }
}

// NewRunner creates a runner. The config store is read once at the start of
// every job, so updates apply from the next job on.
func NewRunner(store kvstore.Store, configs *risk.ConfigStore, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		store:   store,
		configs: configs,
		logger:  logger,
		workers: 1,
		now:     time.Now,
		newID:   uuid.NewString,
		lock:    newJobLock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.state.Store(StateIdle)
	return r
}

// State reports the runner's lifecycle state.
func (r *Runner) State() State {
	return r.state.Load().(State)
}

// LastResult returns the most recent finished job, or nil.
func (r *Runner) LastResult() *JobResult {
	return r.last.Load()
}

// Configs returns the config store the runner scores with.
func (r *Runner) Configs() *risk.ConfigStore {
	return r.configs
}

// RunFeatureJob computes and persists account and device facts over the
// given window. A nil error means the job ran; the result's Status says how
// it ended.
func (r *Runner) RunFeatureJob(ctx context.Context, windowDays int) (*JobResult, error) {
	if windowDays <= 0 {
		return nil, fmt.Errorf("%w: %d", features.ErrInvalidWindow, windowDays)
	}
	return r.run(ctx, JobFeatures, func(ctx context.Context, res *JobResult) error {
		res.WindowDays = windowDays
		return r.runFeatures(ctx, res, windowDays)
	})
}

// RunDetection scores eligible users from their stored account facts and
// flags those at or above the configured risk threshold. skipCooldown
// evaluates every user regardless of when they were last evaluated.
func (r *Runner) RunDetection(ctx context.Context, skipCooldown bool) (*JobResult, error) {
	return r.run(ctx, JobDetection, func(ctx context.Context, res *JobResult) error {
		res.SkipCooldown = skipCooldown
		return r.runDetection(ctx, res, skipCooldown)
	})
}

// RunCycle runs the feature job followed by detection.
func (r *Runner) RunCycle(ctx context.Context, windowDays int) error {
	res, err := r.RunFeatureJob(ctx, windowDays)
	if err != nil {
		return err
	}
	if res.Status == StatusFailed {
		return fmt.Errorf("feature job %s failed: %s", res.JobID, res.Error)
	}
	res, err = r.RunDetection(ctx, false)
	if err != nil {
		return err
	}
	if res.Status == StatusFailed {
		return fmt.Errorf("detection job %s failed: %s", res.JobID, res.Error)
	}
	return nil
}

func (r *Runner) run(ctx context.Context, jobType JobType, body func(context.Context, *JobResult) error) (*JobResult, error) {
	unlock, err := r.lock.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// once started a job runs to completion; a caller that stops waiting
	// does not cut its writes short
	ctx = context.WithoutCancel(ctx)

	res := &JobResult{
		JobID:     r.newID(),
		JobType:   jobType,
		StartedAt: r.now().UTC(),
		Errors:    []EntityError{},
	}
	ctx = logging.WithJobID(logging.WithLogger(ctx, r.logger), res.JobID)
	log := logging.L(ctx).With("job_type", jobType)

	r.state.Store(StateRunning)
	metrics.JobRunning.Set(1)
	defer metrics.JobRunning.Set(0)
	log.Info("job started")

	runErr := body(ctx, res)

	res.CompletedAt = r.now().UTC()
	res.DurationSeconds = res.CompletedAt.Sub(res.StartedAt).Seconds()
	if runErr != nil {
		// a fatal failure reports no partial work
		res.Status = StatusFailed
		res.Error = runErr.Error()
		res.AccountsProcessed, res.DevicesProcessed = 0, 0
		res.UsersEvaluated, res.UsersSkipped, res.UsersFlagged = 0, 0, 0
		r.state.Store(StateFailed)
		log.Error("job failed", "error", runErr, "duration_seconds", res.DurationSeconds)
	} else {
		res.Status = StatusCompleted
		r.state.Store(StateCompleted)
		log.Info("job completed",
			"accounts_processed", res.AccountsProcessed,
			"devices_processed", res.DevicesProcessed,
			"users_evaluated", res.UsersEvaluated,
			"users_flagged", res.UsersFlagged,
			"entity_errors", len(res.Errors),
			"write_failures", res.WriteFailures,
			"duration_seconds", res.DurationSeconds)
	}

	metrics.JobRunsTotal.WithLabelValues(string(jobType), string(res.Status)).Inc()
	metrics.JobDuration.WithLabelValues(string(jobType)).Observe(res.DurationSeconds)
	r.last.Store(res)
	r.recordHistory(ctx, res)
	return res, nil
}

// writeBatch upserts entries into set and returns the ids that were not
// persisted. A batch that could not be attempted counts every entry as
// failed.
func (r *Runner) writeBatch(ctx context.Context, res *JobResult, set string, entries []kvstore.Entry) map[string]bool {
	failed := make(map[string]bool)
	br, err := r.store.BatchPut(ctx, set, entries)
	if err != nil {
		logging.L(ctx).Warn("batch write failed", "set", set, "entries", len(entries), "error", err)
		for _, e := range entries {
			failed[e.ID] = true
		}
	} else {
		for _, id := range br.Failed {
			failed[id] = true
		}
	}
	if len(failed) > 0 {
		res.WriteFailures += len(failed)
		metrics.WriteFailuresTotal.WithLabelValues(set).Add(float64(len(failed)))
		logging.L(ctx).Warn("records not persisted", "set", set, "count", len(failed))
	}
	return failed
}

// safely runs fn, converting a panic into an error so one bad entity cannot
// abort the batch.
func safely(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
