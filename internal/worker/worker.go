// Package worker drains the reconciliation job queue. Several poll loops run
// concurrently, but the per-drive serialization invariant (§5) is enforced
// with a per-drive mutex: two loops may claim jobs for different drives at
// once, but never run a reconciliation pass for the same drive concurrently.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"driftmirror/internal/database"
	"driftmirror/internal/gate"
	"driftmirror/internal/gateway"
	"driftmirror/internal/metrics"
	"driftmirror/internal/reconcile"
)

// driveLocks hands out one mutex per drive id, created lazily, so concurrent
// poll loops serialize on a drive without contending on unrelated drives.
type driveLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newDriveLocks() *driveLocks {
	return &driveLocks{locks: make(map[string]*sync.Mutex)}
}

func (d *driveLocks) forDrive(driveID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[driveID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[driveID] = l
	}
	return l
}

// Worker runs a pool of poll loops draining reconcile jobs.
type Worker struct {
	db                  *database.DB
	engine              *reconcile.Engine
	gate                *gate.Gate
	logger              *slog.Logger
	pollInterval        time.Duration
	concurrency         int
	locks               *driveLocks
	breakerCooldown     time.Duration
	breakerRecoveryWant int
}

func New(db *database.DB, engine *reconcile.Engine, g *gate.Gate, concurrency int, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		db:                  db,
		engine:              engine,
		gate:                g,
		logger:              logger.With("component", "worker"),
		pollInterval:        500 * time.Millisecond,
		concurrency:         concurrency,
		locks:               newDriveLocks(),
		breakerCooldown:     2 * time.Minute,
		breakerRecoveryWant: 3,
	}
}

// WithRateLimitBreaker overrides the breaker's default cooldown and
// half-open recovery threshold, normally sourced from config.Config's
// RATE_LIMIT_BREAKER_COOLDOWN_SECONDS / RATE_LIMIT_BREAKER_RECOVERY_COUNT.
func (w *Worker) WithRateLimitBreaker(cooldown time.Duration, recoveryCount int) *Worker {
	if cooldown > 0 {
		w.breakerCooldown = cooldown
	}
	if recoveryCount > 0 {
		w.breakerRecoveryWant = recoveryCount
	}
	return w
}

// Start runs until ctx is canceled, returning ctx.Err() at that point.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("starting reconciliation worker", "concurrency", w.concurrency)
	metrics.WorkerActive.Set(1)
	defer metrics.WorkerActive.Set(0)

	p := pool.New().WithMaxGoroutines(w.concurrency).WithErrors().WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		p.Go(func(ctx context.Context) error {
			return w.pollLoop(ctx)
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (w *Worker) pollLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !w.gate.IsEnabled() {
			metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeGateOff).Inc()
			if !sleepOrDone(ctx, w.pollInterval) {
				return nil
			}
			continue
		}

		breaker, err := w.handleBreakerTransitions()
		if err != nil {
			w.logger.Error("failed to handle rate limit breaker transitions", "error", err)
		}
		if breaker != nil && breaker.State == metrics.BreakerStateOpen {
			metrics.WorkerPollCyclesTotal.WithLabelValues("breaker_open").Inc()
			if !sleepOrDone(ctx, w.pollInterval) {
				return nil
			}
			continue
		}

		job, err := w.db.ClaimJob()
		if err != nil {
			w.logger.Error("failed to claim reconcile job", "error", err)
			if !sleepOrDone(ctx, w.pollInterval) {
				return nil
			}
			continue
		}
		if job == nil {
			if !sleepOrDone(ctx, w.pollInterval) {
				return nil
			}
			continue
		}

		w.processJob(ctx, job, breaker)
	}
}

// handleBreakerTransitions advances the persisted rate limit breaker's state
// machine (open -> half_open once cooldown elapses, half_open -> closed
// after enough consecutive successes) and returns the state the poll loop
// should act on this cycle.
func (w *Worker) handleBreakerTransitions() (*database.RateLimitBreakerState, error) {
	state, err := w.db.GetRateLimitBreakerState()
	if err != nil {
		return nil, fmt.Errorf("get rate limit breaker state: %w", err)
	}

	switch state.State {
	case metrics.BreakerStateOpen:
		if state.ClosesAt != nil && time.Now().After(*state.ClosesAt) {
			w.logger.Info("rate limit breaker cooldown elapsed, moving to half_open")
			if err := w.db.TransitionRateLimitBreakerToHalfOpen(); err != nil {
				return nil, fmt.Errorf("transition to half_open: %w", err)
			}
			metrics.RateLimitBreakerState.Set(1)
			state.State = metrics.BreakerStateHalfOpen
		}
	case metrics.BreakerStateHalfOpen:
		if state.ConsecutiveSuccesses >= w.breakerRecoveryWant {
			w.logger.Info("rate limit breaker recovered", "successes", state.ConsecutiveSuccesses)
			if err := w.db.TransitionRateLimitBreakerToClosed(); err != nil {
				return nil, fmt.Errorf("transition to closed: %w", err)
			}
			metrics.RateLimitBreakerState.Set(0)
			metrics.RateLimitBreakerRecoveredTotal.Inc()
			state.State = metrics.BreakerStateClosed
		}
	}
	return state, nil
}

func (w *Worker) processJob(ctx context.Context, job *database.ReconcileJob, breaker *database.RateLimitBreakerState) {
	lock := w.locks.forDrive(job.DriveID)
	lock.Lock()
	defer lock.Unlock()

	log := w.logger
	if job.TraceID != "" {
		log = log.With("trace_id", job.TraceID)
	}

	if !w.gate.IsEnabled() {
		// Lost the gate between claiming and acquiring the drive lock. Leave
		// the job claimed; it is reclaimed once StaleLockTimeout elapses
		// rather than spending a retry on a race that resolves itself.
		return
	}

	start := time.Now()
	_, err := w.engine.ReconcileDrive(ctx, job.DriveID, job.TraceID)
	duration := time.Since(start).Seconds()

	if err != nil {
		log.Error("reconciliation job failed", "drive_id", job.DriveID, "error", err)

		if gateway.IsRateLimited(err) {
			cooldown := w.breakerCooldown
			if secs, ok := gateway.RetryAfterSeconds(err); ok {
				cooldown = time.Duration(secs) * time.Second
			}
			if openErr := w.db.OpenRateLimitBreaker(cooldown); openErr != nil {
				log.Error("failed to open rate limit breaker", "error", openErr)
			} else {
				log.Warn("rate limit breaker opened", "cooldown", cooldown)
				metrics.RateLimitBreakerState.Set(2)
				metrics.RateLimitBreakerOpenedTotal.Inc()
			}
		}

		retried, releaseErr := w.db.ReleaseJob(job.ID, job.RetryCount, err.Error())
		if releaseErr != nil {
			log.Error("failed to release reconcile job", "error", releaseErr)
		}
		result := metrics.ResultRetry
		if !retried {
			result = metrics.ResultDropped
		}
		metrics.QueueProcessingDuration.WithLabelValues(result).Observe(duration)
		return
	}

	if breaker != nil && breaker.State == metrics.BreakerStateHalfOpen {
		if err := w.db.IncrementRateLimitBreakerSuccesses(); err != nil {
			log.Error("failed to record rate limit breaker success", "error", err)
		}
	}

	if err := w.db.DeleteJob(job.ID); err != nil {
		log.Error("failed to delete completed reconcile job", "error", err)
	}
	metrics.QueueProcessingDuration.WithLabelValues(metrics.ResultSuccess).Observe(duration)
}

// sleepOrDone waits out d, returning false early if ctx is canceled.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
