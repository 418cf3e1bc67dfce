package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"driftmirror/internal/metrics"
)

// StaleLockTimeout is how long a reconcile job may sit claimed before it is
// considered abandoned by a crashed worker and eligible to be reclaimed.
const StaleLockTimeout = 10 * time.Minute

// MaxRetries is the maximum number of redelivery attempts (§7) before a job
// is dropped from the queue rather than released again.
const MaxRetries = 5

// MaxQueueDepth bounds the notification queue (§6). Once QueueDepth reaches
// this, the Notification Sink returns a retryable error to the provider
// instead of enqueueing, rather than growing the queue without bound. A var,
// not a const, so tests can shrink it instead of enqueueing thousands of jobs.
var MaxQueueDepth = 10000

// backoffMinutes is the exponential backoff schedule used when a job is
// released after a transient failure.
var backoffMinutes = []int{1, 5, 15, 30, 60}

// EnqueueJob adds a reconciliation job to the work queue. change_type is
// informational only per §6 — the engine always performs a full delta from
// the stored cursor regardless of what triggered the job.
func (db *DB) EnqueueJob(driveID, resource, changeType, traceID string) (int64, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpEnqueueJob))
	defer timer.ObserveDuration()

	result, err := db.conn.Exec(`
		INSERT INTO reconcile_jobs (drive_id, resource, change_type, trace_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, driveID, resource, changeType, traceID, time.Now().Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpEnqueueJob).Inc()
		return 0, fmt.Errorf("failed to enqueue reconcile job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpEnqueueJob).Inc()
		return 0, fmt.Errorf("failed to get reconcile job id: %w", err)
	}

	metrics.QueueEnqueueTotal.Inc()
	return id, nil
}

// ClaimJob atomically claims the oldest ready job, marking it as processing
// so concurrent workers cannot also claim it. Returns nil, nil if no job is
// ready. A job is ready when its retry deadline has passed and it is not
// already claimed by a live worker (processing_started_at is either unset or
// older than StaleLockTimeout, meaning that worker is presumed dead).
func (db *DB) ClaimJob() (*ReconcileJob, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpClaimJob))
	defer timer.ObserveDuration()

	now := time.Now()
	staleThreshold := now.Add(-StaleLockTimeout).Unix()

	row := db.conn.QueryRow(`
		UPDATE reconcile_jobs
		SET processing_started_at = ?
		WHERE id = (
			SELECT id FROM reconcile_jobs
			WHERE (next_retry_at IS NULL OR next_retry_at <= ?)
			  AND (processing_started_at IS NULL OR processing_started_at < ?)
			ORDER BY id ASC
			LIMIT 1
		)
		RETURNING id, drive_id, resource, change_type, trace_id, retry_count, last_error, next_retry_at, created_at
	`, now.Unix(), now.Unix(), staleThreshold)

	var job ReconcileJob
	var resource, changeType, traceID, lastError sql.NullString
	var nextRetryAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&job.ID, &job.DriveID, &resource, &changeType, &traceID, &job.RetryCount, &lastError, &nextRetryAt, &createdAt)
	if err == sql.ErrNoRows {
		metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeIdle).Inc()
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpClaimJob).Inc()
		return nil, fmt.Errorf("failed to claim reconcile job: %w", err)
	}

	job.Resource = resource.String
	job.ChangeType = changeType.String
	job.TraceID = traceID.String
	if lastError.Valid {
		job.LastError = &lastError.String
	}
	if nextRetryAt.Valid {
		t := time.Unix(nextRetryAt.Int64, 0)
		job.NextRetryAt = &t
	}
	job.ProcessingStartedAt = &now
	job.CreatedAt = time.Unix(createdAt, 0)

	metrics.QueueDequeueTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeJobFound).Inc()
	return &job, nil
}

// DeleteJob removes a successfully processed job from the queue.
func (db *DB) DeleteJob(id int64) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpDeleteJob))
	defer timer.ObserveDuration()

	_, err := db.conn.Exec(`DELETE FROM reconcile_jobs WHERE id = ?`, id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpDeleteJob).Inc()
		return fmt.Errorf("failed to delete reconcile job: %w", err)
	}
	return nil
}

// ReleaseJob returns a failed job to the queue with exponential backoff, or
// drops it once MaxRetries is exceeded. Returns true if the job was released
// for a future retry, false if it was dropped.
func (db *DB) ReleaseJob(id int64, retryCount int, errMsg string) (bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpReleaseJob))
	defer timer.ObserveDuration()

	newRetryCount := retryCount + 1
	if newRetryCount > MaxRetries {
		if err := db.DeleteJob(id); err != nil {
			return false, fmt.Errorf("failed to drop reconcile job after max retries: %w", err)
		}
		metrics.QueueDequeueTotal.WithLabelValues(metrics.ResultDropped).Inc()
		return false, nil
	}

	idx := newRetryCount - 1
	if idx >= len(backoffMinutes) {
		idx = len(backoffMinutes) - 1
	}
	nextRetryAt := time.Now().Add(time.Duration(backoffMinutes[idx]) * time.Minute)

	_, err := db.conn.Exec(`
		UPDATE reconcile_jobs
		SET retry_count = ?, last_error = ?, next_retry_at = ?, processing_started_at = NULL
		WHERE id = ?
	`, newRetryCount, errMsg, nextRetryAt.Unix(), id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpReleaseJob).Inc()
		return false, fmt.Errorf("failed to release reconcile job: %w", err)
	}

	metrics.QueueRetryTotal.WithLabelValues(fmt.Sprintf("%d", newRetryCount)).Inc()
	metrics.QueueDequeueTotal.WithLabelValues(metrics.ResultRetry).Inc()
	return true, nil
}

// QueueDepth returns the total number of jobs in the queue, in any state.
func (db *DB) QueueDepth() (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM reconcile_jobs`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return count, nil
}

// ReadyQueueDepth returns the number of jobs currently eligible to be claimed.
func (db *DB) ReadyQueueDepth() (int, error) {
	staleThreshold := time.Now().Add(-StaleLockTimeout).Unix()
	var count int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM reconcile_jobs
		WHERE (next_retry_at IS NULL OR next_retry_at <= ?)
		  AND (processing_started_at IS NULL OR processing_started_at < ?)
	`, time.Now().Unix(), staleThreshold).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get ready queue depth: %w", err)
	}
	return count, nil
}
