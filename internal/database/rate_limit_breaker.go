package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"driftmirror/internal/metrics"
)

// RateLimitBreakerState is the persisted, cross-restart circuit breaker for
// the provider gateway's rate limiting. It gates the worker poll loop: while
// open, no new reconciliation job is claimed, so a process restart mid
// cooldown does not immediately resume hammering a still-throttling
// provider. One of "closed", "open", "half_open".
type RateLimitBreakerState struct {
	State                string
	OpenedAt             *time.Time
	ClosesAt             *time.Time
	ConsecutiveSuccesses int
	UpdatedAt            time.Time
}

// GetRateLimitBreakerState reads the single persisted breaker row, returning
// a closed zero-value state (not an error) if no row has ever been written.
func (db *DB) GetRateLimitBreakerState() (*RateLimitBreakerState, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetRateLimitBreakerState))
	defer timer.ObserveDuration()

	var s RateLimitBreakerState
	var openedAt, closesAt sql.NullInt64
	var updatedAt int64

	err := db.conn.QueryRow(`
		SELECT state, opened_at, closes_at, consecutive_successes, updated_at
		FROM rate_limit_breaker
		WHERE id = 1
	`).Scan(&s.State, &openedAt, &closesAt, &s.ConsecutiveSuccesses, &updatedAt)
	if err == sql.ErrNoRows {
		return &RateLimitBreakerState{State: metrics.BreakerStateClosed, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetRateLimitBreakerState).Inc()
		return nil, fmt.Errorf("failed to get rate limit breaker state: %w", err)
	}

	if openedAt.Valid {
		t := time.Unix(openedAt.Int64, 0)
		s.OpenedAt = &t
	}
	if closesAt.Valid {
		t := time.Unix(closesAt.Int64, 0)
		s.ClosesAt = &t
	}
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return &s, nil
}

// OpenRateLimitBreaker trips the breaker open for cooldown, resetting the
// half-open success count. Called when a RATE_LIMITED gateway error reaches
// the worker after the gateway's own internal retry budget is exhausted.
func (db *DB) OpenRateLimitBreaker(cooldown time.Duration) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpOpenRateLimitBreaker))
	defer timer.ObserveDuration()

	now := time.Now()
	closesAt := now.Add(cooldown)

	_, err := db.conn.Exec(`
		INSERT INTO rate_limit_breaker (id, state, opened_at, closes_at, consecutive_successes, updated_at)
		VALUES (1, 'open', ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = 'open',
			opened_at = excluded.opened_at,
			closes_at = excluded.closes_at,
			consecutive_successes = 0,
			updated_at = excluded.updated_at
	`, now.Unix(), closesAt.Unix(), now.Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpOpenRateLimitBreaker).Inc()
		return fmt.Errorf("failed to open rate limit breaker: %w", err)
	}
	return nil
}

// TransitionRateLimitBreakerToHalfOpen moves an open breaker to half_open.
// A no-op (rows affected 0) if the breaker isn't currently open.
func (db *DB) TransitionRateLimitBreakerToHalfOpen() error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpTransitionRateLimitBreaker))
	defer timer.ObserveDuration()

	_, err := db.conn.Exec(`
		UPDATE rate_limit_breaker
		SET state = 'half_open', consecutive_successes = 0, updated_at = ?
		WHERE id = 1 AND state = 'open'
	`, time.Now().Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpTransitionRateLimitBreaker).Inc()
		return fmt.Errorf("failed to transition rate limit breaker to half_open: %w", err)
	}
	return nil
}

// TransitionRateLimitBreakerToClosed recovers the breaker to closed after
// enough consecutive half-open successes.
func (db *DB) TransitionRateLimitBreakerToClosed() error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpTransitionRateLimitBreaker))
	defer timer.ObserveDuration()

	_, err := db.conn.Exec(`
		UPDATE rate_limit_breaker
		SET state = 'closed', opened_at = NULL, closes_at = NULL, consecutive_successes = 0, updated_at = ?
		WHERE id = 1
	`, time.Now().Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpTransitionRateLimitBreaker).Inc()
		return fmt.Errorf("failed to transition rate limit breaker to closed: %w", err)
	}
	return nil
}

// IncrementRateLimitBreakerSuccesses bumps the half-open success count. A
// no-op if the breaker isn't currently half_open.
func (db *DB) IncrementRateLimitBreakerSuccesses() error {
	_, err := db.conn.Exec(`
		UPDATE rate_limit_breaker
		SET consecutive_successes = consecutive_successes + 1, updated_at = ?
		WHERE id = 1 AND state = 'half_open'
	`, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to increment rate limit breaker successes: %w", err)
	}
	return nil
}
