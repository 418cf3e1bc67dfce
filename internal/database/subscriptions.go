package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"driftmirror/internal/metrics"
)

// FindSubscriptionByResource returns the most recently created local record
// for a watched resource, which §3 treats as the live one.
func (db *DB) FindSubscriptionByResource(resource string) (*Subscription, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpFindSubscriptionByResource))
	defer timer.ObserveDuration()

	sub, err := scanSubscription(db.conn.QueryRow(`
		SELECT id, provider_subscription_id, resource, shared_secret, expiry, created_at
		FROM subscriptions WHERE resource = ?
		ORDER BY created_at DESC LIMIT 1
	`, resource))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpFindSubscriptionByResource).Inc()
		return nil, fmt.Errorf("failed to find subscription by resource: %w", err)
	}
	return sub, nil
}

// FindSubscriptionByProviderID looks up a local record by the provider's
// subscription id.
func (db *DB) FindSubscriptionByProviderID(providerID string) (*Subscription, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpFindSubscriptionByProvider))
	defer timer.ObserveDuration()

	sub, err := scanSubscription(db.conn.QueryRow(`
		SELECT id, provider_subscription_id, resource, shared_secret, expiry, created_at
		FROM subscriptions WHERE provider_subscription_id = ?
	`, providerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpFindSubscriptionByProvider).Inc()
		return nil, fmt.Errorf("failed to find subscription by provider id: %w", err)
	}
	return sub, nil
}

// UpsertSubscription inserts a new local subscription record, keyed on the
// provider-issued subscription id.
func (db *DB) UpsertSubscription(providerSubscriptionID, resource, sharedSecret string, expiry time.Time) (*Subscription, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpsertSubscription))
	defer timer.ObserveDuration()

	now := time.Now().Unix()
	_, err := db.conn.Exec(`
		INSERT INTO subscriptions (provider_subscription_id, resource, shared_secret, expiry, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider_subscription_id) DO UPDATE SET
			resource = excluded.resource,
			shared_secret = excluded.shared_secret,
			expiry = excluded.expiry
	`, providerSubscriptionID, resource, sharedSecret, expiry.Unix(), now)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertSubscription).Inc()
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	metrics.SubscriptionCreationsTotal.Inc()
	return db.FindSubscriptionByProviderID(providerSubscriptionID)
}

// UpdateSubscriptionExpiry extends a subscription's expiry on renewal.
func (db *DB) UpdateSubscriptionExpiry(id int64, newExpiry time.Time) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpdateSubscriptionExpiry))
	defer timer.ObserveDuration()

	_, err := db.conn.Exec(`UPDATE subscriptions SET expiry = ? WHERE id = ?`, newExpiry.Unix(), id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpdateSubscriptionExpiry).Inc()
		return fmt.Errorf("failed to update subscription expiry: %w", err)
	}
	metrics.SubscriptionRenewalsTotal.Inc()
	return nil
}

// DeleteSubscription removes one local record by id.
func (db *DB) DeleteSubscription(id int64) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpDeleteSubscription))
	defer timer.ObserveDuration()

	_, err := db.conn.Exec(`DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpDeleteSubscription).Inc()
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// ListExpiredSubscriptions returns local records whose expiry has already
// passed, for the Subscription Manager to cross-check against the provider
// before deleting.
func (db *DB) ListExpiredSubscriptions() ([]*Subscription, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListExpiredSubscriptions))
	defer timer.ObserveDuration()

	rows, err := db.conn.Query(`
		SELECT id, provider_subscription_id, resource, shared_secret, expiry, created_at
		FROM subscriptions WHERE expiry < ?
	`, time.Now().Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListExpiredSubscriptions).Inc()
		return nil, fmt.Errorf("failed to list expired subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		var s Subscription
		var expiry, createdAt int64
		if err := rows.Scan(&s.ID, &s.ProviderSubscriptionID, &s.Resource, &s.SharedSecret, &expiry, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan expired subscription: %w", err)
		}
		s.Expiry = time.Unix(expiry, 0)
		s.CreatedAt = time.Unix(createdAt, 0)
		subs = append(subs, &s)
	}
	return subs, rows.Err()
}

// ListSubscriptions returns every locally known subscription record.
func (db *DB) ListSubscriptions() ([]*Subscription, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListSubscriptions))
	defer timer.ObserveDuration()

	rows, err := db.conn.Query(`
		SELECT id, provider_subscription_id, resource, shared_secret, expiry, created_at
		FROM subscriptions ORDER BY id
	`)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListSubscriptions).Inc()
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		var s Subscription
		var expiry, createdAt int64
		if err := rows.Scan(&s.ID, &s.ProviderSubscriptionID, &s.Resource, &s.SharedSecret, &expiry, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		s.Expiry = time.Unix(expiry, 0)
		s.CreatedAt = time.Unix(createdAt, 0)
		subs = append(subs, &s)
	}
	return subs, rows.Err()
}

// DeleteExpiredSubscriptions removes local records whose expiry has already
// passed, without any check against the provider. The Subscription Manager's
// sweep does not use it: it deletes expired records one at a time with
// DeleteSubscription after confirming each provider counterpart is gone.
func (db *DB) DeleteExpiredSubscriptions() (int64, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpDeleteExpiredSubscriptions))
	defer timer.ObserveDuration()

	result, err := db.conn.Exec(`DELETE FROM subscriptions WHERE expiry < ?`, time.Now().Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpDeleteExpiredSubscriptions).Inc()
		return 0, fmt.Errorf("failed to delete expired subscriptions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted subscriptions: %w", err)
	}
	if n > 0 {
		metrics.SubscriptionSweepsTotal.Add(float64(n))
	}
	return n, nil
}

func scanSubscription(row *sql.Row) (*Subscription, error) {
	var s Subscription
	var expiry, createdAt int64
	err := row.Scan(&s.ID, &s.ProviderSubscriptionID, &s.Resource, &s.SharedSecret, &expiry, &createdAt)
	if err != nil {
		return nil, err
	}
	s.Expiry = time.Unix(expiry, 0)
	s.CreatedAt = time.Unix(createdAt, 0)
	return &s, nil
}
