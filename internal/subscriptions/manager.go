// Package subscriptions drives the push-notification subscription lifecycle:
// ensuring a live subscription exists for a watched resource, authenticating
// inbound notifications, and sweeping dead local records. The provider's
// validation handshake is answered by the notification handler in
// internal/handlers.
package subscriptions

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"driftmirror/internal/database"
	"driftmirror/internal/gateway"
)

const (
	// TSub is the target subscription lifetime requested on create/renew,
	// chosen as the largest value the provider allows.
	TSub = 70 * time.Hour
	// TRenewThreshold is the remaining-life floor below which ensure_live
	// renews rather than leaving a subscription alone.
	TRenewThreshold = 24 * time.Hour

	// defaultSharedSecretLen is used when New is given a floor below it;
	// it is never itself a behavior an operator can silently undershoot.
	defaultSharedSecretLen = 32
)

type Manager struct {
	client          *gateway.Client
	db              *database.DB
	logger          *slog.Logger
	sharedSecretLen int
}

// New builds a Manager that generates shared secrets of at least
// sharedSecretFloor bytes (base64-encoded length is longer). A floor below
// defaultSharedSecretLen is raised to it, matching config.Config's own
// SHARED_SECRET_FLOOR >= 32 validation.
func New(client *gateway.Client, db *database.DB, sharedSecretFloor int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if sharedSecretFloor < defaultSharedSecretLen {
		sharedSecretFloor = defaultSharedSecretLen
	}
	return &Manager{
		client:          client,
		db:              db,
		logger:          logger.With("component", "subscriptions"),
		sharedSecretLen: sharedSecretFloor,
	}
}

// EnsureLive guarantees a live provider subscription exists for resource,
// creating, renewing, or leaving it unchanged as needed, and returns the
// current local record.
func (m *Manager) EnsureLive(ctx context.Context, resource, notificationURL string) (*database.Subscription, error) {
	local, err := m.db.FindSubscriptionByResource(resource)
	if err != nil {
		return nil, fmt.Errorf("look up local subscription: %w", err)
	}

	if local != nil {
		provider, err := m.client.GetSubscription(ctx, local.ProviderSubscriptionID)
		if err != nil {
			return nil, fmt.Errorf("fetch provider subscription: %w", err)
		}

		if provider == nil {
			m.logger.Info("provider subscription gone, recreating", "resource", resource)
			if err := m.db.DeleteSubscription(local.ID); err != nil {
				return nil, fmt.Errorf("delete stale local subscription: %w", err)
			}
			local = nil
		} else if time.Until(provider.Expiry) > TRenewThreshold {
			return local, nil
		} else {
			newExpiry := time.Now().Add(TSub)
			if err := m.client.RenewSubscription(ctx, local.ProviderSubscriptionID, newExpiry); err != nil {
				return nil, fmt.Errorf("renew provider subscription: %w", err)
			}
			if err := m.db.UpdateSubscriptionExpiry(local.ID, newExpiry); err != nil {
				return nil, fmt.Errorf("persist renewed expiry: %w", err)
			}
			m.logger.Info("renewed subscription", "resource", resource, "expiry", newExpiry)
			return m.db.FindSubscriptionByProviderID(local.ProviderSubscriptionID)
		}
	}

	secret, err := generateSharedSecret(m.sharedSecretLen)
	if err != nil {
		return nil, fmt.Errorf("generate shared secret: %w", err)
	}

	expiry := time.Now().Add(TSub)
	sub, err := m.client.CreateSubscription(ctx, notificationURL, resource, secret, expiry)
	if err != nil {
		return nil, fmt.Errorf("create provider subscription: %w", err)
	}

	created, err := m.db.UpsertSubscription(sub.ID, resource, secret, sub.Expiry)
	if err != nil {
		return nil, fmt.Errorf("persist new subscription: %w", err)
	}
	m.logger.Info("created subscription", "resource", resource, "provider_subscription_id", sub.ID)
	return created, nil
}

// AuthenticateNotification compares the claimed shared secret against the
// locally stored one for providerSubscriptionID, byte-for-byte in constant
// time. Returns false for an unknown subscription id or a mismatched secret.
func (m *Manager) AuthenticateNotification(providerSubscriptionID, claimedSecret string) (bool, error) {
	local, err := m.db.FindSubscriptionByProviderID(providerSubscriptionID)
	if err != nil {
		return false, fmt.Errorf("look up subscription: %w", err)
	}
	if local == nil {
		return false, nil
	}
	match := subtle.ConstantTimeCompare([]byte(local.SharedSecret), []byte(claimedSecret)) == 1
	if !match {
		m.logger.Warn("notification shared secret mismatch", "provider_subscription_id", providerSubscriptionID)
	}
	return match, nil
}

// ResourceForProviderSubscription resolves which watched resource a
// notification's subscription id refers to, for enqueueing the
// reconciliation job.
func (m *Manager) ResourceForProviderSubscription(providerSubscriptionID string) (string, error) {
	local, err := m.db.FindSubscriptionByProviderID(providerSubscriptionID)
	if err != nil {
		return "", fmt.Errorf("look up subscription: %w", err)
	}
	if local == nil {
		return "", nil
	}
	return local.Resource, nil
}

// SweepExpired removes local records whose expiry has passed and whose
// provider counterpart no longer exists. Returns the number removed.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	candidates, err := m.db.ListExpiredSubscriptions()
	if err != nil {
		return 0, fmt.Errorf("list expired subscriptions: %w", err)
	}

	removed := 0
	for _, sub := range candidates {
		provider, err := m.client.GetSubscription(ctx, sub.ProviderSubscriptionID)
		if err != nil {
			m.logger.Warn("failed to check provider during sweep", "provider_subscription_id", sub.ProviderSubscriptionID, "error", err)
			continue
		}
		if provider != nil {
			// Still live at the provider despite our local expiry bookkeeping
			// lagging; leave it for the next ensure_live to reconcile.
			continue
		}
		if err := m.db.DeleteSubscription(sub.ID); err != nil {
			return removed, fmt.Errorf("delete expired subscription: %w", err)
		}
		removed++
	}
	return removed, nil
}

func generateSharedSecret(minLen int) (string, error) {
	b := make([]byte, minLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(b)
	if len(secret) < minLen {
		// base64 of minLen bytes is always well over minLen chars, but guard
		// the invariant explicitly since §4.4 requires it.
		return "", fmt.Errorf("generated secret shorter than minimum length")
	}
	return secret, nil
}
