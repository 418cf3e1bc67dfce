package gateway

import (
	"context"
	"net/http"
	"time"

	"driftmirror/internal/metrics"
)

// Subscription mirrors the provider's subscription resource.
type Subscription struct {
	ID       string    `json:"id"`
	Resource string    `json:"resource"`
	Expiry   time.Time `json:"expirationDateTime"`
}

type createSubscriptionRequest struct {
	NotificationURL string    `json:"notificationUrl"`
	Resource        string    `json:"resource"`
	ClientState     string    `json:"clientState"`
	Expiry          time.Time `json:"expirationDateTime"`
}

// CreateSubscription registers a new push-notification subscription for
// resource, with the given shared secret echoed back as clientState on every
// notification.
func (c *Client) CreateSubscription(ctx context.Context, notificationURL, resource, sharedSecret string, expiry time.Time) (*Subscription, error) {
	req := createSubscriptionRequest{
		NotificationURL: notificationURL,
		Resource:        resource,
		ClientState:     sharedSecret,
		Expiry:          expiry,
	}
	var sub Subscription
	if err := c.doRequest(ctx, metrics.OpCreateSubscription, http.MethodPost, "/subscriptions", req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscription returns the live subscription, or nil if the provider
// reports 404 (the subscription has lapsed or was never created).
func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription
	err := c.doRequest(ctx, metrics.OpGetSubscription, http.MethodGet, "/subscriptions/"+id, nil, &sub)
	if err == nil {
		return &sub, nil
	}
	var ge *Error
	if asError(err, &ge) && ge.StatusCode == 404 {
		return nil, nil
	}
	return nil, err
}

type renewSubscriptionRequest struct {
	Expiry time.Time `json:"expirationDateTime"`
}

func (c *Client) RenewSubscription(ctx context.Context, id string, newExpiry time.Time) error {
	req := renewSubscriptionRequest{Expiry: newExpiry}
	return c.doRequest(ctx, metrics.OpRenewSubscription, http.MethodPatch, "/subscriptions/"+id, req, nil)
}

// DeleteSubscription removes the subscription. A 404 is treated as success
// since the desired end state — no subscription at this id — already holds.
func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	err := c.doRequest(ctx, metrics.OpDeleteSubscription, http.MethodDelete, "/subscriptions/"+id, nil, nil)
	if err == nil {
		return nil
	}
	var ge *Error
	if asError(err, &ge) && ge.StatusCode == 404 {
		return nil
	}
	return err
}
