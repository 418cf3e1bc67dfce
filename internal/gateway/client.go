// Package gateway provides a typed wrapper over the external drive
// provider's REST surface: credential validation probes, delta queries, and
// subscription CRUD. It hides pagination and raw transport errors behind the
// AUTH_INVALID / RATE_LIMITED / TRANSIENT / FATAL taxonomy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"driftmirror/internal/metrics"
)

const (
	maxRetries   = 5
	initialDelay = 1 * time.Second
	maxDelay     = 5 * time.Minute
)

// Client is a thin, opaque wrapper over the provider's REST API. The
// provider is treated as Microsoft-Graph-shaped but never named in code: all
// paths and payload shapes live behind this package's boundary.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	bearer      string
	logger      *slog.Logger
	rateLimiter *RateLimiter
}

func NewClient(baseURL, bearer string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     baseURL,
		bearer:      bearer,
		logger:      logger.With("component", "gateway"),
		rateLimiter: NewRateLimiter(),
	}
}

// GetRateLimitStatus exposes the most recently observed rate-limit headroom.
func (c *Client) GetRateLimitStatus() Status {
	return c.rateLimiter.Status()
}

// doRequest issues a single logical operation, retrying on RATE_LIMITED and
// TRANSIENT outcomes with exponential backoff, and decodes the response body
// into out (when non-nil and the status is 2xx). A 404 is returned to the
// caller as a *Error with StatusCode 404 so endpoints that treat 404 as a
// legitimate outcome (subscription get/delete) can special-case it.
func (c *Client) doRequest(ctx context.Context, op, method, path string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &Error{Reason: Fatal, Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		bodyBytes = b
	}

	delay := initialDelay
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		statusCode, retryAfter, err := c.attempt(ctx, op, method, path, bodyBytes, out)
		if err == nil {
			metrics.GatewayRequestsTotal.WithLabelValues(op, statusText(statusCode)).Inc()
			return nil
		}

		metrics.GatewayRequestsTotal.WithLabelValues(op, statusText(statusCode)).Inc()

		var ge *Error
		if gerr, ok := err.(*Error); ok {
			ge = gerr
		} else {
			ge = &Error{Reason: Transient, Op: op, Err: err}
		}
		metrics.GatewayErrorsTotal.WithLabelValues(op, string(ge.Reason)).Inc()
		lastErr = ge

		switch ge.Reason {
		case RateLimited:
			if retryAfter > 0 {
				delay = time.Duration(retryAfter) * time.Second
			} else if delay < maxDelay {
				delay *= 2
			}
			continue
		case Transient:
			if delay < maxDelay {
				delay *= 2
			}
			continue
		default:
			// AUTH_INVALID, FATAL, and "not found" are not retryable.
			return ge
		}
	}
	return lastErr
}

// attempt performs exactly one HTTP round trip and classifies the outcome.
// It returns the observed status code (0 on transport failure) and any
// provider-supplied Retry-After hint alongside the error.
func (c *Client) attempt(ctx context.Context, op, method, path string, bodyBytes []byte, out any) (int, int, error) {
	var reqBody io.Reader
	if bodyBytes != nil {
		reqBody = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, 0, &Error{Reason: Fatal, Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.GatewayRequestDuration.WithLabelValues(op, statusText(0)).Observe(time.Since(start).Seconds())
		return 0, 0, &Error{Reason: Transient, Op: op, Err: err}
	}
	defer resp.Body.Close()
	metrics.GatewayRequestDuration.WithLabelValues(op, statusText(resp.StatusCode)).Observe(time.Since(start).Seconds())

	c.rateLimiter.update(resp)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, 0, &Error{Reason: Transient, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return resp.StatusCode, 0, &Error{Reason: Fatal, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
			}
		}
		return resp.StatusCode, 0, nil
	}

	retryAfter := parseRetryAfter(resp)
	return resp.StatusCode, retryAfter, &Error{
		Reason:     classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Op:         op,
		RetryAfter: retryAfter,
		Err:        fmt.Errorf("%s", string(respBody)),
	}
}

func statusText(code int) string {
	if code == 0 {
		return "transport_error"
	}
	return fmt.Sprintf("%d", code)
}

type identityResponse struct {
	UserID        string `json:"id"`
	PrincipalName string `json:"userPrincipalName"`
}

// ProbeIdentity performs a minimal authenticated read and maps the outcome to
// the probe-specific reason enum. It never returns an error for a normal
// auth failure; that is represented by Valid=false and a Reason.
func (c *Client) ProbeIdentity(ctx context.Context) (*ProbeResult, error) {
	var resp identityResponse
	err := c.doRequest(ctx, metrics.OpProbeIdentity, http.MethodGet, "/me", nil, &resp)
	if err == nil {
		return &ProbeResult{Valid: true, UserID: resp.UserID, PrincipalName: resp.PrincipalName}, nil
	}

	var ge *Error
	if !asError(err, &ge) {
		return &ProbeResult{Valid: false, Reason: ProbeReasonTransport}, nil
	}
	switch ge.Reason {
	case AuthInvalid:
		if ge.StatusCode == 403 {
			return &ProbeResult{Valid: false, Reason: ProbeReasonForbidden}, nil
		}
		return &ProbeResult{Valid: false, Reason: ProbeReasonExpired}, nil
	case Transient, RateLimited:
		return &ProbeResult{Valid: false, Reason: ProbeReasonTransport}, nil
	default:
		return &ProbeResult{Valid: false, Reason: ProbeReasonUnknown}, nil
	}
}

// ProbeReason enumerates why probe_identity judged a bearer invalid.
type ProbeReason string

const (
	ProbeReasonExpired   ProbeReason = "EXPIRED"
	ProbeReasonForbidden ProbeReason = "FORBIDDEN"
	ProbeReasonTransport ProbeReason = "TRANSPORT"
	ProbeReasonUnknown   ProbeReason = "UNKNOWN"
)

type ProbeResult struct {
	Valid         bool
	UserID        string
	PrincipalName string
	Reason        ProbeReason
}

type defaultDriveResponse struct {
	ID string `json:"id"`
}

func (c *Client) ResolveDefaultDrive(ctx context.Context) (string, error) {
	var resp defaultDriveResponse
	if err := c.doRequest(ctx, metrics.OpResolveDrive, http.MethodGet, "/drive", nil, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}
