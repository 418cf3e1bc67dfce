package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Queue results
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultDropped = "dropped"
	ResultFailure = "failure"

	// Worker outcomes
	OutcomeJobFound = "job_found"
	OutcomeIdle     = "idle"
	OutcomeGateOff  = "gate_off"

	// HTTP endpoints
	EndpointBootstrap = "bootstrap"
	EndpointNotify    = "notify"
	EndpointHealth    = "health"

	// Gateway operations
	OpProbeIdentity     = "probe_identity"
	OpResolveDrive      = "resolve_default_drive"
	OpDelta             = "delta"
	OpCreateSubscription = "create_subscription"
	OpGetSubscription    = "get_subscription"
	OpRenewSubscription  = "renew_subscription"
	OpDeleteSubscription = "delete_subscription"

	// Reconciliation event kinds, mirrored from the database package's
	// EventKind constants so this package has no import on database.
	EventKindCreate = "create"
	EventKindRename = "rename"
	EventKindMove   = "move"
	EventKindDelete = "delete"
	EventKindUpdate = "update"

	// Database operations
	DBOpLookupByExternalID         = "lookup_by_external_id"
	DBOpLookupByInternalID         = "lookup_by_internal_id"
	DBOpUpsertItem                 = "upsert_item"
	DBOpMarkDeleted                = "mark_deleted"
	DBOpChildrenOf                 = "children_of"
	DBOpBulkUpsertItems            = "bulk_upsert_items"
	DBOpAppendEvent                = "append_event"
	DBOpAppendMany                 = "append_many"
	DBOpHistoryOf                  = "history_of"
	DBOpGetCursor                  = "get_cursor"
	DBOpSetCursor                  = "set_cursor"
	DBOpClearCursor                = "clear_cursor"
	DBOpFindSubscriptionByResource = "find_subscription_by_resource"
	DBOpFindSubscriptionByProvider = "find_subscription_by_provider_id"
	DBOpUpsertSubscription         = "upsert_subscription"
	DBOpUpdateSubscriptionExpiry   = "update_subscription_expiry"
	DBOpDeleteSubscription         = "delete_subscription"
	DBOpDeleteExpiredSubscriptions = "delete_expired_subscriptions"
	DBOpListExpiredSubscriptions   = "list_expired_subscriptions"
	DBOpListSubscriptions          = "list_subscriptions"
	DBOpEnqueueJob                 = "enqueue_job"
	DBOpClaimJob                   = "claim_job"
	DBOpDeleteJob                  = "delete_job"
	DBOpReleaseJob                 = "release_job"
	DBOpGetGateState               = "get_gate_state"
	DBOpSetGateState                = "set_gate_state"
	DBOpGetRateLimitBreakerState    = "get_rate_limit_breaker_state"
	DBOpOpenRateLimitBreaker        = "open_rate_limit_breaker"
	DBOpTransitionRateLimitBreaker  = "transition_rate_limit_breaker"

	// Rate limit breaker states, mirrored as label values for
	// RateLimitBreakerState.
	BreakerStateClosed   = "closed"
	BreakerStateOpen     = "open"
	BreakerStateHalfOpen = "half_open"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Queue Metrics
var (
	QueueDepthTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_depth_total",
			Help: "Total number of reconciliation jobs in queue (all states)",
		},
	)

	QueueDepthReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_depth_ready",
			Help: "Number of reconciliation jobs ready for processing",
		},
	)

	QueueEnqueueTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_enqueue_total",
			Help: "Total number of reconciliation jobs enqueued",
		},
	)

	QueueDequeueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dequeue_total",
			Help: "Total number of reconciliation jobs dequeued with outcome",
		},
		[]string{"result"},
	)

	QueueProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_processing_duration_seconds",
			Help:    "Time spent processing a reconciliation job",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"result"},
	)

	QueueRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_retry_total",
			Help: "Total number of retry attempts",
		},
		[]string{"retry_count"},
	)
)

// Worker / Gate Metrics
var (
	WorkerPollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_poll_cycles_total",
			Help: "Total number of worker poll cycles by outcome",
		},
		[]string{"outcome"},
	)

	WorkerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_active",
			Help: "Whether the reconciliation worker is currently active (1) or not (0)",
		},
	)

	GateEnabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "credential_gate_enabled",
			Help: "Whether the credential gate is currently enabled (1) or disabled (0)",
		},
	)
)

// Rate Limit Breaker Metrics
var (
	RateLimitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rate_limit_breaker_state",
			Help: "Current rate limit breaker state: 0=closed, 1=half_open, 2=open",
		},
	)

	RateLimitBreakerOpenedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_breaker_opened_total",
			Help: "Total number of times the rate limit breaker tripped open",
		},
	)

	RateLimitBreakerRecoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_breaker_recovered_total",
			Help: "Total number of times the rate limit breaker recovered to closed",
		},
	)
)

// Gateway (C2) Metrics
var (
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of provider gateway requests",
		},
		[]string{"operation", "status_code"},
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Provider gateway request latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation", "status_code"},
	)

	GatewayErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Total number of provider gateway errors by taxonomy",
		},
		[]string{"operation", "reason"},
	)
)

// Database Metrics
var (
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Database operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	DBOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)
)

// Business Metrics
var (
	ChangeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_events_total",
			Help: "Total number of change events recorded by kind",
		},
		[]string{"kind"},
	)

	ItemsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "items_processed_total",
			Help: "Total number of delta items processed by drive",
		},
		[]string{"drive_id"},
	)

	ReconciliationPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconciliation_pass_duration_seconds",
			Help:    "Wall time of one reconciliation pass, successful or aborted",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	PendingParentDeferralsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pending_parent_deferrals_total",
			Help: "Total number of items deferred once for an unresolved parent",
		},
	)

	UnresolvedParentWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "unresolved_parent_warnings_total",
			Help: "Total number of items upserted with a null parent after replay failed to resolve it",
		},
	)
)

// Subscription Manager (C4) Metrics
var (
	SubscriptionRenewalsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_renewals_total",
			Help: "Total number of subscription renewals",
		},
	)

	SubscriptionCreationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_creations_total",
			Help: "Total number of subscriptions created",
		},
	)

	SubscriptionSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_sweeps_removed_total",
			Help: "Total number of stale local subscription records removed by sweep",
		},
	)

	NotificationSecretMismatchTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_secret_mismatch_total",
			Help: "Total number of inbound notifications rejected for shared-secret mismatch",
		},
	)
)
