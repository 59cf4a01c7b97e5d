package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Listener metrics

	// ListenerBatchesProcessed tracks non-empty batches by outcome
	ListenerBatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pushgate",
			Subsystem: "listener",
			Name:      "batches_processed_total",
			Help:      "Total non-empty batches processed by the listener",
		},
		[]string{"result"}, // result: success, failed
	)

	// ListenerMessagesCommitted tracks messages acknowledged with the queue
	ListenerMessagesCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pushgate",
			Subsystem: "listener",
			Name:      "messages_committed_total",
			Help:      "Total messages committed after dispatch",
		},
	)

	// ListenerDispatchDuration tracks end-to-end batch dispatch duration
	ListenerDispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pushgate",
			Subsystem: "listener",
			Name:      "dispatch_duration_seconds",
			Help:      "Time to dispatch and join a full batch",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ListenerGroupsDropped tracks groups excluded from a dispatch cycle
	ListenerGroupsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pushgate",
			Subsystem: "listener",
			Name:      "groups_dropped_total",
			Help:      "Total destination groups dropped from a dispatch cycle",
		},
		[]string{"reason"}, // reason: handler_unavailable, send_failed
	)

	// ListenerEmptyPolls tracks polls that returned no messages
	ListenerEmptyPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pushgate",
			Subsystem: "listener",
			Name:      "empty_polls_total",
			Help:      "Total polls that returned no messages",
		},
	)

	// ListenerBackoffSleeps tracks failure backoff sleeps
	ListenerBackoffSleeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pushgate",
			Subsystem: "listener",
			Name:      "backoff_sleeps_total",
			Help:      "Total failure backoff sleeps taken by workers",
		},
	)

	// ListenerWorkersActive tracks live consumption loops
	ListenerWorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pushgate",
			Subsystem: "listener",
			Name:      "workers_active",
			Help:      "Number of running listener workers",
		},
	)

	// ListenerMaintenanceRuns tracks maintenance sweeps across cached handlers
	ListenerMaintenanceRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pushgate",
			Subsystem: "listener",
			Name:      "maintenance_runs_total",
			Help:      "Total maintenance sweeps triggered",
		},
	)

	// Handler cache metrics

	// HandlerCacheSize tracks live cached handlers
	HandlerCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pushgate",
			Subsystem: "handlercache",
			Name:      "size",
			Help:      "Number of live handlers in the cache",
		},
	)

	// HandlerCacheConstructions tracks handler constructions by outcome
	HandlerCacheConstructions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pushgate",
			Subsystem: "handlercache",
			Name:      "constructions_total",
			Help:      "Total handler constructions",
		},
		[]string{"result"}, // result: success, failed
	)

	// HandlerCacheEvictions tracks idle evictions
	HandlerCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pushgate",
			Subsystem: "handlercache",
			Name:      "evictions_total",
			Help:      "Total handlers evicted after the idle window",
		},
	)

	// Queue metrics

	// QueueMessagesPolled tracks messages retrieved from the queue
	QueueMessagesPolled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pushgate",
			Subsystem: "queue",
			Name:      "messages_polled_total",
			Help:      "Total messages polled from the queue",
		},
		[]string{"queue_type"}, // sqs, nats
	)

	// QueuePollErrors tracks poll failures
	QueuePollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pushgate",
			Subsystem: "queue",
			Name:      "poll_errors_total",
			Help:      "Total queue poll errors",
		},
		[]string{"queue_type"},
	)

	// QueueCommitErrors tracks commit failures
	QueueCommitErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pushgate",
			Subsystem: "queue",
			Name:      "commit_errors_total",
			Help:      "Total queue commit errors",
		},
		[]string{"queue_type"},
	)

	// Provider metrics

	// ProviderHTTPRequests tracks gateway requests by status code
	ProviderHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pushgate",
			Subsystem: "provider",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests made to the push gateway",
		},
		[]string{"status_code", "operation"}, // operation: send, maintenance
	)

	// ProviderHTTPDuration tracks gateway request duration
	ProviderHTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pushgate",
			Subsystem: "provider",
			Name:      "http_duration_seconds",
			Help:      "Push gateway request duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	// ProviderCircuitBreakerState tracks circuit breaker state per application
	// 0 = closed (healthy), 1 = open (tripped), 2 = half-open (testing)
	ProviderCircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pushgate",
			Subsystem: "provider",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"application"},
	)

	// ProviderCircuitBreakerTrips tracks circuit breaker trip events
	ProviderCircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pushgate",
			Subsystem: "provider",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total circuit breaker trip events",
		},
		[]string{"application"},
	)
)

// CircuitBreakerState constants
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)
