package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Quotation outcomes
const (
	OutcomeCreated           = "created"
	OutcomeTasksMissing      = "tasks_missing"
	OutcomeRolledBack        = "rolled_back"
	OutcomeValidationFailed  = "validation_failed"
	OutcomeEstimationFailed  = "estimation_failed"
	OutcomePersistenceFailed = "persistence_failed"
)

var (
	// HTTP request duration (seconds)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"method", "path", "status"},
	)

	// Provider call latency (milliseconds), one observation per attempt
	ProviderCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_latency_ms",
			Help:    "Estimation provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"outcome"},
	)

	DispatcherQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_queue_depth",
			Help: "Requests waiting in the dispatcher queue",
		},
	)

	DispatcherRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_rejected_total",
			Help: "Requests rejected because the dispatcher queue was full",
		},
	)

	DispatcherRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_retries_total",
			Help: "Retries scheduled by the dispatcher",
		},
		[]string{"reason"},
	)

	DispatcherBudgetDeferrals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_budget_deferrals_total",
			Help: "Times the dispatcher pump deferred because the per-minute budget was exhausted",
		},
	)

	QuotationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotation_create_total",
			Help: "Quotation creation attempts by outcome",
		},
		[]string{"outcome"},
	)

	QuotationManDays = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quotation_man_days",
			Help:    "Estimated man-days per quotation, buffer included",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512
		},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Active WebSocket connections",
		},
	)

	WSMessagesOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_out_total",
			Help: "Messages pushed to WebSocket clients",
		},
	)

	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)
)

// RecordHTTPRequestDuration registra a duração de uma requisição HTTP
func RecordHTTPRequestDuration(method, path string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordProviderCall registra a latência de uma tentativa ao provedor
func RecordProviderCall(outcome string, duration time.Duration) {
	ProviderCallLatency.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

// RecordRetry registra um retry agendado
func RecordRetry(reason string) {
	DispatcherRetries.WithLabelValues(reason).Inc()
}

// RecordQuotation registra o resultado de uma criação de cotação
func RecordQuotation(outcome string) {
	QuotationsCreated.WithLabelValues(outcome).Inc()
}

// RecordLogin registra uma tentativa de login
func RecordLogin(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	LoginAttempts.WithLabelValues(result).Inc()
}
