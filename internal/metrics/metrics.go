package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Chat request outcomes recorded per saga.
const (
	OutcomeAnswered          = "answered"
	OutcomeDegraded          = "degraded"
	OutcomePaymentRequired   = "payment_required"
	OutcomeLedgerUnavailable = "ledger_unavailable"
	OutcomeRetrievalFailed   = "retrieval_failed"
	OutcomeGenerationFailed  = "generation_failed"
)

// Metrics holds all Prometheus metric collectors for a tollchat process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Saga metrics.
	ChatRequestsTotal  *prometheus.CounterVec
	CompensationsTotal *prometheus.CounterVec
	RetrievalDuration  prometheus.Histogram
	GenerationDuration prometheus.Histogram

	// Ledger metrics.
	LedgerOperationsTotal   *prometheus.CounterVec
	LedgerOperationDuration *prometheus.HistogramVec

	// Dispatcher metrics.
	ResolutionsTotal *prometheus.CounterVec

	// Usage collector metrics.
	UsageBufferSize   prometheus.Gauge
	UsageFlushesTotal *prometheus.CounterVec
	UsageRecordsTotal prometheus.Counter

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tollchat_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tollchat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		ChatRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tollchat_chat_requests_total",
			Help: "Total number of chat sagas by terminal outcome.",
		}, []string{"outcome"}),

		CompensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tollchat_compensations_total",
			Help: "Total number of compensating credits by result.",
		}, []string{"result"}),

		RetrievalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tollchat_retrieval_duration_seconds",
			Help:    "Retrieval call duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		GenerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tollchat_generation_duration_seconds",
			Help:    "Generation call duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),

		LedgerOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tollchat_ledger_operations_total",
			Help: "Total number of ledger operations by result.",
		}, []string{"op", "result"}),

		LedgerOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tollchat_ledger_operation_duration_seconds",
			Help:    "Ledger operation duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),

		ResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tollchat_dispatcher_resolutions_total",
			Help: "Total number of service resolutions by source.",
		}, []string{"service", "source"}),

		UsageBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tollchat_usage_buffer_size",
			Help: "Current number of buffered usage records.",
		}),

		UsageFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tollchat_usage_flushes_total",
			Help: "Total number of usage collector flushes.",
		}, []string{"status"}),

		UsageRecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tollchat_usage_records_total",
			Help: "Total number of usage records collected.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tollchat_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ChatRequestsTotal,
		m.CompensationsTotal,
		m.RetrievalDuration,
		m.GenerationDuration,
		m.LedgerOperationsTotal,
		m.LedgerOperationDuration,
		m.ResolutionsTotal,
		m.UsageBufferSize,
		m.UsageFlushesTotal,
		m.UsageRecordsTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// IncChatOutcome records the terminal outcome of one chat saga.
func (m *Metrics) IncChatOutcome(outcome string) {
	m.ChatRequestsTotal.WithLabelValues(outcome).Inc()
}

// IncCompensation records a compensation attempt result ("ok" or "failed").
func (m *Metrics) IncCompensation(result string) {
	m.CompensationsTotal.WithLabelValues(result).Inc()
}

// IncLedgerOperation records one ledger operation and its result.
func (m *Metrics) IncLedgerOperation(op, result string) {
	m.LedgerOperationsTotal.WithLabelValues(op, result).Inc()
}

// ObserveLedgerDuration records a ledger operation duration.
func (m *Metrics) ObserveLedgerDuration(op string, seconds float64) {
	m.LedgerOperationDuration.WithLabelValues(op).Observe(seconds)
}

// IncResolution records a dispatcher resolution and where the address came
// from ("registry" or "fallback").
func (m *Metrics) IncResolution(service, source string) {
	m.ResolutionsTotal.WithLabelValues(service, source).Inc()
}

// SetUsageBufferSize records the usage collector's current buffer depth.
func (m *Metrics) SetUsageBufferSize(n int) {
	m.UsageBufferSize.Set(float64(n))
}

// IncUsageFlush records one usage collector flush ("ok" or "error").
func (m *Metrics) IncUsageFlush(status string) {
	m.UsageFlushesTotal.WithLabelValues(status).Inc()
}

// AddUsageRecords counts usage records accepted into the buffer.
func (m *Metrics) AddUsageRecords(n int) {
	m.UsageRecordsTotal.Add(float64(n))
}

// IncHTTPRequest records one completed HTTP request.
func (m *Metrics) IncHTTPRequest(method, pathPattern string, statusCode int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, fmt.Sprintf("%d", statusCode)).Inc()
}

// ObserveHTTPDuration records an HTTP request duration.
func (m *Metrics) ObserveHTTPDuration(method, pathPattern string, seconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(seconds)
}
