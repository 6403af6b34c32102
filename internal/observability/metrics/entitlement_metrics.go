package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	LookupOutcomeFound    = "found"
	LookupOutcomeNotFound = "not_found"
	LookupOutcomeError    = "error"
	LookupOutcomeTimeout  = "timeout"
)

const (
	StoreReasonDeadlineExceeded     = "deadline_exceeded"
	StoreReasonUniqueViolation      = "unique_violation"
	StoreReasonSerializationFailure = "serialization_failure"
	StoreReasonConnection           = "connection"
	StoreReasonUnknown              = "unknown"
)

// EntitlementMetrics holds the Prometheus series scraped from /metrics for
// the resolver chain, webhook ingestion and the entitlement store.
type EntitlementMetrics struct {
	resolverLookups  *prometheus.CounterVec
	resolverDuration *prometheus.HistogramVec
	webhookEvents    *prometheus.CounterVec
	staleEvents      *prometheus.CounterVec
	storeErrors      *prometheus.CounterVec
}

var (
	entitlementMetricsOnce sync.Once
	entitlementMetrics     *EntitlementMetrics
)

// Entitlements returns the process-wide entitlement metrics.
func Entitlements() *EntitlementMetrics {
	return EntitlementsWithConfig(Config{})
}

func EntitlementsWithConfig(cfg Config) *EntitlementMetrics {
	entitlementMetricsOnce.Do(func() {
		entitlementMetrics = newEntitlementMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return entitlementMetrics
}

// NewEntitlementMetricsForTest builds an instance bound to its own registry.
func NewEntitlementMetricsForTest(registerer prometheus.Registerer) *EntitlementMetrics {
	return newEntitlementMetrics(registerer, Config{ServiceName: "test", Environment: "test"})
}

func newEntitlementMetrics(registerer prometheus.Registerer, cfg Config) *EntitlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "predixa-entitlements"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	resolverLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "predixa_resolver_lookups_total",
		Help:        "Entitlement provider lookups by provider and outcome.",
		ConstLabels: constLabels,
	}, []string{"provider", "outcome"})
	resolverDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "predixa_resolver_lookup_duration_seconds",
		Help:        "Entitlement provider lookup latency.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"provider"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "predixa_webhook_deliveries_total",
		Help:        "Webhook deliveries by provider and outcome.",
		ConstLabels: constLabels,
	}, []string{"provider", "outcome"})
	staleEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "predixa_webhook_stale_events_total",
		Help:        "Webhook events dropped because a newer event was already applied.",
		ConstLabels: constLabels,
	}, []string{"provider"})
	storeErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "predixa_entitlement_store_errors_total",
		Help:        "Entitlement store failures by operation and reason.",
		ConstLabels: constLabels,
	}, []string{"operation", "reason"})

	registerer.MustRegister(resolverLookups, resolverDuration, webhookEvents, staleEvents, storeErrors)

	return &EntitlementMetrics{
		resolverLookups:  resolverLookups,
		resolverDuration: resolverDuration,
		webhookEvents:    webhookEvents,
		staleEvents:      staleEvents,
		storeErrors:      storeErrors,
	}
}

// ObserveLookup records a single provider lookup.
func (m *EntitlementMetrics) ObserveLookup(provider, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.resolverLookups.WithLabelValues(provider, outcome).Inc()
	m.resolverDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *EntitlementMetrics) IncWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, outcome).Inc()
}

func (m *EntitlementMetrics) IncStaleEvent(provider string) {
	if m == nil {
		return
	}
	m.staleEvents.WithLabelValues(provider).Inc()
}

// IncStoreError records a store failure classified by ClassifyStoreError.
func (m *EntitlementMetrics) IncStoreError(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.storeErrors.WithLabelValues(operation, ClassifyStoreError(err)).Inc()
}

// ClassifyStoreError maps store errors to a low-cardinality reason.
func ClassifyStoreError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return StoreReasonDeadlineExceeded
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return StoreReasonUniqueViolation
	case hasPGCode(err, "40001"):
		return StoreReasonSerializationFailure
	case hasPGClass(err, "08"):
		return StoreReasonConnection
	default:
		return StoreReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func hasPGClass(err error, class string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, class)
	}
	return false
}
