// Package observe provides application-wide observability primitives for the
// interview service: OpenTelemetry metrics, distributed tracing, trace-aware
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [Setup] and [Telemetry.Handler] serves the
// /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/visaroom"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ExchangeDuration tracks the end-to-end latency of one officer reply,
	// retries included.
	ExchangeDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts backend calls. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts classified backend failures. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ExchangeRetries counts overload retries.
	ExchangeRetries metric.Int64Counter

	// Turns counts transcript entries by role.
	Turns metric.Int64Counter

	// CaptureRestarts counts automatic capture re-arms by reason.
	CaptureRestarts metric.Int64Counter

	// Verdicts counts produced verdicts by decision.
	Verdicts metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by backend and
	// target state.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live interview sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveBridges tracks the number of connected speech bridges.
	ActiveBridges metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries in seconds. Backend
// replies take hundreds of milliseconds; overload retries push into seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ExchangeDuration, err = m.Float64Histogram("visaroom.exchange.duration",
		metric.WithDescription("Latency of one officer reply including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("visaroom.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "visaroom.provider.requests", "Backend requests by backend and status."},
		{&met.ProviderErrors, "visaroom.provider.errors", "Classified backend errors by backend and kind."},
		{&met.ExchangeRetries, "visaroom.exchange.retries", "Overload retries of the turn exchange."},
		{&met.Turns, "visaroom.interview.turns", "Transcript entries by role."},
		{&met.CaptureRestarts, "visaroom.capture.restarts", "Automatic capture re-arms by reason."},
		{&met.Verdicts, "visaroom.verdicts", "Produced verdicts by decision."},
		{&met.BreakerTransitions, "visaroom.breaker.transitions", "Circuit breaker state changes by backend and state."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("visaroom.active_sessions",
		metric.WithDescription("Number of live interview sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveBridges, err = m.Int64UpDownCounter("visaroom.active_bridges",
		metric.WithDescription("Number of connected speech bridges."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one backend call outcome.
func (m *Metrics) RecordProviderRequest(ctx context.Context, backend, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(Attr("backend", backend), Attr("status", status)))
}

// RecordProviderError records one classified backend failure.
func (m *Metrics) RecordProviderError(ctx context.Context, backend, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("backend", backend), Attr("kind", kind)))
}

// RecordTurn records one transcript entry.
func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(Attr("role", role)))
}

// RecordCaptureRestart records one automatic capture re-arm.
func (m *Metrics) RecordCaptureRestart(ctx context.Context, reason string) {
	m.CaptureRestarts.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordVerdict records one produced verdict.
func (m *Metrics) RecordVerdict(ctx context.Context, decision string) {
	m.Verdicts.Add(ctx, 1, metric.WithAttributes(Attr("decision", decision)))
}

// RecordBreakerTransition records one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("backend", backend), Attr("state", to)))
}
