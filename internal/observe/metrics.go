// Package observe provides the observability primitives for voxcall:
// OpenTelemetry metrics, tracing, trace-aware logging, and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus exporter installed by [InitProvider]. [DefaultMetrics] is the
// package-level instance; tests should build their own with [NewMetrics] and
// a ManualReader-backed [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxcall metrics.
const meterName = "github.com/MrWong99/voxcall"

// Metrics holds all metric instruments. All fields are safe for concurrent use.
type Metrics struct {
	// ReplyDuration tracks reply-model latency.
	ReplyDuration metric.Float64Histogram

	// SynthesisDuration tracks speech-synthesis latency. Use with attribute:
	//   attribute.Int("part", ...)
	SynthesisDuration metric.Float64Histogram

	// TurnDuration tracks the time from finalization to a completed Turn.
	TurnDuration metric.Float64Histogram

	// Finalizations counts utterances handed to the turn pipeline.
	Finalizations metric.Int64Counter

	// DuplicatesSuppressed counts discarded final events. Use with attribute:
	//   attribute.String("reason", ...)
	DuplicatesSuppressed metric.Int64Counter

	// SynthesisRetries counts part-2 polls after the first.
	SynthesisRetries metric.Int64Counter

	// ProviderErrors counts backend failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Turns counts completed turns. Use with attribute:
	//   attribute.String("status", ...)
	Turns metric.Int64Counter

	// ActiveCalls tracks the number of live call sessions.
	ActiveCalls metric.Int64UpDownCounter

	// HTTPRequestDuration tracks host HTTP request time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries, in seconds, for voice latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 12, 20,
}

// NewMetrics creates a fully initialised [Metrics] from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.ReplyDuration, err = histogram("voxcall.reply.duration", "Latency of reply generation."); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = histogram("voxcall.synthesis.duration", "Latency of one speech-synthesis request."); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = histogram("voxcall.turn.duration", "Time from finalized utterance to completed turn."); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = histogram("voxcall.http.request.duration", "Host HTTP request processing time."); err != nil {
		return nil, err
	}

	if met.Finalizations, err = m.Int64Counter("voxcall.finalizations",
		metric.WithDescription("Utterances handed to the turn pipeline."),
	); err != nil {
		return nil, err
	}
	if met.DuplicatesSuppressed, err = m.Int64Counter("voxcall.duplicates_suppressed",
		metric.WithDescription("Final transcript events discarded by the endpoint detector, by reason."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisRetries, err = m.Int64Counter("voxcall.synthesis.retries",
		metric.WithDescription("Second-part synthesis polls after the first."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxcall.provider.errors",
		metric.WithDescription("Backend failures by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("voxcall.turns",
		metric.WithDescription("Completed turns by final status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCalls, err = m.Int64UpDownCounter("voxcall.active_calls",
		metric.WithDescription("Number of live call sessions."),
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
// first call from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the Prometheus exporter.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderError increments ProviderErrors with the standard attribute set.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSuppressed increments DuplicatesSuppressed for reason.
func (m *Metrics) RecordSuppressed(ctx context.Context, reason string) {
	m.DuplicatesSuppressed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTurn increments Turns for status.
func (m *Metrics) RecordTurn(ctx context.Context, status string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
