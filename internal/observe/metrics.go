// Package observe provides the OpenTelemetry metric instruments of parlance
// and the SDK setup that exposes them to Prometheus.
//
// Components take a *Metrics through their options and fall back to
// [DefaultMetrics], which records through the global meter provider (a no-op
// until [InitProvider] ran). Tests use [NewMetrics] with their own provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/nadzzz/parlance"

// Utterance status values.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusCancelled = "cancelled"
	StatusSkipped   = "skipped"
)

// Metrics holds the metric instruments. All fields are safe for concurrent use.
type Metrics struct {
	// Utterances counts finished utterances. Attributes: provider, status.
	Utterances metric.Int64Counter

	// UtteranceDuration tracks how long an utterance took to play, in seconds.
	// Attributes: provider.
	UtteranceDuration metric.Float64Histogram

	// Fallbacks counts network playbacks that reverted to the local synthesizer.
	// Attributes: provider.
	Fallbacks metric.Int64Counter

	// ChunkRequests counts network synthesis requests. Attributes: provider, status.
	ChunkRequests metric.Int64Counter

	// ActiveSequences tracks the number of play-all runs in progress.
	ActiveSequences metric.Int64UpDownCounter

	// ActiveSessions tracks the number of open playback sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// Utterances run from a fraction of a second (single words) to a minute.
var durationBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates the instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Utterances, err = m.Int64Counter("parlance.utterances",
		metric.WithDescription("Total utterances by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("parlance.utterance.duration",
		metric.WithDescription("Wall-clock duration of an utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("parlance.network.fallbacks",
		metric.WithDescription("Network playbacks replaced by the local synthesizer."),
	); err != nil {
		return nil, err
	}
	if met.ChunkRequests, err = m.Int64Counter("parlance.network.chunk_requests",
		metric.WithDescription("Network synthesis requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSequences, err = m.Int64UpDownCounter("parlance.active_sequences",
		metric.WithDescription("Number of play-all runs in progress."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("parlance.active_sessions",
		metric.WithDescription("Number of open playback sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics, created on first call from
// otel.GetMeterProvider.
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

// RecordUtterance records one finished utterance and its duration.
func (m *Metrics) RecordUtterance(ctx context.Context, provider, status string, d time.Duration) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
	if status == StatusSkipped {
		return
	}
	m.UtteranceDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordFallback records a network-to-local fallback.
func (m *Metrics) RecordFallback(ctx context.Context, provider string) {
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordChunkRequest records one network synthesis request.
func (m *Metrics) RecordChunkRequest(ctx context.Context, provider, status string) {
	m.ChunkRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}
