// Package observe holds the OpenTelemetry metric instruments used across
// sotaque and the Prometheus bridge that exposes them.
//
// Tests should build their own [Metrics] with [NewMetrics] and a private
// MeterProvider; [DefaultMetrics] is bound to the global provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/verte-zerg/sotaque"

// Metrics holds the application's instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// Attempts counts scored attempts by mode.
	Attempts metric.Int64Counter
	// AttemptScore records attempt percentages by mode.
	AttemptScore metric.Int64Histogram
	// WordsScored counts target words by correctness.
	WordsScored metric.Int64Counter
	// StoreErrors counts persistence failures that were swallowed. Use with
	// attribute.String("op", ...).
	StoreErrors metric.Int64Counter

	RecognitionDuration metric.Float64Histogram
	// RecognitionErrors counts failed or malformed recognitions by reason.
	RecognitionErrors metric.Int64Counter
	SynthesisDuration   metric.Float64Histogram

	ExamsStarted   metric.Int64Counter
	ExamsCompleted metric.Int64Counter
	ActiveExams    metric.Int64UpDownCounter

	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20,
}

var scoreBuckets = []float64{
	0, 20, 40, 60, 80, 100,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Attempts, err = m.Int64Counter("sotaque.attempts",
		metric.WithDescription("Scored pronunciation attempts by mode."),
	); err != nil {
		return nil, err
	}
	if met.AttemptScore, err = m.Int64Histogram("sotaque.attempt.score",
		metric.WithDescription("Attempt score percentage by mode."),
		metric.WithUnit("%"),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WordsScored, err = m.Int64Counter("sotaque.words.scored",
		metric.WithDescription("Target words scored, split by correctness."),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("sotaque.store.errors",
		metric.WithDescription("Progress writes that failed and were skipped."),
	); err != nil {
		return nil, err
	}

	if met.RecognitionDuration, err = m.Float64Histogram("sotaque.recognition.duration",
		metric.WithDescription("Latency of speech recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionErrors, err = m.Int64Counter("sotaque.recognition.errors",
		metric.WithDescription("Recognitions that produced no transcript, by reason."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("sotaque.synthesis.duration",
		metric.WithDescription("Latency of reference audio lookup and synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ExamsStarted, err = m.Int64Counter("sotaque.exams.started",
		metric.WithDescription("Module exams started."),
	); err != nil {
		return nil, err
	}
	if met.ExamsCompleted, err = m.Int64Counter("sotaque.exams.completed",
		metric.WithDescription("Module exams answered to the end."),
	); err != nil {
		return nil, err
	}
	if met.ActiveExams, err = m.Int64UpDownCounter("sotaque.exams.active",
		metric.WithDescription("Exams held in memory by the HTTP server."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("sotaque.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance bound to the global
// MeterProvider. It panics if instruments cannot be created.
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

// RecordAttempt records one scored attempt and its per-word outcomes.
func (m *Metrics) RecordAttempt(ctx context.Context, mode string, percent, correct, total int) {
	modeAttr := metric.WithAttributes(attribute.String("mode", mode))
	m.Attempts.Add(ctx, 1, modeAttr)
	m.AttemptScore.Record(ctx, int64(percent), modeAttr)
	if correct > 0 {
		m.WordsScored.Add(ctx, int64(correct), metric.WithAttributes(attribute.Bool("correct", true)))
	}
	if total > correct {
		m.WordsScored.Add(ctx, int64(total-correct), metric.WithAttributes(attribute.Bool("correct", false)))
	}
}

// RecordStoreError counts a skipped persistence operation.
func (m *Metrics) RecordStoreError(ctx context.Context, op string) {
	m.StoreErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordRecognition records recognition latency and, when reason is not
// empty, a failure.
func (m *Metrics) RecordRecognition(ctx context.Context, d time.Duration, reason string) {
	m.RecognitionDuration.Record(ctx, d.Seconds())
	if reason != "" {
		m.RecognitionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}
