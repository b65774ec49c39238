// Package observe provides application-wide observability primitives for
// cadence: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all cadence metrics.
const meterName = "github.com/MrWong99/cadence"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Recognition ---

	// TranscriptsIngested counts transcript updates. Attribute "kind":
	// partial or final.
	TranscriptsIngested metric.Int64Counter

	// MatchDuration tracks how long scoring one transcript update takes.
	MatchDuration metric.Float64Histogram

	// MatchConfidence records raw match confidence. Attribute "phrase":
	// exit or anchor.
	MatchConfidence metric.Float64Histogram

	// CardTransitions counts card changes. Attributes "trigger"
	// (automatic|manual) and "direction" (next|previous|jump).
	CardTransitions metric.Int64Counter

	// WatchdogRestarts counts recognizer restarts after a stall. Attribute
	// "status": ok or error.
	WatchdogRestarts metric.Int64Counter

	// RecognizerErrors counts recognizer failures. Attribute "class":
	// benign, surfaced or fatal.
	RecognizerErrors metric.Int64Counter

	// --- Pacing ---

	// PacingCorrections counts position corrections. Attribute "kind": hard
	// or soft.
	PacingCorrections metric.Int64Counter

	// PacingAutoPauses counts automatic pauses. Attribute "reason":
	// low_confidence or silence.
	PacingAutoPauses metric.Int64Counter

	// ScrollPace records the adaptive seconds-per-line after each change.
	ScrollPace metric.Float64Histogram

	// --- Sessions ---

	// ActiveSessions tracks the number of listening sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionsStored counts finalized sessions written to the store.
	// Attribute "status": ok or error.
	SessionsStored metric.Int64Counter

	// ControlCalls counts remote-control tool invocations. Attributes
	// "tool" and "status".
	ControlCalls metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes
	// "method" and "path".
	HTTPRequestDuration metric.Float64Histogram
}

// matchBuckets are histogram boundaries (in seconds) for per-update
// matching, which runs in the sub-millisecond range.
var matchBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05,
}

// confidenceBuckets split the [0, 1] confidence range.
var confidenceBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}

// paceBuckets cover the clamped seconds-per-line range.
var paceBuckets = []float64{0.3, 0.5, 0.8, 1, 1.5, 2, 3, 4, 6, 10, 20}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Recognition.
	if met.TranscriptsIngested, err = m.Int64Counter("cadence.transcripts",
		metric.WithDescription("Transcript updates ingested by kind."),
	); err != nil {
		return nil, err
	}
	if met.MatchDuration, err = m.Float64Histogram("cadence.match.duration",
		metric.WithDescription("Latency of scoring one transcript update."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(matchBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatchConfidence, err = m.Float64Histogram("cadence.match.confidence",
		metric.WithDescription("Raw phrase match confidence by phrase kind."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CardTransitions, err = m.Int64Counter("cadence.card.transitions",
		metric.WithDescription("Cue card transitions by trigger and direction."),
	); err != nil {
		return nil, err
	}
	if met.WatchdogRestarts, err = m.Int64Counter("cadence.watchdog.restarts",
		metric.WithDescription("Recognizer restarts after stalled transcription."),
	); err != nil {
		return nil, err
	}
	if met.RecognizerErrors, err = m.Int64Counter("cadence.recognizer.errors",
		metric.WithDescription("Recognizer errors by class."),
	); err != nil {
		return nil, err
	}

	// Pacing.
	if met.PacingCorrections, err = m.Int64Counter("cadence.pacing.corrections",
		metric.WithDescription("Scroll position corrections by kind."),
	); err != nil {
		return nil, err
	}
	if met.PacingAutoPauses, err = m.Int64Counter("cadence.pacing.auto_pauses",
		metric.WithDescription("Automatic scroll pauses by reason."),
	); err != nil {
		return nil, err
	}
	if met.ScrollPace, err = m.Float64Histogram("cadence.pacing.seconds_per_line",
		metric.WithDescription("Adaptive scroll pace after each adjustment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(paceBuckets...),
	); err != nil {
		return nil, err
	}

	// Sessions.
	if met.ActiveSessions, err = m.Int64UpDownCounter("cadence.active_sessions",
		metric.WithDescription("Number of listening sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStored, err = m.Int64Counter("cadence.sessions.stored",
		metric.WithDescription("Finalized sessions written to the store by status."),
	); err != nil {
		return nil, err
	}
	if met.ControlCalls, err = m.Int64Counter("cadence.control.calls",
		metric.WithDescription("Remote-control tool invocations by tool and status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cadence.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTranscript counts one ingested transcript update.
func (m *Metrics) RecordTranscript(ctx context.Context, final bool) {
	kind := "partial"
	if final {
		kind = "final"
	}
	m.TranscriptsIngested.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordConfidence records a raw match confidence for the given phrase kind.
func (m *Metrics) RecordConfidence(ctx context.Context, phrase string, confidence float64) {
	m.MatchConfidence.Record(ctx, confidence, metric.WithAttributes(attribute.String("phrase", phrase)))
}

// RecordTransition counts one card transition.
func (m *Metrics) RecordTransition(ctx context.Context, automatic bool, direction string) {
	trigger := "manual"
	if automatic {
		trigger = "automatic"
	}
	m.CardTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("trigger", trigger),
			attribute.String("direction", direction),
		),
	)
}

// RecordWatchdogRestart counts one stall restart.
func (m *Metrics) RecordWatchdogRestart(ctx context.Context, err error) {
	m.WatchdogRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status(err))))
}

// RecordRecognizerError counts one recognizer error of the given class.
func (m *Metrics) RecordRecognizerError(ctx context.Context, class string) {
	m.RecognizerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}

// RecordCorrection counts one pacing correction.
func (m *Metrics) RecordCorrection(ctx context.Context, kind string) {
	m.PacingCorrections.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordAutoPause counts one automatic scroll pause.
func (m *Metrics) RecordAutoPause(ctx context.Context, reason string) {
	m.PacingAutoPauses.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSessionStored counts one store write.
func (m *Metrics) RecordSessionStored(ctx context.Context, err error) {
	m.SessionsStored.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status(err))))
}

// RecordControlCall counts one remote-control tool call.
func (m *Metrics) RecordControlCall(ctx context.Context, tool string, err error) {
	m.ControlCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status(err)),
		),
	)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
