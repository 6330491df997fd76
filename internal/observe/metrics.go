// Package observe provides application-wide observability primitives for
// Sharon: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Sharon metrics.
const meterName = "github.com/MrWong99/sharon"

// Error kinds recorded on [Metrics.LiveErrors].
const (
	ErrorKindPermission = "permission"
	ErrorKindTransport  = "transport"
	ErrorKindMalformed  = "malformed_audio"
	ErrorKindPlayback   = "playback"
	ErrorKindSend       = "send"
	ErrorKindTool       = "tool"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Live session ---

	// ActiveSessions tracks the number of open live sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// SessionDuration tracks how long live sessions stayed open.
	SessionDuration metric.Float64Histogram

	// ConnectDuration tracks the time from Start to the setup acknowledgement.
	ConnectDuration metric.Float64Histogram

	// FramesSent counts capture frames handed to the transport.
	FramesSent metric.Int64Counter

	// FramesDropped counts capture frames discarded because the outbound
	// queue was full or the session was not active.
	FramesDropped metric.Int64Counter

	// FragmentsPlayed counts inbound audio fragments scheduled for playback.
	FragmentsPlayed metric.Int64Counter

	// FragmentsMalformed counts inbound audio fragments that failed to decode.
	FragmentsMalformed metric.Int64Counter

	// Interruptions counts barge-in flushes.
	Interruptions metric.Int64Counter

	// LiveErrors counts session errors. Use with attribute:
	//   attribute.String("kind", ...)
	LiveErrors metric.Int64Counter

	// --- Tools ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolExecutionDuration tracks tool dispatch latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...),
	//   attribute.String("status", "2xx"...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connect and tool latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets covers sessions from a few seconds up to the service's
// session limit.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 900,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("sharon.live.sessions.active",
		metric.WithDescription("Number of open live sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("sharon.live.session.duration",
		metric.WithDescription("Duration of live sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("sharon.live.connect.duration",
		metric.WithDescription("Latency from session start to setup acknowledgement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesSent, err = m.Int64Counter("sharon.live.frames.sent",
		metric.WithDescription("Capture frames sent to the remote model."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("sharon.live.frames.dropped",
		metric.WithDescription("Capture frames dropped before sending."),
	); err != nil {
		return nil, err
	}
	if met.FragmentsPlayed, err = m.Int64Counter("sharon.live.fragments.played",
		metric.WithDescription("Audio fragments scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.FragmentsMalformed, err = m.Int64Counter("sharon.live.fragments.malformed",
		metric.WithDescription("Audio fragments dropped because they failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("sharon.live.interruptions",
		metric.WithDescription("Playback flushes caused by barge-in."),
	); err != nil {
		return nil, err
	}
	if met.LiveErrors, err = m.Int64Counter("sharon.live.errors",
		metric.WithDescription("Live session errors by kind."),
	); err != nil {
		return nil, err
	}

	if met.ToolCalls, err = m.Int64Counter("sharon.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("sharon.tool.duration",
		metric.WithDescription("Latency of tool dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("sharon.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordLiveError records a live session error of the given kind.
func (m *Metrics) RecordLiveError(ctx context.Context, kind string) {
	m.LiveErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
