// Package observe provides voxread's observability surface: OpenTelemetry
// metrics bridged to Prometheus, tracing with trace-derived correlation IDs,
// trace-aware structured logging, and the HTTP middleware tying them
// together.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) backs the
// production wiring; tests build their own via [NewMetrics] with a manual
// reader to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxread metrics.
const meterName = "github.com/voxread/voxread"

// Metrics holds every metric instrument voxread records. The underlying OTel
// instruments are safe for concurrent use.
type Metrics struct {
	// TurnDuration is the latency of one conversational turn, audio upload
	// to agent reply.
	TurnDuration metric.Float64Histogram

	// SynthesisDuration is the end-to-end latency of one TTS job, all
	// chunks included.
	SynthesisDuration metric.Float64Histogram

	// ChunkDuration is the latency of a single chunk synthesis request.
	ChunkDuration metric.Float64Histogram

	// ProviderRequests counts upstream API calls, attributed by provider,
	// kind, and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts upstream failures, attributed by provider and
	// kind.
	ProviderErrors metric.Int64Counter

	// SessionsEvicted counts sessions reclaimed by the idle sweeper.
	SessionsEvicted metric.Int64Counter

	// CacheHits and CacheMisses count synthesis cache lookups.
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// ActiveSessions tracks live agent sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is request processing time, attributed by method
	// and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bucket boundaries (seconds) sized for voice
// pipeline latencies, from sub-10ms cache hits to 30s turn timeouts.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// instrumentBuilder accumulates the first instrument-creation error so
// NewMetrics reads as a flat list instead of a ladder of error checks.
type instrumentBuilder struct {
	meter metric.Meter
	err   error
}

func (b *instrumentBuilder) latency(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if b.err == nil {
		b.err = err
	}
	return h
}

func (b *instrumentBuilder) duration(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
	)
	if b.err == nil {
		b.err = err
	}
	return h
}

func (b *instrumentBuilder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return c
}

func (b *instrumentBuilder) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return g
}

// NewMetrics creates all instruments on the given [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instrumentBuilder{meter: mp.Meter(meterName)}

	met := &Metrics{
		TurnDuration:        b.latency("voxread.turn.duration", "Latency of one conversational turn."),
		SynthesisDuration:   b.latency("voxread.synthesis.duration", "End-to-end latency of one synthesis job."),
		ChunkDuration:       b.latency("voxread.chunk.duration", "Latency of a single chunk synthesis request."),
		ProviderRequests:    b.counter("voxread.provider.requests", "Total upstream API requests by provider, kind, and status."),
		ProviderErrors:      b.counter("voxread.provider.errors", "Total upstream errors by provider and kind."),
		SessionsEvicted:     b.counter("voxread.sessions.evicted", "Total sessions reclaimed by the idle sweeper."),
		CacheHits:           b.counter("voxread.cache.hits", "Total synthesis cache hits."),
		CacheMisses:         b.counter("voxread.cache.misses", "Total synthesis cache misses."),
		ActiveSessions:      b.gauge("voxread.active_sessions", "Number of live agent sessions."),
		HTTPRequestDuration: b.duration("voxread.http.request.duration", "HTTP request latency by method and path."),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call against the global meter provider. Panics if instrument creation
// fails, which the global provider never does.
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

// RecordProviderRequest increments the provider request counter with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCacheLookup records a synthesis cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if hit {
		m.CacheHits.Add(ctx, 1)
		return
	}
	m.CacheMisses.Add(ctx, 1)
}
