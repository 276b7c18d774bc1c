package delivery

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aniasusual/xray/internal/config"
	"github.com/aniasusual/xray/internal/telemetry"
)

// metrics holds the delivery instruments. Registration errors leave the
// no-op instrument in place so delivery itself never fails on telemetry.
type metrics struct {
	attempts       metric.Int64Counter
	failures       metric.Int64Counter
	fallbackWrites metric.Int64Counter
	queueFull      metric.Int64Counter
	duration       metric.Float64Histogram
	inflight       metric.Int64UpDownCounter
	mode           attribute.KeyValue
}

func newMetrics(mp metric.MeterProvider, mode config.FallbackMode) *metrics {
	meter := telemetry.Meter(mp)
	m := &metrics{mode: attribute.String("fallback_mode", string(mode))}

	m.attempts, _ = meter.Int64Counter("xray.delivery.attempts",
		metric.WithDescription("Ingest requests issued"),
	)
	m.failures, _ = meter.Int64Counter("xray.delivery.failures",
		metric.WithDescription("Deliveries routed to the fallback policy"),
	)
	m.fallbackWrites, _ = meter.Int64Counter("xray.delivery.fallback_writes",
		metric.WithDescription("Traces written to the local fallback directory"),
	)
	m.queueFull, _ = meter.Int64Counter("xray.delivery.queue_full",
		metric.WithDescription("Background deliveries refused because the queue was full"),
	)
	m.duration, _ = meter.Float64Histogram("xray.delivery.duration",
		metric.WithDescription("Ingest request latency"),
		metric.WithUnit("ms"),
	)
	m.inflight, _ = meter.Int64UpDownCounter("xray.delivery.inflight",
		metric.WithDescription("Background deliveries not yet finished"),
	)
	return m
}

func (m *metrics) recordAttempt(ctx context.Context, elapsed time.Duration, status int) {
	attrs := metric.WithAttributes(attribute.Int("status_code", status))
	m.attempts.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

func (m *metrics) recordFailure(ctx context.Context) {
	m.failures.Add(ctx, 1, metric.WithAttributes(m.mode))
}
