// Package delivery ships completed run bundles to the trace store and applies
// the configured fallback policy when a delivery fails.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/aniasusual/xray/internal/config"
	"github.com/aniasusual/xray/internal/model"
	"github.com/aniasusual/xray/internal/telemetry"
)

// IngestPath is the trace store endpoint that accepts run bundles.
const IngestPath = "/api/runs/ingest"

// maxErrorBody caps how much of a failed response is kept in *Error.
const maxErrorBody = 4 << 10

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Its Timeout is left as is;
// the configured delivery timeout is still applied per request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithMeterProvider records delivery metrics on mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Client) { c.meterProvider = mp }
}

// WithTracerProvider records delivery spans on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracerProvider = tp }
}

// WithClock overrides the time source used for fallback file names.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client delivers bundles to the trace store. All methods are safe for
// concurrent use.
type Client struct {
	cfg      config.Config
	endpoint string
	http     *http.Client
	logger   *slog.Logger
	now      func() time.Time

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metrics        *metrics
	tracer         trace.Tracer
	propagator     propagation.TextMapPropagator

	// Background deliveries: sem bounds concurrent transmits, queue bounds
	// accepted-but-unfinished ones and lets Flush wait for them.
	sem   *semaphore.Weighted
	queue *pending
}

// NewClient validates cfg and returns a Client for it.
func NewClient(cfg config.Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:      cfg,
		endpoint: cfg.APIURL + IngestPath,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		now:      time.Now,
		sem:      semaphore.NewWeighted(int64(cfg.AsyncWorkers)),
		queue:    newPending(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics = newMetrics(c.meterProvider, cfg.FallbackMode)
	c.tracer = telemetry.Tracer(c.tracerProvider)
	c.propagator = telemetry.Propagator()
	return c, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() config.Config { return c.cfg }

// Send delivers b and blocks until the store answers, the timeout elapses, or
// ctx is done. With tracing disabled it reports success without any network
// activity.
//
// The boolean reports whether the trace was handled: delivered, or written to
// the fallback directory in log mode. The error is non-nil only in raise mode.
func (c *Client) Send(ctx context.Context, b *model.Bundle) (bool, error) {
	if !c.cfg.Enabled {
		return true, nil
	}
	body, err := model.Encode(b)
	if err != nil {
		return c.fail(ctx, b.Run.ID, nil, err)
	}
	return c.deliver(ctx, b.Run.ID, body)
}

// SendAsync starts delivering b in the background and returns without
// waiting for network I/O. The bundle is encoded before SendAsync returns,
// so later changes to the caller's run do not leak into the upload. Failures
// are only visible through the fallback policy and the logs. Values carried
// by ctx are kept but its cancellation is not.
//
// At most AsyncQueueSize deliveries are pending at once. A bundle arriving
// while the queue is full is not transmitted: it goes to the fallback policy
// with ErrQueueFull before SendAsync returns.
func (c *Client) SendAsync(ctx context.Context, b *model.Bundle) {
	if !c.cfg.Enabled {
		return
	}
	runID := b.Run.ID
	body, err := model.Encode(b)
	if err != nil {
		c.logger.Error("delivery: encode bundle", "run_id", runID, "error", err)
		return
	}

	ctx = context.WithoutCancel(ctx)
	if !c.queue.add(c.cfg.AsyncQueueSize) {
		c.metrics.queueFull.Add(ctx, 1)
		if _, err := c.fail(ctx, runID, body, ErrQueueFull); err != nil {
			c.logger.Error("delivery: background queue full", "run_id", runID, "error", err)
		}
		return
	}
	c.metrics.inflight.Add(ctx, 1)
	go func() {
		defer c.queue.done()
		defer c.metrics.inflight.Add(ctx, -1)

		if err := c.sem.Acquire(ctx, 1); err != nil {
			c.logger.Error("delivery: acquire worker", "run_id", runID, "error", err)
			return
		}
		defer c.sem.Release(1)

		if _, err := c.deliver(ctx, runID, body); err != nil {
			c.logger.Error("delivery: background delivery failed", "run_id", runID, "error", err)
		}
	}()
}

// Flush waits until every delivery accepted by SendAsync before the call has
// finished, or for ctx to be done. Deliveries still running when ctx ends
// keep running. Flush may run concurrently with SendAsync; deliveries started
// while it waits extend the wait.
func (c *Client) Flush(ctx context.Context) error {
	select {
	case <-c.queue.drained():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("delivery: flush: %w", ctx.Err())
	}
}

// deliver transmits an encoded bundle and applies the fallback policy on failure.
func (c *Client) deliver(ctx context.Context, runID uuid.UUID, body []byte) (bool, error) {
	err := c.transmit(ctx, runID, body)
	if err == nil {
		return true, nil
	}
	return c.fail(ctx, runID, body, err)
}

// fail routes a failed delivery through the fallback policy.
func (c *Client) fail(ctx context.Context, runID uuid.UUID, body []byte, cause error) (bool, error) {
	c.metrics.recordFailure(ctx)

	switch c.cfg.FallbackMode {
	case config.FallbackLog:
		if body == nil {
			c.logger.Error("delivery: trace not delivered and not encodable", "run_id", runID, "error", cause)
			return false, nil
		}
		path, err := writeFallback(c.cfg.FallbackLogPath, runID, body, c.now())
		if err != nil {
			c.logger.Error("delivery: write fallback file", "run_id", runID, "error", err, "cause", cause)
			return false, nil
		}
		c.metrics.fallbackWrites.Add(ctx, 1)
		c.logger.Warn("delivery: trace written to fallback file", "run_id", runID, "path", path, "cause", cause)
		return true, nil

	case config.FallbackRaise:
		if cause == nil {
			cause = ErrDeliveryFailed
		}
		return false, cause

	default:
		c.logger.Warn("delivery: trace not delivered", "run_id", runID, "error", cause)
		return false, nil
	}
}

// transmit issues exactly one ingest request. Only 200 and 201 count as
// success.
func (c *Client) transmit(ctx context.Context, runID uuid.UUID, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "xray.deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("xray.run_id", runID.String()),
			attribute.Int("xray.body_bytes", len(body)),
		),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("delivery: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.recordAttempt(ctx, time.Since(start), 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return fmt.Errorf("delivery: POST %s: %w", IngestPath, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.metrics.recordAttempt(ctx, time.Since(start), resp.StatusCode)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Debug("delivery: trace delivered", "run_id", runID, "status_code", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds())
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err = &Error{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	span.SetStatus(codes.Error, err.Error())
	return err
}
