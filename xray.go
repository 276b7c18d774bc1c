// Package xray records multi-step decision pipelines: each execution (a run)
// and each stage inside it (a step) captures what went in, what came out, and
// why, and the finished trace is shipped to a trace store for debugging.
//
//	tracer, err := xray.New(xray.DefaultConfig())
//	if err != nil { ... }
//	err = tracer.Run(ctx, "competitor-selection", func(ctx context.Context, run *xray.RunScope) error {
//	    return run.Step(ctx, "filter", xray.StepFilter, func(ctx context.Context, step *xray.StepScope) error {
//	        kept := filter(products)
//	        return step.SetCandidates(len(products), len(kept), kept)
//	    })
//	})
//
// The active run and step travel in the context.Context, so helpers deep in
// a pipeline can reach them with CurrentRun and CurrentStep. Concurrent flows
// never observe each other's scopes.
//
// The import graph keeps one rule: xray (root) imports internal/*, but
// internal/* never imports xray (root).
package xray

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/aniasusual/xray/internal/config"
	"github.com/aniasusual/xray/internal/delivery"
)

// Tracer creates runs and delivers them when they end. Construct with New.
// A Tracer is safe for concurrent use.
type Tracer struct {
	cfg    config.Config
	logger *slog.Logger
	sender Sender
	client *delivery.Client // nil when a custom Sender is installed
	hooks  []RunHook
}

// New validates cfg and returns a Tracer for it.
func New(cfg Config, opts ...Option) (*Tracer, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := newLogger(o.logger, cfg.Verbose)

	t := &Tracer{
		cfg:    cfg,
		logger: logger,
		hooks:  o.hooks,
	}
	if o.sender != nil {
		t.sender = o.sender
		return t, nil
	}

	var dopts []delivery.Option
	if o.httpClient != nil {
		dopts = append(dopts, delivery.WithHTTPClient(o.httpClient))
	}
	if o.meterProvider != nil {
		dopts = append(dopts, delivery.WithMeterProvider(o.meterProvider))
	}
	if o.tracerProvider != nil {
		dopts = append(dopts, delivery.WithTracerProvider(o.tracerProvider))
	}
	client, err := delivery.NewClient(cfg, logger, dopts...)
	if err != nil {
		return nil, err
	}
	t.client = client
	t.sender = client
	return t, nil
}

// Config returns the tracer's configuration.
func (t *Tracer) Config() Config { return t.cfg }

// Enabled reports whether traces are delivered at all.
func (t *Tracer) Enabled() bool { return t.cfg.Enabled }

// Send delivers a bundle synchronously. With tracing disabled it reports
// success without doing anything.
func (t *Tracer) Send(ctx context.Context, b *Bundle) (bool, error) {
	if !t.cfg.Enabled {
		return true, nil
	}
	return t.sender.Send(ctx, b)
}

// SendAsync starts delivering a bundle in the background.
func (t *Tracer) SendAsync(ctx context.Context, b *Bundle) {
	if !t.cfg.Enabled {
		return
	}
	t.sender.SendAsync(ctx, b)
}

// Flush waits for background deliveries to finish or for ctx to be done.
// Without a Flush before exit, runs delivered in async mode may be lost.
func (t *Tracer) Flush(ctx context.Context) error {
	return t.sender.Flush(ctx)
}

// Replay re-submits traces that log mode saved under dir (the configured
// fallback path when dir is empty) and removes the ones the store accepts.
// limiter paces the requests and may be nil.
func (t *Tracer) Replay(ctx context.Context, dir string, limiter *rate.Limiter) (ReplayResult, error) {
	if t.client == nil {
		return ReplayResult{}, errors.New("xray: replay requires the built-in delivery client")
	}
	if dir == "" {
		dir = t.cfg.FallbackLogPath
	}
	return delivery.Replay(ctx, t.client, dir, limiter)
}

// ---- process default -------------------------------------------------------

var (
	defaultMu     sync.Mutex
	defaultTracer *Tracer
)

// Default returns the process-wide Tracer, building it on first use from a
// .env file (if present) and the XRAY_* environment. An invalid environment
// is logged and yields a disabled tracer rather than failing the caller.
func Default() *Tracer {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultTracer == nil {
		defaultTracer = newDefault()
	}
	return defaultTracer
}

func newDefault() *Tracer {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err == nil {
		var t *Tracer
		if t, err = New(cfg); err == nil {
			return t
		}
	}
	slog.Default().Warn("xray: invalid configuration, tracing disabled", "error", err)
	cfg = config.Default()
	cfg.Enabled = false
	t, _ := New(cfg) // the built-in defaults always validate
	return t
}

// Configure builds a Tracer from cfg and installs it as the process default.
func Configure(cfg Config, opts ...Option) (*Tracer, error) {
	t, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	defaultMu.Lock()
	defaultTracer = t
	defaultMu.Unlock()
	return t, nil
}

// Reset discards the process default after waiting for its background
// deliveries. The next Default call rebuilds it from the environment.
func Reset() {
	defaultMu.Lock()
	t := defaultTracer
	defaultTracer = nil
	defaultMu.Unlock()
	if t != nil {
		_ = t.Flush(context.Background())
	}
}

// StartRun starts a run on the default Tracer.
func StartRun(ctx context.Context, pipeline string, opts ...RunOption) (context.Context, *RunScope, error) {
	return Default().StartRun(ctx, pipeline, opts...)
}

// Trace runs fn inside a run scope on the default Tracer.
func Trace(ctx context.Context, pipeline string, fn func(context.Context, *RunScope) error, opts ...RunOption) error {
	return Default().Run(ctx, pipeline, fn, opts...)
}

// Flush waits for the default Tracer's background deliveries.
func Flush(ctx context.Context) error {
	return Default().Flush(ctx)
}
