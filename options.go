package xray

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aniasusual/xray/internal/model"
	"github.com/aniasusual/xray/internal/sampling"
)

// Option configures a Tracer.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	logger         *slog.Logger
	httpClient     *http.Client
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	sender         Sender
	hooks          []RunHook
}

// WithLogger sets the structured logger for the SDK. If not set, the default
// slog logger is used. Records below Warn are dropped unless the
// configuration enables verbose mode.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithHTTPClient sets the HTTP client used to reach the trace store.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *resolvedOptions) { o.httpClient = hc }
}

// WithMeterProvider records delivery metrics on mp instead of the global
// OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *resolvedOptions) { o.meterProvider = mp }
}

// WithTracerProvider records delivery spans on tp instead of the global
// OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *resolvedOptions) { o.tracerProvider = tp }
}

// WithSender replaces the built-in HTTP delivery client.
func WithSender(s Sender) Option {
	return func(o *resolvedOptions) { o.sender = s }
}

// WithRunHook registers a hook called whenever a run ends.
func WithRunHook(h RunHook) Option {
	return func(o *resolvedOptions) {
		if h != nil {
			o.hooks = append(o.hooks, h)
		}
	}
}

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	version  string
	metadata map[string]any
	autoSend bool
}

// WithVersion sets the pipeline version recorded on the run (default "1.0.0").
func WithVersion(v string) RunOption {
	return func(o *runOptions) { o.version = v }
}

// WithMetadata sets the run's initial metadata. The map is deep-copied.
func WithMetadata(md map[string]any) RunOption {
	return func(o *runOptions) { o.metadata = model.CloneMap(md) }
}

// WithAutoSend controls whether the run is delivered when its scope ends
// (default true).
func WithAutoSend(enabled bool) RunOption {
	return func(o *runOptions) { o.autoSend = enabled }
}

// CandidateOption adjusts how SetCandidates treats attached data.
type CandidateOption func(*candidateOptions)

type candidateOptions struct {
	sample     bool
	strategy   sampling.Strategy
	strataKey  string
	perStratum int
}

// WithoutSampling attaches the data verbatim regardless of its size.
func WithoutSampling() CandidateOption {
	return func(o *candidateOptions) { o.sample = false }
}

// WithSamplingStrategy overrides the configured strategy for one call.
func WithSamplingStrategy(s SamplingStrategy) CandidateOption {
	return func(o *candidateOptions) { o.strategy = s }
}

// StratifyBy selects stratified sampling grouped by field, keeping up to
// perGroup candidates per distinct value. perGroup <= 0 uses the default of 10.
func StratifyBy(field string, perGroup int) CandidateOption {
	return func(o *candidateOptions) {
		o.strategy = sampling.StrategyStratified
		o.strataKey = field
		o.perStratum = perGroup
	}
}
