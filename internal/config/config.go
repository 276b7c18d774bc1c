// Package config loads and validates SDK configuration from environment
// variables and an optional YAML file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aniasusual/xray/internal/sampling"
)

// FallbackMode selects what happens when a trace cannot be delivered.
type FallbackMode string

const (
	FallbackSilent FallbackMode = "silent" // report the failure, do nothing else
	FallbackLog    FallbackMode = "log"    // write the trace to a local file
	FallbackRaise  FallbackMode = "raise"  // return the delivery error to the caller
)

// ParseFallbackMode validates a fallback mode name (case-insensitive).
func ParseFallbackMode(s string) (FallbackMode, error) {
	switch m := FallbackMode(strings.ToLower(strings.TrimSpace(s))); m {
	case FallbackSilent, FallbackLog, FallbackRaise:
		return m, nil
	}
	return "", fmt.Errorf("fallback mode %q must be silent, log, or raise", s)
}

// MaxTimeout is the upper bound for the delivery timeout.
const MaxTimeout = 60 * time.Second

// Config holds all SDK configuration.
type Config struct {
	// Delivery settings.
	APIURL  string        // Trace store base URL, without trailing slash.
	Enabled bool          // When false, tracing is functionally absent.
	Timeout time.Duration // Per-request delivery timeout, (0, 60s].
	// AsyncMode sends traces from a background goroutine at run end.
	AsyncMode    bool
	AsyncWorkers int // Maximum concurrent background deliveries.
	// AsyncQueueSize caps background deliveries accepted but not finished.
	// Traces beyond it go straight to the fallback policy.
	AsyncQueueSize int

	// Failure handling.
	FallbackMode    FallbackMode
	FallbackLogPath string // Directory for failed traces in log mode.

	// Sampling settings.
	MaxCandidatesFullCapture int // Candidate lists at or below this size are kept whole.
	SampleSizeLarge          int // Window size for smart and head/tail sampling.
	SampleSizeMedium         int // Sample size for random sampling.
	SampleStrategy           sampling.Strategy

	// Verbose enables debug logging from the SDK.
	Verbose bool
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		APIURL:                   "http://localhost:8000",
		Enabled:                  true,
		Timeout:                  5 * time.Second,
		AsyncMode:                true,
		AsyncWorkers:             4,
		AsyncQueueSize:           256,
		FallbackMode:             FallbackSilent,
		FallbackLogPath:          ".xray/failed_traces",
		MaxCandidatesFullCapture: sampling.DefaultThreshold,
		SampleSizeLarge:          sampling.DefaultSampleSize,
		SampleSizeMedium:         sampling.DefaultRandomSize,
		SampleStrategy:           sampling.StrategySmart,
	}
}

// Load reads configuration from environment variables with sensible defaults.
// If XRAY_CONFIG_FILE names a YAML file, its values are applied first and
// environment variables override them.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("XRAY_CONFIG_FILE"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return Config{}, err
		}
	}

	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	cfg.APIURL = envStr("XRAY_API_URL", cfg.APIURL)
	cfg.FallbackLogPath = envStr("XRAY_FALLBACK_LOG_PATH", cfg.FallbackLogPath)

	var err error
	cfg.Enabled, err = envBool("XRAY_ENABLED", cfg.Enabled)
	collect(err)
	cfg.AsyncMode, err = envBool("XRAY_ASYNC_MODE", cfg.AsyncMode)
	collect(err)
	cfg.Verbose, err = envBool("XRAY_VERBOSE", cfg.Verbose)
	collect(err)
	cfg.Timeout, err = envSeconds("XRAY_TIMEOUT", cfg.Timeout)
	collect(err)
	cfg.AsyncWorkers, err = envInt("XRAY_ASYNC_WORKERS", cfg.AsyncWorkers)
	collect(err)
	cfg.AsyncQueueSize, err = envInt("XRAY_ASYNC_QUEUE_SIZE", cfg.AsyncQueueSize)
	collect(err)
	cfg.MaxCandidatesFullCapture, err = envInt("XRAY_MAX_CANDIDATES_FULL", cfg.MaxCandidatesFullCapture)
	collect(err)
	cfg.SampleSizeLarge, err = envInt("XRAY_SAMPLE_SIZE_LARGE", cfg.SampleSizeLarge)
	collect(err)
	cfg.SampleSizeMedium, err = envInt("XRAY_SAMPLE_SIZE_MEDIUM", cfg.SampleSizeMedium)
	collect(err)

	if v := os.Getenv("XRAY_FALLBACK_MODE"); v != "" {
		m, err := ParseFallbackMode(v)
		if err != nil {
			collect(fmt.Errorf("XRAY_FALLBACK_MODE: %w", err))
		} else {
			cfg.FallbackMode = m
		}
	}
	if v := os.Getenv("XRAY_SAMPLE_STRATEGY"); v != "" {
		s, err := sampling.ParseStrategy(v)
		if err != nil {
			collect(fmt.Errorf("XRAY_SAMPLE_STRATEGY: %w", err))
		} else {
			cfg.SampleStrategy = s
		}
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize strips trailing slashes from the API URL.
func (c *Config) Normalize() {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("config: api_url is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: api_url %q must be an absolute http(s) URL", c.APIURL)
	}
	if c.Timeout <= 0 || c.Timeout > MaxTimeout {
		return fmt.Errorf("config: timeout must be in (0, %s], got %s", MaxTimeout, c.Timeout)
	}
	if _, err := ParseFallbackMode(string(c.FallbackMode)); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.FallbackMode == FallbackLog && c.FallbackLogPath == "" {
		return fmt.Errorf("config: fallback_log_path is required in log mode")
	}
	if c.AsyncWorkers <= 0 {
		return fmt.Errorf("config: async_workers must be positive")
	}
	if c.AsyncQueueSize < c.AsyncWorkers {
		return fmt.Errorf("config: async_queue_size must be at least async_workers (%d)", c.AsyncWorkers)
	}
	if c.MaxCandidatesFullCapture <= 0 {
		return fmt.Errorf("config: max_candidates_full_capture must be positive")
	}
	if c.SampleSizeLarge <= 0 || c.SampleSizeMedium <= 0 {
		return fmt.Errorf("config: sample sizes must be positive")
	}
	if _, err := sampling.ParseStrategy(string(c.SampleStrategy)); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SamplingParams returns the sampling sizes this configuration implies.
func (c Config) SamplingParams() sampling.Params {
	return sampling.Params{
		Threshold:  c.MaxCandidatesFullCapture,
		SampleSize: c.SampleSizeLarge,
		RandomSize: c.SampleSizeMedium,
	}
}

// fileConfig is the YAML shape. Pointer fields distinguish absent keys from
// zero values so a file only overrides what it names.
type fileConfig struct {
	APIURL                   *string  `yaml:"api_url"`
	Enabled                  *bool    `yaml:"enabled"`
	FallbackMode             *string  `yaml:"fallback_mode"`
	FallbackLogPath          *string  `yaml:"fallback_log_path"`
	TimeoutSeconds           *float64 `yaml:"timeout_seconds"`
	AsyncMode                *bool    `yaml:"async_mode"`
	AsyncWorkers             *int     `yaml:"async_workers"`
	AsyncQueueSize           *int     `yaml:"async_queue_size"`
	MaxCandidatesFullCapture *int     `yaml:"max_candidates_full_capture"`
	SampleSizeLarge          *int     `yaml:"sample_size_large"`
	SampleSizeMedium         *int     `yaml:"sample_size_medium"`
	SampleStrategy           *string  `yaml:"sample_strategy"`
	Verbose                  *bool    `yaml:"verbose"`
}

// ApplyFile overlays the keys present in a YAML file onto c. Unknown keys are
// rejected.
func (c *Config) ApplyFile(path string) error {
	f, err := os.Open(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.APIURL != nil {
		c.APIURL = *fc.APIURL
	}
	if fc.Enabled != nil {
		c.Enabled = *fc.Enabled
	}
	if fc.FallbackMode != nil {
		m, err := ParseFallbackMode(*fc.FallbackMode)
		if err != nil {
			return fmt.Errorf("config: %s: %w", path, err)
		}
		c.FallbackMode = m
	}
	if fc.FallbackLogPath != nil {
		c.FallbackLogPath = *fc.FallbackLogPath
	}
	if fc.TimeoutSeconds != nil {
		c.Timeout = seconds(*fc.TimeoutSeconds)
	}
	if fc.AsyncMode != nil {
		c.AsyncMode = *fc.AsyncMode
	}
	if fc.AsyncWorkers != nil {
		c.AsyncWorkers = *fc.AsyncWorkers
	}
	if fc.AsyncQueueSize != nil {
		c.AsyncQueueSize = *fc.AsyncQueueSize
	}
	if fc.MaxCandidatesFullCapture != nil {
		c.MaxCandidatesFullCapture = *fc.MaxCandidatesFullCapture
	}
	if fc.SampleSizeLarge != nil {
		c.SampleSizeLarge = *fc.SampleSizeLarge
	}
	if fc.SampleSizeMedium != nil {
		c.SampleSizeMedium = *fc.SampleSizeMedium
	}
	if fc.SampleStrategy != nil {
		s, err := sampling.ParseStrategy(*fc.SampleStrategy)
		if err != nil {
			return fmt.Errorf("config: %s: %w", path, err)
		}
		c.SampleStrategy = s
	}
	if fc.Verbose != nil {
		c.Verbose = *fc.Verbose
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

// envSeconds parses a number of seconds ("5", "2.5"), or a Go duration ("1500ms").
func envSeconds(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return seconds(f), nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// MarshalYAML renders c in the shape ApplyFile reads, so a dumped
// configuration can be loaded back through XRAY_CONFIG_FILE.
func (c Config) MarshalYAML() (any, error) {
	mode := string(c.FallbackMode)
	strategy := string(c.SampleStrategy)
	timeout := c.Timeout.Seconds()
	return fileConfig{
		APIURL:                   &c.APIURL,
		Enabled:                  &c.Enabled,
		FallbackMode:             &mode,
		FallbackLogPath:          &c.FallbackLogPath,
		TimeoutSeconds:           &timeout,
		AsyncMode:                &c.AsyncMode,
		AsyncWorkers:             &c.AsyncWorkers,
		AsyncQueueSize:           &c.AsyncQueueSize,
		MaxCandidatesFullCapture: &c.MaxCandidatesFullCapture,
		SampleSizeLarge:          &c.SampleSizeLarge,
		SampleSizeMedium:         &c.SampleSizeMedium,
		SampleStrategy:           &strategy,
		Verbose:                  &c.Verbose,
	}, nil
}
