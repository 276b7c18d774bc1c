package xray

import (
	"github.com/aniasusual/xray/internal/config"
	"github.com/aniasusual/xray/internal/delivery"
	"github.com/aniasusual/xray/internal/model"
	"github.com/aniasusual/xray/internal/sampling"
)

// Trace records. These alias the internal model so values built by the SDK
// can be inspected and encoded by callers without conversion.
type (
	Run       = model.Run
	Step      = model.Step
	Bundle    = model.Bundle
	Candidate = model.Candidate
)

// RunStatus is the lifecycle state of a run.
type RunStatus = model.RunStatus

const (
	StatusRunning = model.RunStatusRunning
	StatusSuccess = model.RunStatusSuccess
	StatusFailure = model.RunStatusFailure
	StatusPartial = model.RunStatusPartial
)

// StepType classifies a step so traces from different pipelines can be
// queried together.
type StepType = model.StepType

const (
	StepLLM       = model.StepTypeLLM
	StepSearch    = model.StepTypeSearch
	StepFilter    = model.StepTypeFilter
	StepRank      = model.StepTypeRank
	StepSelect    = model.StepTypeSelect
	StepTransform = model.StepTypeTransform
	StepCustom    = model.StepTypeCustom
)

// Metadata keys the SDK writes on steps.
const (
	MetaException         = model.MetaException
	MetaSamplingApplied   = model.MetaSamplingApplied
	MetaOriginalDataCount = model.MetaOriginalDataCount
	MetaSampledDataCount  = model.MetaSampledDataCount
)

// Config is the SDK configuration. Build one with DefaultConfig or
// LoadConfig and adjust fields before passing it to New or Configure.
type Config = config.Config

// FallbackMode selects what happens when a trace cannot be delivered.
type FallbackMode = config.FallbackMode

const (
	FallbackSilent = config.FallbackSilent
	FallbackLog    = config.FallbackLog
	FallbackRaise  = config.FallbackRaise
)

// SamplingStrategy names the algorithm used to bound attached candidate data.
type SamplingStrategy = sampling.Strategy

const (
	SampleSmart      = sampling.StrategySmart
	SampleHeadTail   = sampling.StrategyHeadTail
	SampleRandom     = sampling.StrategyRandom
	SampleStratified = sampling.StrategyStratified
)

// SamplingSummary reports how much a sample reduced the original data.
type SamplingSummary = sampling.Summary

// DeliveryError is a non-success response from the trace store.
type DeliveryError = delivery.Error

// ErrQueueFull is the fallback cause for runs refused by a full async queue.
var ErrQueueFull = delivery.ErrQueueFull

// ReplayResult counts the outcome of replaying fallback files.
type ReplayResult = delivery.ReplayResult

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads configuration from XRAY_* environment variables, overlaid
// on the YAML file named by XRAY_CONFIG_FILE when set.
func LoadConfig() (Config, error) { return config.Load() }

// EncodeBundle renders a bundle as the ingest request body.
func EncodeBundle(b *Bundle) ([]byte, error) { return model.Encode(b) }

// DecodeBundle parses and validates an ingest request body.
func DecodeBundle(data []byte) (*Bundle, error) { return model.Decode(data) }
