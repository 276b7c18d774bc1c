package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepType is the standardized category of a step, used to query across pipelines.
type StepType string

const (
	StepTypeLLM       StepType = "llm"
	StepTypeSearch    StepType = "search"
	StepTypeFilter    StepType = "filter"
	StepTypeRank      StepType = "rank"
	StepTypeSelect    StepType = "select"
	StepTypeTransform StepType = "transform"
	StepTypeCustom    StepType = "custom"
)

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeLLM, StepTypeSearch, StepTypeFilter, StepTypeRank,
		StepTypeSelect, StepTypeTransform, StepTypeCustom:
		return true
	}
	return false
}

// Candidate is one item flowing through a filtering or selection step.
type Candidate = map[string]any

// Metadata keys written by the tracing layer itself.
const (
	MetaException         = "exception"
	MetaSamplingApplied   = "sampling_applied"
	MetaOriginalDataCount = "original_data_count"
	MetaSampledDataCount  = "sampled_data_count"
)

// Step is one stage inside a Run.
type Step struct {
	ID             uuid.UUID      `json:"id"`
	RunID          *uuid.UUID     `json:"run_id"`
	StepName       string         `json:"step_name"`
	StepType       StepType       `json:"step_type"`
	Sequence       int            `json:"sequence"`
	StartTime      *time.Time     `json:"start_time"`
	EndTime        *time.Time     `json:"end_time"`
	Inputs         map[string]any `json:"inputs"`
	Outputs        map[string]any `json:"outputs"`
	Reasoning      string         `json:"reasoning"`
	CandidatesIn   *int           `json:"candidates_in"`
	CandidatesOut  *int           `json:"candidates_out"`
	CandidatesData []Candidate    `json:"candidates_data"`
	FiltersApplied map[string]any `json:"filters_applied"`
	Metadata       map[string]any `json:"metadata"`
}

// NewStep creates an unattached step. The sequence is assigned by the owning
// run, never chosen by instrumented code. An empty type means StepTypeCustom.
func NewStep(name string, stepType StepType, sequence int) (*Step, error) {
	if name == "" {
		return nil, fmt.Errorf("model: step_name is required")
	}
	if stepType == "" {
		stepType = StepTypeCustom
	}
	if !stepType.Valid() {
		return nil, fmt.Errorf("model: invalid step type %q", stepType)
	}
	if sequence < 0 {
		return nil, fmt.Errorf("model: sequence must be non-negative (got %d)", sequence)
	}
	return &Step{
		ID:             uuid.New(),
		StepName:       name,
		StepType:       stepType,
		Sequence:       sequence,
		Inputs:         make(map[string]any),
		Outputs:        make(map[string]any),
		FiltersApplied: make(map[string]any),
		Metadata:       make(map[string]any),
	}, nil
}

// Start records the step's start time.
func (s *Step) Start(at time.Time) {
	at = at.UTC()
	s.StartTime = &at
}

// End records the step's end time, clamped so it never precedes the start.
func (s *Step) End(at time.Time) {
	at = at.UTC()
	if s.StartTime == nil {
		s.StartTime = &at
	} else if at.Before(*s.StartTime) {
		at = *s.StartTime
	}
	s.EndTime = &at
}

// SetCandidates records the funnel counts and the (possibly sampled) data
// attached to this step.
func (s *Step) SetCandidates(in, out int, data []Candidate) error {
	if in < 0 || out < 0 {
		return fmt.Errorf("model: candidate counts must be non-negative (in=%d, out=%d)", in, out)
	}
	s.CandidatesIn = &in
	s.CandidatesOut = &out
	s.CandidatesData = data
	return nil
}

// RecordSampling notes in the step metadata that the attached candidate data
// was reduced from original to sampled items.
func (s *Step) RecordSampling(original, sampled int) {
	s.Metadata[MetaSamplingApplied] = true
	s.Metadata[MetaOriginalDataCount] = original
	s.Metadata[MetaSampledDataCount] = sampled
}

// RecordException stores a failure that escaped the step's scope.
func (s *Step) RecordException(typeName, message string) {
	s.Metadata[MetaException] = map[string]any{
		"type":    typeName,
		"message": message,
	}
}

// DurationMs returns the step's wall time in milliseconds. ok is false until
// both start and end times are set.
func (s *Step) DurationMs() (ms float64, ok bool) {
	if s.StartTime == nil || s.EndTime == nil {
		return 0, false
	}
	return durationMs(*s.StartTime, *s.EndTime), true
}

// ReductionRate returns the fraction of candidates eliminated by this step,
// (in-out)/in. ok is false when counts are absent or in is zero.
func (s *Step) ReductionRate() (rate float64, ok bool) {
	if s.CandidatesIn == nil || s.CandidatesOut == nil || *s.CandidatesIn <= 0 {
		return 0, false
	}
	in := float64(*s.CandidatesIn)
	return (in - float64(*s.CandidatesOut)) / in, true
}

// Validate checks the invariants a received or decoded step must satisfy.
func (s *Step) Validate() error {
	if s.StepName == "" {
		return fmt.Errorf("model: step_name is required")
	}
	if !s.StepType.Valid() {
		return fmt.Errorf("model: step %q: invalid step type %q", s.StepName, s.StepType)
	}
	if s.Sequence < 0 {
		return fmt.Errorf("model: step %q: sequence must be non-negative", s.StepName)
	}
	if s.CandidatesIn != nil && *s.CandidatesIn < 0 {
		return fmt.Errorf("model: step %q: candidates_in must be non-negative", s.StepName)
	}
	if s.CandidatesOut != nil && *s.CandidatesOut < 0 {
		return fmt.Errorf("model: step %q: candidates_out must be non-negative", s.StepName)
	}
	if s.StartTime != nil && s.EndTime != nil && s.EndTime.Before(*s.StartTime) {
		return fmt.Errorf("model: step %q: end_time precedes start_time", s.StepName)
	}
	return nil
}
