// Package model defines the trace records produced by an instrumented pipeline.
//
// A Run is one pipeline execution and owns an ordered list of Steps. Both types
// serialize to the ingest wire format consumed by the trace store: UUID ids,
// RFC 3339 timestamps, and JSON null for optional values that were never set.
// Derived values (durations, reduction rate) are computed on demand and never
// stored or serialized.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultPipelineVersion is used when a run is started without an explicit version.
const DefaultPipelineVersion = "1.0.0"

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailure RunStatus = "failure"
	RunStatusPartial RunStatus = "partial"
)

// Valid reports whether s is one of the known statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusSuccess, RunStatusFailure, RunStatusPartial:
		return true
	}
	return false
}

// Terminal reports whether s ends a run's lifecycle.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailure || s == RunStatusPartial
}

// ErrRunCompleted is returned when a terminal status is applied to a run that
// already has one.
var ErrRunCompleted = errors.New("model: run already completed")

// Run is one pipeline execution.
type Run struct {
	ID              uuid.UUID      `json:"id"`
	PipelineName    string         `json:"pipeline_name"`
	PipelineVersion string         `json:"pipeline_version"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time"`
	Status          RunStatus      `json:"status"`
	Metadata        map[string]any `json:"metadata"`
	FinalOutput     map[string]any `json:"final_output"`
}

// NewRun creates a running Run starting now. An empty version falls back to
// DefaultPipelineVersion; an empty pipeline name is rejected.
func NewRun(pipelineName, pipelineVersion string, metadata map[string]any) (*Run, error) {
	if pipelineName == "" {
		return nil, fmt.Errorf("model: pipeline_name is required")
	}
	if pipelineVersion == "" {
		pipelineVersion = DefaultPipelineVersion
	}
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &Run{
		ID:              uuid.New(),
		PipelineName:    pipelineName,
		PipelineVersion: pipelineVersion,
		StartTime:       time.Now().UTC(),
		Status:          RunStatusRunning,
		Metadata:        metadata,
	}, nil
}

// Finish applies a terminal status and end time. A run transitions out of
// RUNNING exactly once.
func (r *Run) Finish(status RunStatus, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("model: %q is not a terminal status", status)
	}
	if r.Status.Terminal() {
		return ErrRunCompleted
	}
	at = at.UTC()
	if at.Before(r.StartTime) {
		at = r.StartTime
	}
	r.Status = status
	r.EndTime = &at
	return nil
}

// DurationMs returns the run's wall time in milliseconds. ok is false while
// the run has no end time.
func (r *Run) DurationMs() (ms float64, ok bool) {
	if r.EndTime == nil {
		return 0, false
	}
	return durationMs(r.StartTime, *r.EndTime), true
}

// Validate checks the invariants a received or decoded run must satisfy.
func (r *Run) Validate() error {
	if r.PipelineName == "" {
		return fmt.Errorf("model: pipeline_name is required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("model: invalid run status %q", r.Status)
	}
	if r.EndTime != nil && r.EndTime.Before(r.StartTime) {
		return fmt.Errorf("model: run end_time precedes start_time")
	}
	return nil
}

func durationMs(start, end time.Time) float64 {
	return float64(end.Sub(start)) / float64(time.Millisecond)
}
