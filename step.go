package xray

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aniasusual/xray/internal/model"
	"github.com/aniasusual/xray/internal/sampling"
)

// StepScope is the handle for one step of a run. Create it with
// RunScope.NewStep, then Enter and Exit it once each, or use RunScope.Step.
//
// Mutators may be called until Exit; later calls are ignored. Methods on a
// nil *StepScope are no-ops, so xray.CurrentStep(ctx).SetReasoning(...) is
// safe without an active step.
type StepScope struct {
	run  *RunScope
	prev *StepScope

	mu      sync.Mutex
	step    *model.Step
	entered bool
	exited  bool
}

// Enter records the start time and returns a context in which this step is
// the current step. The step previously current in ctx becomes current again
// once this one exits.
func (s *StepScope) Enter(ctx context.Context) context.Context {
	if s == nil {
		return ctx
	}
	prev := CurrentStep(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entered || s.exited {
		s.logger().Debug("xray: step already entered", "step_id", s.step.ID, "step", s.step.StepName)
		return ctx
	}
	s.entered = true
	s.prev = prev
	s.step.Start(time.Now())
	return withStep(ctx, s)
}

// Exit records the end time, stores cause as the step's exception when it is
// non-nil, and attaches the step to its run. It returns cause unchanged.
// Calling Exit again does nothing.
func (s *StepScope) Exit(cause error) error {
	if s == nil {
		return cause
	}
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return cause
	}
	s.exited = true
	now := time.Now()
	if s.step.StartTime == nil {
		s.step.Start(now)
	}
	s.step.End(now)
	if cause != nil {
		s.step.RecordException(exceptionOf(cause))
	}
	step := s.step
	s.mu.Unlock()

	if ms, ok := step.DurationMs(); ok {
		s.logger().Debug("xray: step exited", "run_id", s.run.run.ID, "step_id", step.ID,
			"step", step.StepName, "sequence", step.Sequence, "duration_ms", ms)
	}
	s.run.attach(step)
	return cause
}

// ID returns the step's identifier.
func (s *StepScope) ID() uuid.UUID {
	if s == nil {
		return uuid.Nil
	}
	return s.step.ID
}

// Sequence returns the step's position within its run.
func (s *StepScope) Sequence() int {
	if s == nil {
		return -1
	}
	return s.step.Sequence
}

// Run returns the run this step belongs to.
func (s *StepScope) Run() *RunScope {
	if s == nil {
		return nil
	}
	return s.run
}

// Exited reports whether Exit has been called.
func (s *StepScope) Exited() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// Snapshot returns a copy of the step as recorded so far.
func (s *StepScope) Snapshot() Step {
	if s == nil {
		return Step{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step.Clone()
}

// SetInputs records what the step received.
func (s *StepScope) SetInputs(inputs map[string]any) {
	s.mutate("set_inputs", func(st *model.Step) { st.Inputs = model.CloneMap(inputs) })
}

// SetOutputs records what the step produced.
func (s *StepScope) SetOutputs(outputs map[string]any) {
	s.mutate("set_outputs", func(st *model.Step) { st.Outputs = model.CloneMap(outputs) })
}

// SetReasoning records why the step decided what it did.
func (s *StepScope) SetReasoning(reasoning string) {
	s.mutate("set_reasoning", func(st *model.Step) { st.Reasoning = reasoning })
}

// SetFilters records the filters the step applied.
func (s *StepScope) SetFilters(filters map[string]any) {
	s.mutate("set_filters", func(st *model.Step) { st.FiltersApplied = model.CloneMap(filters) })
}

// AddMetadata sets one metadata entry.
func (s *StepScope) AddMetadata(key string, value any) {
	s.mutate("add_metadata", func(st *model.Step) { st.Metadata[key] = value })
}

// UpdateMetadata merges md into the step's metadata.
func (s *StepScope) UpdateMetadata(md map[string]any) {
	s.mutate("update_metadata", func(st *model.Step) { maps.Copy(st.Metadata, model.CloneMap(md)) })
}

// SetCandidates records the funnel counts and attaches candidate data. Data
// larger than the configured full-capture threshold is sampled with the
// configured strategy unless WithoutSampling is given; sampling is noted in
// the step metadata and never changes in or out. The attached candidates are
// copied, so later changes to data do not reach the trace.
func (s *StepScope) SetCandidates(in, out int, data []Candidate, opts ...CandidateOption) error {
	if s == nil {
		return nil
	}
	cfg := s.run.tracer.cfg
	o := candidateOptions{sample: true, strategy: cfg.SampleStrategy}
	for _, fn := range opts {
		fn(&o)
	}

	attached := data
	var sampled bool
	if o.sample && len(data) > 0 && sampling.ShouldSample(data, cfg.MaxCandidatesFullCapture) {
		p := cfg.SamplingParams()
		p.StrataKey = o.strataKey
		p.PerStratum = o.perStratum
		attached = sampling.Apply(o.strategy, data, p)
		sampled = true
	}
	if attached != nil {
		owned := make([]Candidate, len(attached))
		for i, c := range attached {
			owned[i] = model.CloneMap(c)
		}
		attached = owned
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		s.logger().Debug("xray: ignoring change to exited step", "step_id", s.step.ID, "op", "set_candidates")
		return nil
	}
	if err := s.step.SetCandidates(in, out, attached); err != nil {
		return err
	}
	if sampled {
		s.step.RecordSampling(len(data), len(attached))
	}
	return nil
}

// SamplingSummary reports how much the attached candidate data was reduced.
// ok is false when no sampling was applied.
func (s *StepScope) SamplingSummary() (summary SamplingSummary, ok bool) {
	if s == nil {
		return SamplingSummary{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if applied, _ := s.step.Metadata[MetaSamplingApplied].(bool); !applied {
		return SamplingSummary{}, false
	}
	orig, _ := s.step.Metadata[MetaOriginalDataCount].(int)
	kept, _ := s.step.Metadata[MetaSampledDataCount].(int)
	return sampling.Summarize(orig, kept), true
}

func (s *StepScope) mutate(op string, fn func(*model.Step)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		s.logger().Debug("xray: ignoring change to exited step", "step_id", s.step.ID, "op", op)
		return
	}
	fn(s.step)
}

func (s *StepScope) logger() *slog.Logger {
	return s.run.tracer.logger
}
