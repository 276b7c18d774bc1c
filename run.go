package xray

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aniasusual/xray/internal/model"
)

var (
	// ErrRunEnded is returned when a step is created on a run whose scope has
	// already ended.
	ErrRunEnded = errors.New("xray: run has ended")

	// ErrRunCompleted is returned when a run that already reached a terminal
	// status is completed again.
	ErrRunCompleted = model.ErrRunCompleted
)

// RunScope is the handle for an active run. It is created by StartRun or
// Tracer.Run and finished exactly once by End.
//
// Methods on a nil *RunScope are no-ops, so code can write
// xray.CurrentRun(ctx).SetMetadata(...) without checking for an active run.
type RunScope struct {
	tracer   *Tracer
	prev     *RunScope
	autoSend bool

	mu      sync.Mutex
	run     *model.Run
	steps   []*model.Step // attached in exit order; written only by StepScope.Exit
	nextSeq int
	ended   bool
}

// StartRun creates a run in the running state and returns a context in which
// it is the current run. The run previously current in ctx, if any, becomes
// current again once this one ends. Every successful StartRun must be paired
// with End.
func (t *Tracer) StartRun(ctx context.Context, pipeline string, opts ...RunOption) (context.Context, *RunScope, error) {
	o := runOptions{autoSend: true}
	for _, fn := range opts {
		fn(&o)
	}

	run, err := model.NewRun(pipeline, o.version, o.metadata)
	if err != nil {
		return ctx, nil, err
	}
	r := &RunScope{
		tracer:   t,
		prev:     CurrentRun(ctx),
		autoSend: o.autoSend,
		run:      run,
	}
	t.logger.Debug("xray: run started", "run_id", run.ID, "pipeline", pipeline)
	return withRun(ctx, r), r, nil
}

// Run executes fn inside a run scope. The run ends with status success when
// fn returns nil and failure otherwise. fn's error is returned unchanged; a
// panic in fn marks the run failed and is re-raised after the run is ended.
// A delivery error is returned only in raise mode and only when fn succeeded.
func (t *Tracer) Run(ctx context.Context, pipeline string, fn func(context.Context, *RunScope) error, opts ...RunOption) error {
	ctx, r, err := t.StartRun(ctx, pipeline, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = r.End(ctx, panicError{value: p})
			panic(p)
		}
	}()
	return r.End(ctx, fn(ctx, r))
}

// ID returns the run's identifier.
func (r *RunScope) ID() uuid.UUID {
	if r == nil {
		return uuid.Nil
	}
	return r.run.ID
}

// Pipeline returns the pipeline name.
func (r *RunScope) Pipeline() string {
	if r == nil {
		return ""
	}
	return r.run.PipelineName
}

// Status returns the run's current status.
func (r *RunScope) Status() RunStatus {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run.Status
}

// Ended reports whether End has been called.
func (r *RunScope) Ended() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

// SetMetadata sets one run metadata entry.
func (r *RunScope) SetMetadata(key string, value any) {
	r.mutate("set_metadata", func(run *model.Run) { run.Metadata[key] = value })
}

// SetFinalOutput records the pipeline's final result.
func (r *RunScope) SetFinalOutput(output map[string]any) {
	r.mutate("set_final_output", func(run *model.Run) { run.FinalOutput = model.CloneMap(output) })
}

func (r *RunScope) mutate(op string, fn func(*model.Run)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		r.tracer.logger.Debug("xray: ignoring change to ended run", "run_id", r.run.ID, "op", op)
		return
	}
	fn(r.run)
}

// Complete sets a terminal status explicitly, optionally with the final
// output. It is the only way to reach StatusPartial. End keeps the status set
// here regardless of the error it is given.
func (r *RunScope) Complete(status RunStatus, finalOutput map[string]any) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return ErrRunEnded
	}
	if err := r.run.Finish(status, time.Now()); err != nil {
		return err
	}
	if finalOutput != nil {
		r.run.FinalOutput = model.CloneMap(finalOutput)
	}
	return nil
}

// NewStep creates a step bound to this run with the next sequence number.
// The step is attached to the run when it exits.
func (r *RunScope) NewStep(name string, typ StepType) (*StepScope, error) {
	if r == nil {
		return nil, errors.New("xray: no active run")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return nil, ErrRunEnded
	}
	step, err := model.NewStep(name, typ, r.nextSeq)
	if err != nil {
		return nil, err
	}
	r.nextSeq++
	return &StepScope{run: r, step: step}, nil
}

// Step executes fn inside a step scope created on this run. fn's error is
// recorded on the step and returned unchanged; a panic is recorded and
// re-raised after the step exits.
func (r *RunScope) Step(ctx context.Context, name string, typ StepType, fn func(context.Context, *StepScope) error) error {
	s, err := r.NewStep(name, typ)
	if err != nil {
		return err
	}
	ctx = s.Enter(ctx)
	defer func() {
		if p := recover(); p != nil {
			_ = s.Exit(panicError{value: p})
			panic(p)
		}
	}()
	return s.Exit(fn(ctx, s))
}

// Steps returns copies of the steps attached so far, in sequence order.
func (r *RunScope) Steps() []Step {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.NewBundle(r.run, r.steps).Steps
}

// Snapshot returns a copy of the run and its attached steps.
func (r *RunScope) Snapshot() *Bundle {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.NewBundle(r.run, r.steps)
}

// End finishes the run. If cause is nil the status becomes success, otherwise
// failure, unless Complete already set a terminal status. Registered hooks
// run, then the run is delivered when auto-send is on: in the background in
// async mode, otherwise before End returns.
//
// End returns cause unchanged when it is non-nil, so a delivery problem never
// masks the application's error. Otherwise it returns the delivery error,
// which only raise mode produces. Calling End again returns cause and does
// nothing else.
func (r *RunScope) End(ctx context.Context, cause error) error {
	if r == nil {
		return cause
	}
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return cause
	}
	r.ended = true
	now := time.Now()
	if r.run.Status.Terminal() {
		end := now
		if end.Before(r.run.StartTime) {
			end = r.run.StartTime
		}
		r.run.EndTime = &end
	} else {
		status := StatusSuccess
		if cause != nil {
			status = StatusFailure
		}
		_ = r.run.Finish(status, now)
	}
	bundle := model.NewBundle(r.run, r.steps)
	r.mu.Unlock()

	t := r.tracer
	logger := t.logger.With("run_id", bundle.Run.ID, "pipeline", bundle.Run.PipelineName)
	if ms, ok := bundle.Run.DurationMs(); ok {
		logger.Debug("xray: run ended", "status", bundle.Run.Status, "steps", len(bundle.Steps), "duration_ms", ms)
	}

	for _, h := range t.hooks {
		if err := h.OnRunEnd(ctx, bundle); err != nil {
			logger.Warn("xray: run hook failed", "error", err)
		}
	}

	if !r.autoSend || !t.cfg.Enabled {
		return cause
	}
	if t.cfg.AsyncMode {
		t.sender.SendAsync(ctx, bundle)
		return cause
	}

	_, err := t.sender.Send(ctx, bundle)
	if cause != nil {
		if err != nil {
			logger.Warn("xray: delivery failed while run was failing", "error", err)
		}
		return cause
	}
	if err != nil {
		return fmt.Errorf("xray: deliver run %s: %w", bundle.Run.ID, err)
	}
	return nil
}

// attach appends an exited step. Steps exiting after their run ended are
// dropped.
func (r *RunScope) attach(s *model.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		r.tracer.logger.Warn("xray: step exited after its run ended, dropping",
			"run_id", r.run.ID, "step_id", s.ID, "step", s.StepName)
		return
	}
	r.steps = append(r.steps, s)
}

// panicError carries a recovered panic value through End and Exit so it is
// recorded as a failure.
type panicError struct {
	value any
}

func (p panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// exceptionOf describes a failure for the step's exception metadata. The
// message is the full error text; the type is that of the outermost error
// that is not an fmt.Errorf wrapper.
func exceptionOf(err error) (typeName, message string) {
	var p panicError
	if errors.As(err, &p) {
		if e, ok := p.value.(error); ok {
			return errorType(e), e.Error()
		}
		return fmt.Sprintf("%T", p.value), fmt.Sprint(p.value)
	}
	return errorType(err), err.Error()
}

func errorType(err error) string {
	for e := err; e != nil; {
		name := fmt.Sprintf("%T", e)
		if !strings.HasPrefix(name, "*fmt.") {
			return name
		}
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			e = u.Unwrap()
		case interface{ Unwrap() []error }:
			if errs := u.Unwrap(); len(errs) > 0 {
				e = errs[0]
				continue
			}
			e = nil
		default:
			e = nil
		}
	}
	return fmt.Sprintf("%T", err)
}
