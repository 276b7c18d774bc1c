package xray_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/aniasusual/xray"
)

// ---- helpers ---------------------------------------------------------------

// recorder is a RunHook that keeps every bundle it sees.
type recorder struct {
	mu      sync.Mutex
	bundles []*xray.Bundle
}

func (r *recorder) OnRunEnd(_ context.Context, b *xray.Bundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundles = append(r.bundles, b)
	return nil
}

func (r *recorder) all() []*xray.Bundle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*xray.Bundle(nil), r.bundles...)
}

func (r *recorder) last(t *testing.T) *xray.Bundle {
	t.Helper()
	all := r.all()
	require.NotEmpty(t, all, "no run ended")
	return all[len(all)-1]
}

// fakeSender records bundles instead of delivering them.
type fakeSender struct {
	mu    sync.Mutex
	sent  []*xray.Bundle
	async int
	err   error
}

func (f *fakeSender) Send(_ context.Context, b *xray.Bundle) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, b)
	return f.err == nil, f.err
}

func (f *fakeSender) SendAsync(_ context.Context, b *xray.Bundle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.async++
	f.sent = append(f.sent, b)
}

func (f *fakeSender) Flush(context.Context) error { return nil }

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func syncConfig() xray.Config {
	cfg := xray.DefaultConfig()
	cfg.AsyncMode = false
	return cfg
}

func newTracer(t *testing.T, cfg xray.Config, opts ...xray.Option) *xray.Tracer {
	t.Helper()
	opts = append([]xray.Option{xray.WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	tr, err := xray.New(cfg, opts...)
	require.NoError(t, err)
	return tr
}

// hooked returns a tracer with a fake sender and a recorder hook.
func hooked(t *testing.T) (*xray.Tracer, *recorder, *fakeSender) {
	t.Helper()
	rec := &recorder{}
	fs := &fakeSender{}
	return newTracer(t, syncConfig(), xray.WithSender(fs), xray.WithRunHook(rec)), rec, fs
}

func exception(t *testing.T, s xray.Step) map[string]any {
	t.Helper()
	exc, ok := s.Metadata[xray.MetaException].(map[string]any)
	require.True(t, ok, "step %q has no exception metadata", s.StepName)
	return exc
}

type budgetError struct{ limit int }

func (e *budgetError) Error() string { return fmt.Sprintf("budget of %d exceeded", e.limit) }

// ---- context stack ---------------------------------------------------------

func TestNoCurrentRunByDefault(t *testing.T) {
	assert.Nil(t, xray.CurrentRun(context.Background()))
	assert.Nil(t, xray.CurrentStep(context.Background()))
}

func TestNestedRunsRestorePrevious(t *testing.T) {
	tr, _, _ := hooked(t)

	ctxA, a, err := tr.StartRun(context.Background(), "outer", xray.WithAutoSend(false))
	require.NoError(t, err)
	assert.Same(t, a, xray.CurrentRun(ctxA))

	ctxB, b, err := tr.StartRun(ctxA, "inner", xray.WithAutoSend(false))
	require.NoError(t, err)
	assert.Same(t, b, xray.CurrentRun(ctxB))
	assert.Same(t, a, xray.CurrentRun(ctxA), "outer context is unaffected")

	require.NoError(t, b.End(ctxB, nil))
	assert.Same(t, a, xray.CurrentRun(ctxB), "ending B restores A")

	require.NoError(t, a.End(ctxA, nil))
	assert.Nil(t, xray.CurrentRun(ctxB), "ending A restores no current run")
	assert.Nil(t, xray.CurrentRun(ctxA))
}

func TestNestedStepsRestorePrevious(t *testing.T) {
	tr, _, _ := hooked(t)
	ctx, run, err := tr.StartRun(context.Background(), "p")
	require.NoError(t, err)

	outer, err := run.NewStep("outer", xray.StepCustom)
	require.NoError(t, err)
	ctxO := outer.Enter(ctx)

	inner, err := run.NewStep("inner", xray.StepCustom)
	require.NoError(t, err)
	ctxI := inner.Enter(ctxO)
	assert.Same(t, inner, xray.CurrentStep(ctxI))

	require.NoError(t, inner.Exit(nil))
	assert.Same(t, outer, xray.CurrentStep(ctxI))

	require.NoError(t, outer.Exit(nil))
	assert.Nil(t, xray.CurrentStep(ctxI))
	require.NoError(t, run.End(ctx, nil))
}

func TestAmbientLookupFromHelpers(t *testing.T) {
	tr, rec, _ := hooked(t)

	annotate := func(ctx context.Context) {
		xray.CurrentRun(ctx).SetMetadata("annotated", true)
		xray.CurrentStep(ctx).SetReasoning("set by a helper")
	}

	err := tr.Run(context.Background(), "p", func(ctx context.Context, run *xray.RunScope) error {
		return run.Step(ctx, "rank", xray.StepRank, func(ctx context.Context, _ *xray.StepScope) error {
			annotate(ctx)
			return nil
		})
	})
	require.NoError(t, err)

	b := rec.last(t)
	assert.Equal(t, true, b.Run.Metadata["annotated"])
	assert.Equal(t, "set by a helper", b.Steps[0].Reasoning)
}

func TestNilScopesAreNoops(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		xray.CurrentRun(ctx).SetMetadata("k", "v")
		xray.CurrentRun(ctx).SetFinalOutput(map[string]any{"x": 1})
		xray.CurrentStep(ctx).SetReasoning("r")
		xray.CurrentStep(ctx).AddMetadata("k", "v")
		_ = xray.CurrentStep(ctx).SetCandidates(1, 1, nil)
	})
	_, err := xray.CurrentRun(ctx).NewStep("s", xray.StepCustom)
	assert.Error(t, err)
}

// ---- run lifecycle ---------------------------------------------------------

func TestStepSequenceNumbers(t *testing.T) {
	tr, rec, _ := hooked(t)

	err := tr.Run(context.Background(), "p", func(ctx context.Context, run *xray.RunScope) error {
		for i := range 5 {
			err := run.Step(ctx, fmt.Sprintf("step-%d", i), xray.StepTransform, func(context.Context, *xray.StepScope) error {
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	b := rec.last(t)
	assert.Equal(t, xray.StatusSuccess, b.Run.Status)
	require.NotNil(t, b.Run.EndTime)
	require.Len(t, b.Steps, 5)
	for i, s := range b.Steps {
		assert.Equal(t, i, s.Sequence)
		assert.Equal(t, fmt.Sprintf("step-%d", i), s.StepName)
		require.NotNil(t, s.RunID)
		assert.Equal(t, b.Run.ID, *s.RunID)
		assert.NotNil(t, s.StartTime)
		assert.NotNil(t, s.EndTime)
	}
	assert.NoError(t, b.Validate())
}

func TestStepErrorPropagates(t *testing.T) {
	tr, rec, _ := hooked(t)
	appErr := &budgetError{limit: 3}

	err := tr.Run(context.Background(), "p", func(ctx context.Context, run *xray.RunScope) error {
		return run.Step(ctx, "llm", xray.StepLLM, func(context.Context, *xray.StepScope) error {
			return appErr
		})
	})
	assert.Same(t, appErr, err, "the error reaches the caller unchanged")

	b := rec.last(t)
	assert.Equal(t, xray.StatusFailure, b.Run.Status)
	require.Len(t, b.Steps, 1)
	exc := exception(t, b.Steps[0])
	assert.Equal(t, "*xray_test.budgetError", exc["type"])
	assert.Equal(t, "budget of 3 exceeded", exc["message"])
}

func TestPanicIsRecordedAndReraised(t *testing.T) {
	tr, rec, _ := hooked(t)

	assert.PanicsWithValue(t, "boom", func() {
		_ = tr.Run(context.Background(), "p", func(ctx context.Context, run *xray.RunScope) error {
			return run.Step(ctx, "select", xray.StepSelect, func(context.Context, *xray.StepScope) error {
				panic("boom")
			})
		})
	})

	b := rec.last(t)
	assert.Equal(t, xray.StatusFailure, b.Run.Status)
	require.Len(t, b.Steps, 1)
	exc := exception(t, b.Steps[0])
	assert.Equal(t, "string", exc["type"])
	assert.Equal(t, "boom", exc["message"])
}

func TestPanicWithErrorValue(t *testing.T) {
	tr, rec, _ := hooked(t)
	appErr := &budgetError{limit: 1}

	assert.PanicsWithError(t, appErr.Error(), func() {
		_ = tr.Run(context.Background(), "p", func(ctx context.Context, run *xray.RunScope) error {
			return run.Step(ctx, "s", xray.StepCustom, func(context.Context, *xray.StepScope) error {
				panic(appErr)
			})
		})
	})
	assert.Equal(t, "*xray_test.budgetError", exception(t, rec.last(t).Steps[0])["type"])
}

func TestWrappedErrorRecordsUnderlyingType(t *testing.T) {
	tr, rec, _ := hooked(t)
	appErr := fmt.Errorf("rank listings: %w", fmt.Errorf("call model: %w", &budgetError{limit: 2}))

	err := tr.Run(context.Background(), "p", func(ctx context.Context, run *xray.RunScope) error {
		return run.Step(ctx, "rank", xray.StepRank, func(context.Context, *xray.StepScope) error {
			return appErr
		})
	})
	require.ErrorIs(t, err, appErr)

	exc := exception(t, rec.last(t).Steps[0])
	assert.Equal(t, "*xray_test.budgetError", exc["type"])
	assert.Equal(t, "rank listings: call model: budget of 2 exceeded", exc["message"])
}

func TestSnapshotsDoNotShareNestedValues(t *testing.T) {
	tr, rec, _ := hooked(t)
	listing := xray.Candidate{"asin": "B1", "tags": []any{"stand"}}

	err := tr.Run(context.Background(), "p", func(ctx context.Context, run *xray.RunScope) error {
		_ = run.Step(ctx, "filter", xray.StepFilter, func(_ context.Context, s *xray.StepScope) error {
			s.SetInputs(map[string]any{"query": map[string]any{"q": "laptop"}})
			require.NoError(t, s.SetCandidates(1, 1, []xray.Candidate{listing}))
			return errors.New("filter failed")
		})

		listing["tags"].([]any)[0] = "changed"

		first := run.Snapshot()
		exception(t, first.Steps[0])["type"] = "changed"
		first.Steps[0].Inputs["query"].(map[string]any)["q"] = "changed"
		first.Steps[0].CandidatesData[0]["asin"] = "changed"

		second := run.Snapshot()
		assert.Equal(t, "*errors.errorString", exception(t, second.Steps[0])["type"])
		assert.Equal(t, "laptop", second.Steps[0].Inputs["query"].(map[string]any)["q"])
		assert.Equal(t, "B1", second.Steps[0].CandidatesData[0]["asin"])
		assert.Equal(t, "stand", second.Steps[0].CandidatesData[0]["tags"].([]any)[0])
		return nil
	})
	require.NoError(t, err)

	delivered := rec.last(t).Steps[0]
	assert.Equal(t, "B1", delivered.CandidatesData[0]["asin"])
	assert.Equal(t, "stand", delivered.CandidatesData[0]["tags"].([]any)[0])
}

func TestCompletePartial(t *testing.T) {
	tr, rec, _ := hooked(t)
	appErr := errors.New("ranker timed out")

	err := tr.Run(context.Background(), "p", func(ctx context.Context, run *xray.RunScope) error {
		require.NoError(t, run.Complete(xray.StatusPartial, map[string]any{"best_effort": "B01"}))
		assert.ErrorIs(t, run.Complete(xray.StatusSuccess, nil), xray.ErrRunCompleted)
		return appErr
	})
	assert.Same(t, appErr, err)

	b := rec.last(t)
	assert.Equal(t, xray.StatusPartial, b.Run.Status, "explicit completion wins over the escaping error")
	assert.Equal(t, "B01", b.Run.FinalOutput["best_effort"])
	require.NotNil(t, b.Run.EndTime)
}

func TestCompleteRejectsRunning(t *testing.T) {
	tr, _, _ := hooked(t)
	ctx, run, err := tr.StartRun(context.Background(), "p")
	require.NoError(t, err)
	assert.Error(t, run.Complete(xray.StatusRunning, nil))
	require.NoError(t, run.End(ctx, nil))
	assert.ErrorIs(t, run.Complete(xray.StatusSuccess, nil), xray.ErrRunEnded)
}

func TestEndedRunRejectsChanges(t *testing.T) {
	tr, rec, fs := hooked(t)
	ctx, run, err := tr.StartRun(context.Background(), "p")
	require.NoError(t, err)
	require.NoError(t, run.End(ctx, nil))

	_, err = run.NewStep("late", xray.StepCustom)
	assert.ErrorIs(t, err, xray.ErrRunEnded)

	run.SetMetadata("late", true)
	assert.NotContains(t, rec.last(t).Run.Metadata, "late")

	require.NoError(t, run.End(ctx, nil), "second End is a no-op")
	assert.Equal(t, 1, fs.count())
}

func TestStepExitedAfterRunEndIsDropped(t *testing.T) {
	tr, rec, _ := hooked(t)
	ctx, run, err := tr.StartRun(context.Background(), "p")
	require.NoError(t, err)

	step, err := run.NewStep("straggler", xray.StepCustom)
	require.NoError(t, err)
	step.Enter(ctx)
	require.NoError(t, run.End(ctx, nil))
	require.NoError(t, step.Exit(nil))

	assert.Empty(t, rec.last(t).Steps)
	assert.Empty(t, run.Steps())
}

func TestValidationErrors(t *testing.T) {
	tr, _, _ := hooked(t)

	_, _, err := tr.StartRun(context.Background(), "")
	assert.Error(t, err)
	assert.Error(t, tr.Run(context.Background(), "", func(context.Context, *xray.RunScope) error { return nil }))

	ctx, run, err := tr.StartRun(context.Background(), "p")
	require.NoError(t, err)
	_, err = run.NewStep("", xray.StepCustom)
	assert.Error(t, err)
	_, err = run.NewStep("s", xray.StepType("magic"))
	assert.Error(t, err)

	// Rejected steps do not consume sequence numbers.
	s, err := run.NewStep("s", xray.StepCustom)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Sequence())
	require.NoError(t, run.End(ctx, nil))
}

func TestStepMutatorsAfterExitAreIgnored(t *testing.T) {
	tr, rec, _ := hooked(t)
	var kept *xray.StepScope

	err := tr.Run(context.Background(), "p", func(ctx context.Context, run *xray.RunScope) error {
		err := run.Step(ctx, "s", xray.StepFilter, func(_ context.Context, s *xray.StepScope) error {
			s.SetInputs(map[string]any{"q": "laptop stand"})
			s.SetOutputs(map[string]any{"n": 2})
			s.SetFilters(map[string]any{"min_rating": 4.0})
			s.UpdateMetadata(map[string]any{"a": 1, "b": 2})
			kept = s
			return nil
		})
		kept.SetReasoning("too late")
		kept.AddMetadata("late", true)
		return err
	})
	require.NoError(t, err)

	st := rec.last(t).Steps[0]
	assert.Equal(t, "laptop stand", st.Inputs["q"])
	assert.Equal(t, 2, st.Outputs["n"])
	assert.Equal(t, 4.0, st.FiltersApplied["min_rating"])
	assert.Equal(t, 1, st.Metadata["a"])
	assert.Empty(t, st.Reasoning)
	assert.NotContains(t, st.Metadata, "late")
}

func TestRunOptions(t *testing.T) {
	tr, rec, fs := hooked(t)
	md := map[string]any{"user": "u1"}

	err := tr.Run(context.Background(), "p", func(ctx context.Context, run *xray.RunScope) error {
		run.SetFinalOutput(map[string]any{"selected": "B09X"})
		return nil
	}, xray.WithVersion("2.1.0"), xray.WithMetadata(md), xray.WithAutoSend(false))
	require.NoError(t, err)
	md["user"] = "mutated"

	b := rec.last(t)
	assert.Equal(t, "2.1.0", b.Run.PipelineVersion)
	assert.Equal(t, "u1", b.Run.Metadata["user"])
	assert.Equal(t, "B09X", b.Run.FinalOutput["selected"])
	assert.Zero(t, fs.count(), "auto-send disabled")
}

// ---- concurrency -----------------------------------------------------------

func TestConcurrentRunsAreIsolated(t *testing.T) {
	tr, rec, _ := hooked(t)

	var g errgroup.Group
	for i := range 20 {
		name := fmt.Sprintf("pipeline-%02d", i)
		g.Go(func() error {
			return tr.Run(context.Background(), name, func(ctx context.Context, run *xray.RunScope) error {
				for j := range 3 {
					err := run.Step(ctx, fmt.Sprintf("%s/%d", name, j), xray.StepCustom, func(ctx context.Context, s *xray.StepScope) error {
						time.Sleep(time.Millisecond)
						if got := xray.CurrentRun(ctx).Pipeline(); got != name {
							return fmt.Errorf("flow %s saw run %s", name, got)
						}
						if xray.CurrentStep(ctx) != s {
							return fmt.Errorf("flow %s saw a foreign step", name)
						}
						return nil
					})
					if err != nil {
						return err
					}
				}
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())

	bundles := rec.all()
	require.Len(t, bundles, 20)
	for _, b := range bundles {
		require.Len(t, b.Steps, 3)
		for j, s := range b.Steps {
			assert.Equal(t, fmt.Sprintf("%s/%d", b.Run.PipelineName, j), s.StepName)
			assert.Equal(t, j, s.Sequence)
		}
	}
}

func TestGoroutineInheritsSnapshotOfContext(t *testing.T) {
	tr, _, _ := hooked(t)
	ctx, run, err := tr.StartRun(context.Background(), "parent", xray.WithAutoSend(false))
	require.NoError(t, err)

	var g errgroup.Group
	g.Go(func() error {
		// A nested run started by the helper is visible only in its context.
		inner, r2, err := tr.StartRun(ctx, "child", xray.WithAutoSend(false))
		if err != nil {
			return err
		}
		defer func() { _ = r2.End(inner, nil) }()
		if xray.CurrentRun(inner) != r2 {
			return errors.New("child not current in its own context")
		}
		return nil
	})
	require.NoError(t, g.Wait())
	assert.Same(t, run, xray.CurrentRun(ctx))
	require.NoError(t, run.End(ctx, nil))
}

// ---- delivery from run end -------------------------------------------------

func TestRaiseModePrioritizesApplicationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cfg := syncConfig()
	cfg.APIURL = srv.URL
	cfg.FallbackMode = xray.FallbackRaise
	tr := newTracer(t, cfg)

	err := tr.Run(context.Background(), "ok-body", func(context.Context, *xray.RunScope) error { return nil })
	require.Error(t, err, "raise mode surfaces the delivery failure when the body succeeded")
	var derr *xray.DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, http.StatusInternalServerError, derr.StatusCode)

	appErr := &budgetError{limit: 9}
	err = tr.Run(context.Background(), "failing-body", func(context.Context, *xray.RunScope) error { return appErr })
	assert.Same(t, appErr, err, "the application error wins over the delivery error")
}

func TestSilentModeNeverFailsTheCaller(t *testing.T) {
	cfg := syncConfig()
	cfg.APIURL = "http://127.0.0.1:1"
	cfg.Timeout = 200 * time.Millisecond
	tr := newTracer(t, cfg)

	err := tr.Run(context.Background(), "p", func(context.Context, *xray.RunScope) error { return nil })
	assert.NoError(t, err)
}

type countingTransport struct {
	calls atomic.Int64
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return http.DefaultTransport.RoundTrip(r)
}

func TestDisabledTracingIsAbsent(t *testing.T) {
	rt := &countingTransport{}
	rec := &recorder{}
	cfg := syncConfig()
	cfg.Enabled = false
	cfg.FallbackMode = xray.FallbackRaise
	tr := newTracer(t, cfg, xray.WithHTTPClient(&http.Client{Transport: rt}), xray.WithRunHook(rec))

	err := tr.Run(context.Background(), "p", func(ctx context.Context, run *xray.RunScope) error {
		return run.Step(ctx, "s", xray.StepCustom, func(context.Context, *xray.StepScope) error { return nil })
	})
	require.NoError(t, err)

	ok, err := tr.Send(context.Background(), rec.last(t))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, rt.calls.Load())
}

func TestAsyncModeDeliversAfterFlush(t *testing.T) {
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if _, err := xray.DecodeBundle(body); err == nil {
			received.Add(1)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	cfg := xray.DefaultConfig()
	cfg.APIURL = srv.URL
	require.True(t, cfg.AsyncMode)
	tr := newTracer(t, cfg)

	for range 3 {
		require.NoError(t, tr.Run(context.Background(), "p", func(context.Context, *xray.RunScope) error { return nil }))
	}
	require.NoError(t, tr.Flush(context.Background()))
	assert.Equal(t, int64(3), received.Load())
}

func TestHookErrorsAreContained(t *testing.T) {
	fs := &fakeSender{}
	failing := xray.RunHookFunc(func(context.Context, *xray.Bundle) error { return errors.New("hook down") })
	tr := newTracer(t, syncConfig(), xray.WithSender(fs), xray.WithRunHook(failing))

	require.NoError(t, tr.Run(context.Background(), "p", func(context.Context, *xray.RunScope) error { return nil }))
	assert.Equal(t, 1, fs.count())
}

// ---- process default -------------------------------------------------------

func TestDefaultConfigureReset(t *testing.T) {
	t.Setenv("XRAY_ENABLED", "false")
	xray.Reset()
	t.Cleanup(xray.Reset)

	assert.False(t, xray.Default().Enabled())
	assert.Same(t, xray.Default(), xray.Default(), "built once")

	cfg := syncConfig()
	tr, err := xray.Configure(cfg, xray.WithSender(&fakeSender{}))
	require.NoError(t, err)
	assert.Same(t, tr, xray.Default())
	assert.True(t, xray.Default().Enabled())

	xray.Reset()
	assert.NotSame(t, tr, xray.Default())
}

func TestDefaultWithInvalidEnvironmentIsDisabled(t *testing.T) {
	t.Setenv("XRAY_TIMEOUT", "eventually")
	xray.Reset()
	t.Cleanup(xray.Reset)

	assert.False(t, xray.Default().Enabled())
	assert.NoError(t, xray.Trace(context.Background(), "p", func(context.Context, *xray.RunScope) error { return nil }))
}

func TestConfigureRejectsInvalid(t *testing.T) {
	cfg := xray.DefaultConfig()
	cfg.FallbackMode = "panic"
	_, err := xray.Configure(cfg)
	assert.Error(t, err)
}

// ---- logging ---------------------------------------------------------------

func TestVerboseControlsSDKLogLevel(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		var buf bytes.Buffer
		base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

		cfg := syncConfig()
		cfg.Verbose = verbose
		tr := newTracer(t, cfg, xray.WithLogger(base), xray.WithSender(&fakeSender{}))
		require.NoError(t, tr.Run(context.Background(), "p", func(context.Context, *xray.RunScope) error { return nil }))

		assert.Equal(t, verbose, bytes.Contains(buf.Bytes(), []byte("xray: run started")), "verbose=%v", verbose)
	}
}
