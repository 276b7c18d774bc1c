package xray

import "context"

type contextKey string

const (
	keyRun  contextKey = "xray_run"
	keyStep contextKey = "xray_step"
)

// CurrentRun returns the innermost run scope active in ctx, or nil. Scopes
// that have ended are skipped in favor of the scope that was current when
// they started, so a context that outlives its run observes the outer run
// again.
func CurrentRun(ctx context.Context) *RunScope {
	r, _ := ctx.Value(keyRun).(*RunScope)
	for r != nil && r.Ended() {
		r = r.prev
	}
	return r
}

// CurrentStep returns the innermost step scope active in ctx, or nil. Exited
// steps are skipped like ended runs in CurrentRun.
func CurrentStep(ctx context.Context) *StepScope {
	s, _ := ctx.Value(keyStep).(*StepScope)
	for s != nil && s.Exited() {
		s = s.prev
	}
	return s
}

func withRun(ctx context.Context, r *RunScope) context.Context {
	return context.WithValue(ctx, keyRun, r)
}

func withStep(ctx context.Context, s *StepScope) context.Context {
	return context.WithValue(ctx, keyStep, s)
}
