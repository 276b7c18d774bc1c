package xray

import "context"

// Sender delivers completed run bundles. When provided via WithSender it
// replaces the built-in HTTP client, which posts to the trace store's ingest
// endpoint and applies the configured fallback policy.
//
// Send reports whether the bundle was handled and returns an error only when
// the failure should reach the caller. SendAsync must not wait for network
// I/O. Flush waits for deliveries started by SendAsync.
type Sender interface {
	Send(ctx context.Context, b *Bundle) (bool, error)
	SendAsync(ctx context.Context, b *Bundle)
	Flush(ctx context.Context) error
}

// RunHook observes runs as their scopes end, before delivery. Multiple hooks
// may be registered via multiple WithRunHook calls; they run in registration
// order on the goroutine that ends the run, so they must not block. The
// bundle is the one about to be delivered and must not be modified. Errors
// are logged and never affect the run or its delivery.
type RunHook interface {
	OnRunEnd(ctx context.Context, b *Bundle) error
}

// RunHookFunc adapts a function to RunHook.
type RunHookFunc func(ctx context.Context, b *Bundle) error

// OnRunEnd calls f.
func (f RunHookFunc) OnRunEnd(ctx context.Context, b *Bundle) error { return f(ctx, b) }
