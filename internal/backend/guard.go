package backend

import (
	"context"
	"sync"
)

// FetchGuard serializes the "latest fetch wins" policy for one view.
// Begin cancels any in-flight fetch and hands out a token; a fetch that
// completes with a stale token discards its result instead of applying
// it over newer data.
type FetchGuard struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// Begin starts a new fetch generation. The previous generation's
// context is cancelled so superseded requests abort instead of racing
// their results in.
func (f *FetchGuard) Begin(parent context.Context) (context.Context, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	f.cancel = cancel
	f.gen++
	return ctx, f.gen
}

// Keep reports whether the token still names the current generation.
// Callers check it before applying fetch results.
func (f *FetchGuard) Keep(token uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return token == f.gen
}

// Stop cancels whatever fetch is currently in flight.
func (f *FetchGuard) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.gen++
}
