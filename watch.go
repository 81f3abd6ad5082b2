package storekit

import (
	"context"
	"sync"
	"sync/atomic"
)

// ChangeToken signals a single change under a backend's root. Tokens are
// single-use: once signalled they stay changed, and callers obtain a fresh
// token to keep watching.
type ChangeToken struct {
	mu        sync.Mutex
	changed   atomic.Bool
	callbacks []func()
}

// NewChangeToken creates an unsignalled token.
func NewChangeToken() *ChangeToken {
	return &ChangeToken{}
}

// HasChanged reports whether the token has been signalled.
func (t *ChangeToken) HasChanged() bool {
	return t.changed.Load()
}

// Notify registers a callback invoked when the token is signalled. When the
// token has already changed, the callback fires immediately. The returned
// function unregisters the callback.
func (t *ChangeToken) Notify(fn func()) (stop func()) {
	if t.changed.Load() {
		fn()
		return func() {}
	}

	t.mu.Lock()
	t.callbacks = append(t.callbacks, fn)
	index := len(t.callbacks) - 1
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if index < len(t.callbacks) {
			t.callbacks[index] = nil
		}
	}
}

// Signal marks the token as changed and invokes registered callbacks.
// Backends call it when a matching change is detected.
func (t *ChangeToken) Signal() {
	if t.changed.Swap(true) {
		return
	}

	t.mu.Lock()
	callbacks := make([]func(), len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.Unlock()

	for _, fn := range callbacks {
		if fn != nil {
			fn()
		}
	}
}

// Watcher is implemented by backends that can report changes to their files.
// The pattern is a glob matched against backend-relative paths, e.g.
// "avatars/*.png" or "**.json". Check for it with a type assertion:
//
//	if w, ok := storage.Backend().(storekit.Watcher); ok {
//		token, err := w.Watch(ctx, "*.json")
//		...
//	}
type Watcher interface {
	Watch(ctx context.Context, pattern string) (*ChangeToken, error)
}
