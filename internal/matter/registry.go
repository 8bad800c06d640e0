package matter

import (
	"context"
	"encoding/json"
	"sync"
)

// Callback is a one-shot continuation invoked when the response matching its
// message id arrives. The raw result payload is passed through undecoded.
type Callback func(ctx context.Context, result json.RawMessage)

// Registry maps in-flight message ids to one-shot callbacks.
//
// Dispatch is at-most-once: a callback is removed before it runs and never
// runs again for the same id. Registering a callback for an id that already
// has one silently replaces the pending entry; the displaced callback is
// never invoked.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	callbacks map[string]Callback
}

// NewRegistry creates an empty callback registry.
func NewRegistry() *Registry {
	return &Registry{
		callbacks: make(map[string]Callback),
	}
}

// Register stores a callback for a message id, replacing any pending entry.
func (r *Registry) Register(messageID string, cb Callback) {
	if cb == nil {
		return
	}
	r.mu.Lock()
	r.callbacks[messageID] = cb
	r.mu.Unlock()
}

// Complete invokes and removes the callback for a message id, if one is
// registered. It reports whether a callback ran.
func (r *Registry) Complete(ctx context.Context, messageID string, result json.RawMessage) bool {
	r.mu.Lock()
	cb, ok := r.callbacks[messageID]
	if ok {
		delete(r.callbacks, messageID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	cb(ctx, result)
	return true
}

// Cancel removes a pending callback without invoking it.
func (r *Registry) Cancel(messageID string) {
	r.mu.Lock()
	delete(r.callbacks, messageID)
	r.mu.Unlock()
}

// Len returns the number of pending callbacks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks)
}

// Await registers a callback that delivers the result on a channel, for
// callers that need a synchronous request/response round trip (the REST
// node-listing proxy, commissioning flows). The returned channel receives
// exactly one value. Cancel the context to abandon the wait; the registry
// entry is cleaned up either way.
func (r *Registry) Await(ctx context.Context, messageID string) <-chan json.RawMessage {
	ch := make(chan json.RawMessage, 1)
	r.Register(messageID, func(_ context.Context, result json.RawMessage) {
		ch <- result
	})

	go func() {
		<-ctx.Done()
		r.Cancel(messageID)
	}()

	return ch
}
