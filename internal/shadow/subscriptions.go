package shadow

import "sync"

// SubscriptionRegistry tracks which shards already have delta subscriptions.
// Append-only within a supervision cycle: entries are added on discovery and
// only cleared wholesale when a cycle starts fresh.
//
// Safe for concurrent use.
type SubscriptionRegistry struct {
	mu     sync.Mutex
	shards map[string]bool
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		shards: make(map[string]bool),
	}
}

// Add records a shard, reporting true when it was not already present.
func (r *SubscriptionRegistry) Add(shard string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shards[shard] {
		return false
	}
	r.shards[shard] = true
	return true
}

// Has reports whether a shard is registered.
func (r *SubscriptionRegistry) Has(shard string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shards[shard]
}

// Len returns the number of registered shards.
func (r *SubscriptionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shards)
}

// Reset clears the registry. Called when a new device-graph session starts,
// since the server side forgets subscriptions with the connection.
func (r *SubscriptionRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shards = make(map[string]bool)
}
