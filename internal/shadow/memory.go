package shadow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// MemoryStore is an in-memory Store. It backs local test mode and the
// package's own tests; semantics match SQLiteStore, including merge-on-update
// and opaque offset page tokens.
type MemoryStore struct {
	mu     sync.RWMutex
	shards map[string]map[string]json.RawMessage // thing -> shard -> document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shards: make(map[string]map[string]json.RawMessage),
	}
}

// Get returns a shard's document, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, thing, shard string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.shards[thing][shard]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, thing, shard)
	}
	out := make(json.RawMessage, len(doc))
	copy(out, doc)
	return out, nil
}

// Update merges doc into the shard's existing document and stores the result.
func (s *MemoryStore) Update(_ context.Context, thing, shard string, doc json.RawMessage) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shards[thing] == nil {
		s.shards[thing] = make(map[string]json.RawMessage)
	}

	merged := doc
	if existing, ok := s.shards[thing][shard]; ok {
		var err error
		merged, err = mergeDocuments(existing, doc)
		if err != nil {
			return nil, fmt.Errorf("shadow: merging %s/%s: %w", thing, shard, err)
		}
	}

	stored := make(json.RawMessage, len(merged))
	copy(stored, merged)
	s.shards[thing][shard] = stored
	return merged, nil
}

// Delete removes a shard. Deleting a missing shard is not an error.
func (s *MemoryStore) Delete(_ context.Context, thing, shard string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shards[thing], shard)
	return nil
}

// List returns one page of shard names in lexical order.
func (s *MemoryStore) List(_ context.Context, thing, pageToken string) ([]string, string, error) {
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("shadow: invalid page token %q", pageToken)
		}
		offset = n
	}

	s.mu.RLock()
	all := make([]string, 0, len(s.shards[thing]))
	for shard := range s.shards[thing] {
		all = append(all, shard)
	}
	s.mu.RUnlock()
	sort.Strings(all)

	if offset >= len(all) {
		return nil, "", nil
	}
	page := all[offset:]
	next := ""
	if len(page) > listPageSize {
		page = page[:listPageSize]
		next = strconv.Itoa(offset + listPageSize)
	}
	return page, next, nil
}
