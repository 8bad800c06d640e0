package shadow

import (
	"context"
	"encoding/json"
	"errors"
)

// Domain-specific errors for shadow operations.
var (
	// ErrNotFound is returned when a shard does not exist. Journal reads
	// treat it as an empty history, not a failure.
	ErrNotFound = errors.New("shadow: shard not found")
)

// listPageSize bounds one page of List results.
const listPageSize = 100

// Store is the shadow document contract: named per-thing shards holding
// JSON state documents. Update merges the given document into the existing
// one (JSON merge, new keys copied) and returns the merged result.
//
// All implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, thing, shard string) (json.RawMessage, error)
	Update(ctx context.Context, thing, shard string, doc json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, thing, shard string) error

	// List returns one page of shard names for a thing. An empty pageToken
	// starts from the beginning; an empty next token ends the walk.
	List(ctx context.Context, thing, pageToken string) (shards []string, next string, err error)
}

// ListAll walks every page of a store's shard listing.
func ListAll(ctx context.Context, s Store, thing string) ([]string, error) {
	var all []string
	token := ""
	for {
		page, next, err := s.List(ctx, thing, token)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		token = next
	}
}

// Wipe deletes every shard stored for a thing and reports how many were
// removed. Used for clean starts, where stale shadows from a previous run
// would otherwise survive a recommissioned fabric.
func Wipe(ctx context.Context, s Store, thing string) (int, error) {
	shards, err := ListAll(ctx, s, thing)
	if err != nil {
		return 0, err
	}
	for i, shard := range shards {
		if err := s.Delete(ctx, thing, shard); err != nil {
			return i, err
		}
	}
	return len(shards), nil
}

// stateDocument is the canonical shard layout: attribute maps live under
// state.reported.
type stateDocument struct {
	State struct {
		Reported map[string]any `json:"reported"`
	} `json:"state"`
}

// ReportedState extracts the reported attribute map from a shard document.
// Missing levels yield an empty map.
func ReportedState(doc json.RawMessage) map[string]any {
	var sd stateDocument
	if err := json.Unmarshal(doc, &sd); err != nil || sd.State.Reported == nil {
		return map[string]any{}
	}
	return sd.State.Reported
}
