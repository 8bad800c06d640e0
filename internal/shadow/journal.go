package shadow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Node-offline detection. A node_event carrying the Basic Information
// cluster's Leave event means the device is going away; its shards are torn
// down instead of journaled.
const (
	offlineClusterID = 40
	offlineEventID   = 2
)

// knownEndpointShards are the endpoint shards deleted alongside a node's
// journal when it leaves. Nodes with more endpoints leak their extra shards;
// shard enumeration at tear-down time is not attempted because the store
// listing may already be out of date for a departing node.
var knownEndpointShards = []int{0, 1}

// JournalDeps are the collaborators a Journal needs.
type JournalDeps struct {
	Store     Store
	Thing     string
	MaxEvents int
	Logger    Logger

	// Now overrides the timestamp source in tests. Defaults to time.Now.
	Now func() time.Time
}

// Journal appends event envelopes to bounded per-node event shards.
// It implements the event handler the message router dispatches into.
type Journal struct {
	store     Store
	thing     string
	maxEvents int
	logger    Logger
	now       func() time.Time
}

// NewJournal creates a Journal from its collaborators.
func NewJournal(deps JournalDeps) *Journal {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Journal{
		store:     deps.Store,
		thing:     deps.Thing,
		maxEvents: deps.MaxEvents,
		logger:    deps.Logger,
		now:       now,
	}
}

// eventsDocument is the journal shard layout.
type eventsDocument struct {
	State struct {
		Reported struct {
			List []map[string]any `json:"list"`
		} `json:"reported"`
	} `json:"state"`
}

// OnEventChange journals one event envelope for a node.
//
// A node-offline event tears the node's shards down instead. Otherwise the
// envelope is timestamped and appended to the events_<node> shard, evicting
// the oldest entries once the list would exceed the configured bound. A
// missing journal shard is an empty history, not an error.
func (j *Journal) OnEventChange(ctx context.Context, nodeID int64, event map[string]any) error {
	if isOfflineEvent(event) {
		j.removeNodeShards(ctx, nodeID)
		return nil
	}

	shard := EventsShardName(nodeID)

	var doc eventsDocument
	existing, err := j.store.Get(ctx, j.thing, shard)
	switch {
	case errors.Is(err, ErrNotFound):
		// First event for this node.
	case err != nil:
		return fmt.Errorf("shadow: reading journal %s: %w", shard, err)
	default:
		if err := json.Unmarshal(existing, &doc); err != nil {
			j.logWarn("journal shard is malformed, starting fresh",
				"shard", shard, "error", err)
			doc = eventsDocument{}
		}
	}

	entry := make(map[string]any, len(event)+1)
	for k, v := range event {
		entry[k] = v
	}
	entry["timestamp"] = j.now().UTC().Format(time.RFC3339)

	list := append(doc.State.Reported.List, entry)
	for len(list) > j.maxEvents {
		list = list[1:]
	}
	doc.State.Reported.List = list

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("shadow: encoding journal %s: %w", shard, err)
	}
	if _, err := j.store.Update(ctx, j.thing, shard, payload); err != nil {
		return fmt.Errorf("shadow: writing journal %s: %w", shard, err)
	}
	return nil
}

// removeNodeShards deletes a departing node's journal and known endpoint
// shards. Best-effort: missing shards are fine and individual failures are
// only logged.
func (j *Journal) removeNodeShards(ctx context.Context, nodeID int64) {
	j.logInfo("node offline, removing shards", "node_id", nodeID)

	shards := []string{EventsShardName(nodeID)}
	for _, endpoint := range knownEndpointShards {
		shards = append(shards, ShardName(nodeID, endpoint))
	}

	for _, shard := range shards {
		if err := j.store.Delete(ctx, j.thing, shard); err != nil {
			j.logWarn("deleting shard failed", "shard", shard, "error", err)
		}
	}
}

// isOfflineEvent reports whether an envelope carries the Leave event.
func isOfflineEvent(event map[string]any) bool {
	data, ok := event["data"].(map[string]any)
	if !ok {
		return false
	}
	cluster, ok := numericField(data, "cluster_id")
	if !ok || cluster != offlineClusterID {
		return false
	}
	eventID, ok := numericField(data, "event_id")
	return ok && eventID == offlineEventID
}

// numericField reads a JSON number out of a decoded map.
func numericField(m map[string]any, key string) (int64, bool) {
	switch v := m[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

func (j *Journal) logInfo(msg string, args ...any) {
	if j.logger != nil {
		j.logger.Info(msg, args...)
	}
}

func (j *Journal) logWarn(msg string, args ...any) {
	if j.logger != nil {
		j.logger.Warn(msg, args...)
	}
}
