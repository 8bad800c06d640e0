package shadow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestJournal(maxEvents int) (*Journal, *MemoryStore) {
	store := NewMemoryStore()
	j := NewJournal(JournalDeps{
		Store:     store,
		Thing:     "mcc-thing-ver01-1",
		MaxEvents: maxEvents,
		Now:       func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) },
	})
	return j, store
}

func journalList(t *testing.T, store *MemoryStore, nodeID int64) []map[string]any {
	t.Helper()
	doc, err := store.Get(context.Background(), "mcc-thing-ver01-1", EventsShardName(nodeID))
	if err != nil {
		t.Fatalf("journal shard missing: %v", err)
	}
	var decoded eventsDocument
	if err := json.Unmarshal(doc, &decoded); err != nil {
		t.Fatalf("decoding journal: %v", err)
	}
	return decoded.State.Reported.List
}

func TestJournalAppendsWithTimestamp(t *testing.T) {
	j, store := newTestJournal(100)

	event := map[string]any{"event": "node_updated", "node_id": float64(7)}
	if err := j.OnEventChange(context.Background(), 7, event); err != nil {
		t.Fatalf("OnEventChange failed: %v", err)
	}

	list := journalList(t, store, 7)
	if len(list) != 1 {
		t.Fatalf("journal has %d entries, want 1", len(list))
	}
	if got := list[0]["timestamp"]; got != "2026-08-30T12:00:00Z" {
		t.Errorf("timestamp = %v, want 2026-08-30T12:00:00Z", got)
	}
	if got := list[0]["event"]; got != "node_updated" {
		t.Errorf("event = %v, want node_updated", got)
	}
}

func TestJournalMissingShardIsEmptyHistory(t *testing.T) {
	j, _ := newTestJournal(100)

	// No pre-existing shard; the append must not fail.
	if err := j.OnEventChange(context.Background(), 42, map[string]any{"event": "x"}); err != nil {
		t.Errorf("OnEventChange on fresh node = %v, want nil", err)
	}
}

func TestJournalEvictsOldestFirst(t *testing.T) {
	const maxEvents = 5
	j, store := newTestJournal(maxEvents)
	ctx := context.Background()

	for i := 0; i < maxEvents+3; i++ {
		event := map[string]any{"event": fmt.Sprintf("e%d", i)}
		if err := j.OnEventChange(ctx, 7, event); err != nil {
			t.Fatalf("OnEventChange(%d) failed: %v", i, err)
		}
	}

	list := journalList(t, store, 7)
	if len(list) != maxEvents {
		t.Fatalf("journal has %d entries, want %d", len(list), maxEvents)
	}
	// Oldest three evicted; remaining entries keep append order.
	for i, entry := range list {
		want := fmt.Sprintf("e%d", i+3)
		if entry["event"] != want {
			t.Errorf("entry %d = %v, want %s", i, entry["event"], want)
		}
	}
}

func TestJournalLengthNeverExceedsBound(t *testing.T) {
	const maxEvents = 3
	j, store := newTestJournal(maxEvents)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := j.OnEventChange(ctx, 7, map[string]any{"event": "e"}); err != nil {
			t.Fatalf("OnEventChange failed: %v", err)
		}
		if got := len(journalList(t, store, 7)); got > maxEvents {
			t.Fatalf("journal length %d exceeds bound %d after %d events", got, maxEvents, i+1)
		}
	}
}

func TestJournalOfflineEventRemovesShards(t *testing.T) {
	j, store := newTestJournal(100)
	ctx := context.Background()

	// Seed the node's shards.
	for _, shard := range []string{"7_0", "7_1", EventsShardName(7)} {
		if _, err := store.Update(ctx, "mcc-thing-ver01-1", shard, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("seeding %s failed: %v", shard, err)
		}
	}

	offline := map[string]any{
		"event": "node_event",
		"data": map[string]any{
			"node_id":    float64(7),
			"cluster_id": float64(40),
			"event_id":   float64(2),
		},
	}
	if err := j.OnEventChange(ctx, 7, offline); err != nil {
		t.Fatalf("OnEventChange failed: %v", err)
	}

	for _, shard := range []string{"7_0", "7_1", EventsShardName(7)} {
		if _, err := store.Get(ctx, "mcc-thing-ver01-1", shard); !errors.Is(err, ErrNotFound) {
			t.Errorf("shard %s still present after offline event", shard)
		}
	}
}

func TestJournalNonLeaveNodeEventIsJournaled(t *testing.T) {
	j, store := newTestJournal(100)

	// Same cluster, different event id: a normal journal entry.
	event := map[string]any{
		"event": "node_event",
		"data": map[string]any{
			"node_id":    float64(7),
			"cluster_id": float64(40),
			"event_id":   float64(0),
		},
	}
	if err := j.OnEventChange(context.Background(), 7, event); err != nil {
		t.Fatalf("OnEventChange failed: %v", err)
	}
	if got := len(journalList(t, store, 7)); got != 1 {
		t.Errorf("journal has %d entries, want 1", got)
	}
}
