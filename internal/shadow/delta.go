package shadow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/mattercloud/mcc-core/internal/matter"
	"github.com/mattercloud/mcc-core/internal/queue"
)

// DeltaHandlerDeps are the collaborators delta write-back needs.
type DeltaHandlerDeps struct {
	Store  Store
	Queue  *queue.Queue
	Thing  string
	Logger Logger
}

// DeltaHandler translates shard delta notifications back into device
// attribute writes.
//
// When a cloud client changes a shard's desired state, the store emits a
// delta. Each changed attribute path becomes one write_attribute command on
// the work queue, unless the new value already matches the reported state.
// That guard breaks the feedback loop: the device's acknowledgement flows
// back as a node update, refreshes reported state, and would otherwise
// re-trigger the same delta.
type DeltaHandler struct {
	store  Store
	queue  *queue.Queue
	thing  string
	logger Logger
}

// NewDeltaHandler creates a DeltaHandler from its collaborators.
func NewDeltaHandler(deps DeltaHandlerDeps) *DeltaHandler {
	return &DeltaHandler{
		store:  deps.Store,
		queue:  deps.Queue,
		thing:  deps.Thing,
		logger: deps.Logger,
	}
}

// deltaDocument is the notification payload: changed attribute paths and
// their desired values.
type deltaDocument struct {
	State map[string]any `json:"state"`
}

// OnDelta processes one delta notification for a shard. No response is
// awaited; write acknowledgements flow back through the response router.
func (h *DeltaHandler) OnDelta(ctx context.Context, shard string, payload []byte) error {
	nodeID, _, ok := ParseShardName(shard)
	if !ok {
		h.logDebug("delta for non-endpoint shard ignored", "shard", shard)
		return nil
	}

	var delta deltaDocument
	if err := json.Unmarshal(payload, &delta); err != nil {
		return fmt.Errorf("shadow: decoding delta for %s: %w", shard, err)
	}
	if len(delta.State) == 0 {
		return nil
	}

	reported := map[string]any{}
	current, err := h.store.Get(ctx, h.thing, shard)
	switch {
	case errors.Is(err, ErrNotFound):
		// No reported state yet; every delta value is a real change.
	case err != nil:
		return fmt.Errorf("shadow: reading %s for delta: %w", shard, err)
	default:
		reported = ReportedState(current)
	}

	paths := make([]string, 0, len(delta.State))
	for path := range delta.State {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		value := delta.State[path]
		if existing, ok := reported[path]; ok && reflect.DeepEqual(existing, value) {
			h.logDebug("delta value already reported, skipping",
				"shard", shard, "path", path)
			continue
		}
		h.enqueueWrite(ctx, nodeID, path, value)
	}
	return nil
}

func (h *DeltaHandler) enqueueWrite(ctx context.Context, nodeID int64, path string, value any) {
	payload, err := matter.WriteAttributeRequest(nodeID, path, value).Encode()
	if err != nil {
		h.logError("encoding attribute write", "path", path, "error", err)
		return
	}
	if err := h.queue.Put(ctx, queue.Item{Payload: payload, Source: "delta"}); err != nil {
		h.logError("enqueueing attribute write", "path", path, "error", err)
	}
}

func (h *DeltaHandler) logDebug(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, args...)
	}
}

func (h *DeltaHandler) logError(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Error(msg, args...)
	}
}
