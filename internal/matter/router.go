package matter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattercloud/mcc-core/internal/queue"
)

// Logger is the minimal logging surface the router needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NodeHandler receives full node snapshots for shadow synchronization.
type NodeHandler interface {
	OnNodeChange(ctx context.Context, nodeID int64, snapshot NodeSnapshot) error
}

// EventHandler receives event envelopes for journaling.
type EventHandler interface {
	OnEventChange(ctx context.Context, nodeID int64, event map[string]any) error
}

// CommissionableSink stores discovery results.
type CommissionableSink interface {
	StoreCommissionables(ctx context.Context, result json.RawMessage) error
}

// RouterDeps are the collaborators a Router dispatches into.
type RouterDeps struct {
	Registry        *Registry
	Queue           *queue.Queue
	Nodes           NodeHandler
	Events          EventHandler
	Commissionables CommissionableSink
	Logger          Logger
}

// Router classifies inbound device-graph frames and invokes the matching
// handler. One Router serves one websocket session; it holds no state of its
// own beyond its collaborators.
type Router struct {
	registry        *Registry
	queue           *queue.Queue
	nodes           NodeHandler
	events          EventHandler
	commissionables CommissionableSink
	logger          Logger
}

// NewRouter creates a Router from its collaborators. Registry and Queue are
// required; nil handlers disable their branch (logged and skipped).
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		registry:        deps.Registry,
		queue:           deps.Queue,
		nodes:           deps.Nodes,
		events:          deps.Events,
		commissionables: deps.Commissionables,
		logger:          deps.Logger,
	}
}

// Dispatch decodes one inbound frame and routes it. It returns an error only
// when the frame is not valid JSON; handler failures are logged and absorbed
// so one bad message never tears down the receive loop.
func (r *Router) Dispatch(ctx context.Context, frame []byte) error {
	env, err := Decode(frame)
	if err != nil {
		return err
	}

	switch env.Kind {
	case KindBanner:
		r.logInfo("device-graph session established",
			"fabric_id", env.FabricID,
			"compressed_fabric_id", env.CompressedFabricID,
			"schema_version", env.SchemaVersion,
		)
	case KindError:
		r.logWarn("device-graph reported error",
			"error_code", env.ErrorCode,
			"details", env.Details,
		)
	case KindResponse:
		r.dispatchResponse(ctx, env)
	case KindEvent:
		r.dispatchEvent(ctx, env)
	default:
		r.logWarn("unhandled device-graph message", "raw", string(env.Raw))
	}

	return nil
}

// dispatchResponse completes any pending callback for the message id and
// then routes the payload by shape.
func (r *Router) dispatchResponse(ctx context.Context, env Envelope) {
	if r.registry.Complete(ctx, env.MessageID, env.Result) {
		r.logDebug("completed callback", "message_id", env.MessageID)
	}

	switch ClassifyResult(env.Result) {
	case ResultNull, ResultBool:
		// Acknowledgement only.
	case ResultNode:
		r.handleNodeResult(ctx, env.Result)
	case ResultCommissionables:
		r.handleCommissionables(ctx, env.Result)
	case ResultNodeList:
		r.handleNodeList(ctx, env.Result)
	default:
		r.logWarn("unrecognised response payload",
			"message_id", env.MessageID,
			"raw", string(env.Result),
		)
	}
}

func (r *Router) handleNodeResult(ctx context.Context, result json.RawMessage) {
	var snapshot NodeSnapshot
	if err := json.Unmarshal(result, &snapshot); err != nil {
		r.logError("decoding node snapshot", "error", err)
		return
	}

	if r.nodes == nil {
		r.logDebug("no node handler configured", "node_id", snapshot.NodeID)
		return
	}
	if err := r.nodes.OnNodeChange(ctx, snapshot.NodeID, snapshot); err != nil {
		r.logError("node change handling failed",
			"node_id", snapshot.NodeID,
			"error", err,
		)
	}
}

func (r *Router) handleCommissionables(ctx context.Context, result json.RawMessage) {
	if r.commissionables == nil {
		r.logDebug("no commissionable sink configured")
		return
	}
	if err := r.commissionables.StoreCommissionables(ctx, result); err != nil {
		r.logError("storing commissionables failed", "error", err)
	}
}

// handleNodeList routes each element of a multi-node response. Elements
// carrying a node_id are full snapshots; elements carrying a Path are raw
// attribute-path updates the server streams after subscribe_attribute, which
// have no handler and are only noted at debug level.
func (r *Router) handleNodeList(ctx context.Context, result json.RawMessage) {
	var list []json.RawMessage
	if err := json.Unmarshal(result, &list); err != nil {
		r.logError("decoding node list", "error", err)
		return
	}

	for _, entry := range list {
		var probe struct {
			NodeID *int64          `json:"node_id"`
			Path   json.RawMessage `json:"Path"`
		}
		if err := json.Unmarshal(entry, &probe); err != nil {
			r.logError("decoding node list entry", "error", err)
			continue
		}

		switch {
		case probe.NodeID != nil:
			r.handleNodeResult(ctx, entry)
		case probe.Path != nil:
			r.logDebug("attribute-path update received", "path", string(probe.Path))
		default:
			r.logDebug("node list entry with neither node_id nor Path", "raw", string(entry))
		}
	}
}

// dispatchEvent routes an uncorrelated event envelope.
//
// node_added and node_updated carry the full node object in data, far too
// large for the event journal, so data is stripped before journaling.
// node_event carries a small event record whose cluster_id and event_id the
// journal needs for offline detection, so it is journaled intact.
// node_removed is only logged. Any other event value is an attribute-change
// notification: a get_node follow-up is enqueued so a fresh snapshot flows
// back through the response path, and the envelope is journaled as-is.
func (r *Router) dispatchEvent(ctx context.Context, env Envelope) {
	switch env.Event {
	case "node_removed":
		nodeID, err := nodeIDFromData(env.Data)
		if err != nil {
			r.logError("decoding node_removed event", "error", err)
			return
		}
		r.logInfo("node removed", "node_id", nodeID)

	case "node_event":
		nodeID, err := nodeIDFromData(env.Data)
		if err != nil {
			r.logError("decoding node event", "error", err)
			return
		}
		var full map[string]any
		if err := json.Unmarshal(env.Raw, &full); err != nil {
			r.logError("decoding node event envelope", "error", err)
			return
		}
		r.journal(ctx, nodeID, full)

	case "node_added", "node_updated":
		nodeID, err := nodeIDFromData(env.Data)
		if err != nil {
			r.logError("decoding lifecycle event", "event", env.Event, "error", err)
			return
		}
		stripped, err := strippedEnvelope(env.Raw)
		if err != nil {
			r.logError("stripping event payload", "event", env.Event, "error", err)
			return
		}
		r.journal(ctx, nodeID, stripped)

	default:
		var data []json.RawMessage
		if err := json.Unmarshal(env.Data, &data); err != nil || len(data) == 0 {
			r.logWarn("attribute event with unexpected data shape", "raw", string(env.Raw))
			return
		}
		var nodeID int64
		if err := json.Unmarshal(data[0], &nodeID); err != nil {
			r.logWarn("attribute event without leading node id", "raw", string(env.Raw))
			return
		}

		r.enqueueFollowUp(ctx, nodeID)

		var full map[string]any
		if err := json.Unmarshal(env.Raw, &full); err != nil {
			r.logError("decoding attribute event", "error", err)
			return
		}
		r.journal(ctx, nodeID, full)
	}
}

// enqueueFollowUp requests a fresh node snapshot via the work queue.
func (r *Router) enqueueFollowUp(ctx context.Context, nodeID int64) {
	req := GetNodeRequest(nodeID)
	payload, err := req.Encode()
	if err != nil {
		r.logError("encoding follow-up request", "node_id", nodeID, "error", err)
		return
	}
	if err := r.queue.Put(ctx, queue.Item{Payload: payload, Source: "router"}); err != nil {
		r.logError("enqueueing follow-up request", "node_id", nodeID, "error", err)
	}
}

func (r *Router) journal(ctx context.Context, nodeID int64, event map[string]any) {
	if r.events == nil {
		r.logDebug("no event handler configured", "node_id", nodeID)
		return
	}
	if err := r.events.OnEventChange(ctx, nodeID, event); err != nil {
		r.logError("event journaling failed", "node_id", nodeID, "error", err)
	}
}

// nodeIDFromData extracts node_id from a lifecycle event's data object.
func nodeIDFromData(data json.RawMessage) (int64, error) {
	var wire struct {
		NodeID *int64 `json:"node_id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return 0, fmt.Errorf("matter: decoding event data: %w", err)
	}
	if wire.NodeID == nil {
		return 0, fmt.Errorf("matter: event data has no node_id")
	}
	return *wire.NodeID, nil
}

// strippedEnvelope re-decodes a raw event frame without its data payload.
func strippedEnvelope(raw json.RawMessage) (map[string]any, error) {
	var full map[string]any
	if err := json.Unmarshal(raw, &full); err != nil {
		return nil, fmt.Errorf("matter: decoding event envelope: %w", err)
	}
	delete(full, "data")
	return full, nil
}

func (r *Router) logDebug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func (r *Router) logInfo(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

func (r *Router) logWarn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}

func (r *Router) logError(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Error(msg, args...)
	}
}
