package shadow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mattercloud/mcc-core/internal/matter"
	"github.com/mattercloud/mcc-core/internal/queue"
)

// Logger is the minimal logging surface the shadow components need.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DeltaSubscriber establishes push notifications for a shard. SubscribeDelta
// fires when desired state diverges from reported state; SubscribeDocument
// fires on every accepted document update (local-notification mode).
type DeltaSubscriber interface {
	SubscribeDelta(thing, shard string) error
	SubscribeDocument(thing, shard string) error
}

// WebhookTarget is the outbound notification destination used when
// local-notification mode is enabled.
type WebhookTarget struct {
	Method   string
	URL      string
	Endpoint string
}

// HistorySink receives every reported attribute value for time-series
// storage. Implementations must not block the caller.
type HistorySink interface {
	RecordAttribute(nodeID int64, endpointID int, path string, value any)
}

// SynchronizerDeps are the collaborators a Synchronizer needs.
type SynchronizerDeps struct {
	Store       Store
	Queue       *queue.Queue
	Subscriber  DeltaSubscriber
	Registry    *SubscriptionRegistry
	Thing       string
	LocalNotify bool
	Webhook     WebhookTarget

	// History is optional; nil disables attribute-history recording.
	History HistorySink
	Logger  Logger
}

// Synchronizer shards node snapshots into per-endpoint shadow documents and
// keeps delta subscriptions established for every known shard.
//
// It implements the node handler and commissionable sink the message router
// dispatches into.
type Synchronizer struct {
	store       Store
	queue       *queue.Queue
	subscriber  DeltaSubscriber
	registry    *SubscriptionRegistry
	thing       string
	localNotify bool
	webhook     WebhookTarget
	history     HistorySink
	logger      Logger
}

// NewSynchronizer creates a Synchronizer from its collaborators.
func NewSynchronizer(deps SynchronizerDeps) *Synchronizer {
	return &Synchronizer{
		store:       deps.Store,
		queue:       deps.Queue,
		subscriber:  deps.Subscriber,
		registry:    deps.Registry,
		thing:       deps.Thing,
		localNotify: deps.LocalNotify,
		webhook:     deps.Webhook,
		history:     deps.History,
		logger:      deps.Logger,
	}
}

// OnNodeChange shards a node snapshot into per-endpoint shadow documents.
//
// The snapshot's flat attribute map ("endpoint/cluster/attribute" keys) is
// partitioned by leading endpoint segment; each partition is written as
// {"state":{"reported":<attrs>}} to shard "<node>_<endpoint>". Writes are
// last-write-wins and idempotent. After writing, shard discovery re-runs so
// new shards gain delta subscriptions, and a wildcard attribute subscription
// for the node is enqueued so changes keep streaming.
//
// Individual shard failures are logged and do not stop the remaining
// endpoints.
func (s *Synchronizer) OnNodeChange(ctx context.Context, nodeID int64, snapshot matter.NodeSnapshot) error {
	partitions := partitionByEndpoint(snapshot.Attributes)

	endpoints := make([]int, 0, len(partitions))
	for endpoint := range partitions {
		endpoints = append(endpoints, endpoint)
	}
	sort.Ints(endpoints)

	for _, endpoint := range endpoints {
		shard := ShardName(nodeID, endpoint)
		doc, err := reportedDocument(partitions[endpoint])
		if err != nil {
			s.logError("encoding shard document", "shard", shard, "error", err)
			continue
		}

		var previous json.RawMessage
		if prev, err := s.store.Get(ctx, s.thing, shard); err == nil {
			previous = prev
		}

		current, err := s.store.Update(ctx, s.thing, shard, doc)
		if err != nil {
			s.logError("updating shard", "shard", shard, "error", err)
			continue
		}
		s.logDebug("shard updated", "shard", shard, "attributes", len(partitions[endpoint]))

		if s.localNotify {
			s.enqueueWebhook(ctx, shard, previous, current)
		}
		if s.history != nil {
			for path, value := range partitions[endpoint] {
				s.history.RecordAttribute(nodeID, endpoint, path, value)
			}
		}
	}

	s.refreshSubscriptions(ctx)
	s.enqueueAttributeSubscription(ctx, nodeID)

	return nil
}

// StoreCommissionables writes a discovery result to the commissionables
// shard.
func (s *Synchronizer) StoreCommissionables(ctx context.Context, result json.RawMessage) error {
	doc, err := json.Marshal(map[string]any{
		"state": map[string]any{"reported": result},
	})
	if err != nil {
		return fmt.Errorf("shadow: encoding commissionables: %w", err)
	}
	if _, err := s.store.Update(ctx, s.thing, CommissionablesShard, doc); err != nil {
		return err
	}
	s.logInfo("commissionables updated")
	return nil
}

// refreshSubscriptions lists every shard for the thing and subscribes to the
// ones not yet in the registry. Known shards are never re-subscribed.
func (s *Synchronizer) refreshSubscriptions(ctx context.Context) {
	if s.subscriber == nil {
		return
	}

	shards, err := ListAll(ctx, s.store, s.thing)
	if err != nil {
		s.logError("listing shards for subscription refresh", "error", err)
		return
	}

	for _, shard := range shards {
		if !s.registry.Add(shard) {
			continue
		}
		if err := s.subscriber.SubscribeDelta(s.thing, shard); err != nil {
			s.logError("delta subscription failed", "shard", shard, "error", err)
			continue
		}
		if s.localNotify {
			if err := s.subscriber.SubscribeDocument(s.thing, shard); err != nil {
				s.logError("document subscription failed", "shard", shard, "error", err)
			}
		}
		s.logDebug("shard subscribed", "shard", shard)
	}
}

// enqueueWebhook dispatches a local-notification webhook call through the
// work queue. The interceptor handles it before the socket; it never reaches
// the device-graph server.
func (s *Synchronizer) enqueueWebhook(ctx context.Context, shard string, previous, current json.RawMessage) {
	if previous == nil {
		previous = json.RawMessage("null")
	}

	body, err := json.Marshal(map[string]any{
		"Type": "update",
		"Message": map[string]any{
			"thing_name":  s.thing,
			"shadow_name": shard,
			"previous":    previous,
			"current":     current,
		},
	})
	if err != nil {
		s.logError("encoding webhook body", "shard", shard, "error", err)
		return
	}

	req := matter.Request{
		MessageID: matter.NewMessageID(),
		Command:   matter.CmdCallWebhook,
		Args: map[string]any{
			"method":   s.webhook.Method,
			"url":      s.webhook.URL,
			"endpoint": s.webhook.Endpoint,
			"body":     json.RawMessage(body),
		},
	}
	payload, err := req.Encode()
	if err != nil {
		s.logError("encoding webhook request", "shard", shard, "error", err)
		return
	}
	if err := s.queue.Put(ctx, queue.Item{Payload: payload, Source: "sync"}); err != nil {
		s.logError("enqueueing webhook call", "shard", shard, "error", err)
	}
}

// enqueueAttributeSubscription keeps future attribute changes for the node
// streaming over the websocket.
func (s *Synchronizer) enqueueAttributeSubscription(ctx context.Context, nodeID int64) {
	payload, err := matter.SubscribeAttributeRequest(nodeID).Encode()
	if err != nil {
		s.logError("encoding attribute subscription", "node_id", nodeID, "error", err)
		return
	}
	if err := s.queue.Put(ctx, queue.Item{Payload: payload, Source: "sync"}); err != nil {
		s.logError("enqueueing attribute subscription", "node_id", nodeID, "error", err)
	}
}

// partitionByEndpoint splits a flat attribute map by leading endpoint
// segment. Keys without a parseable endpoint prefix are dropped.
func partitionByEndpoint(attributes map[string]any) map[int]map[string]any {
	partitions := make(map[int]map[string]any)
	for path, value := range attributes {
		prefix, _, found := strings.Cut(path, "/")
		if !found {
			continue
		}
		endpoint, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if partitions[endpoint] == nil {
			partitions[endpoint] = make(map[string]any)
		}
		partitions[endpoint][path] = value
	}
	return partitions
}

// reportedDocument wraps an attribute map in the canonical shard layout.
func reportedDocument(attributes map[string]any) (json.RawMessage, error) {
	return json.Marshal(map[string]any{
		"state": map[string]any{"reported": attributes},
	})
}

func (s *Synchronizer) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Synchronizer) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Synchronizer) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
