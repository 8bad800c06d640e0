package ingress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattercloud/mcc-core/internal/webhook"
)

// Shadow topic layout, matching the AWS IoT named-shadow scheme so either a
// local broker or the real cloud endpoint can serve the notifications.
const (
	deltaTopicFormat    = "$aws/things/%s/shadow/name/%s/update/delta"
	documentTopicFormat = "$aws/things/%s/shadow/name/%s/update/documents"
)

// DeltaSink receives decoded delta notifications for a shard.
type DeltaSink interface {
	OnDelta(ctx context.Context, shard string, payload []byte) error
}

// ShadowSubscriberDeps are the collaborators a ShadowSubscriber needs.
type ShadowSubscriberDeps struct {
	Broker   Broker
	Deltas   DeltaSink
	Notifier *webhook.Notifier
	Target   WebhookTarget
	QoS      byte
	Logger   Logger
}

// WebhookTarget is where document-update notifications are forwarded in
// local-notification mode.
type WebhookTarget struct {
	Method   string
	URL      string
	Endpoint string
}

// ShadowSubscriber establishes per-shard MQTT subscriptions for delta and
// document notifications. It implements the delta subscriber contract the
// shadow synchronizer drives during shard discovery.
type ShadowSubscriber struct {
	broker   Broker
	deltas   DeltaSink
	notifier *webhook.Notifier
	target   WebhookTarget
	qos      byte
	logger   Logger
}

// NewShadowSubscriber creates a ShadowSubscriber from its collaborators.
func NewShadowSubscriber(deps ShadowSubscriberDeps) *ShadowSubscriber {
	return &ShadowSubscriber{
		broker:   deps.Broker,
		deltas:   deps.Deltas,
		notifier: deps.Notifier,
		target:   deps.Target,
		qos:      deps.QoS,
		logger:   deps.Logger,
	}
}

// SubscribeDelta wires a shard's delta topic into the delta write-back
// handler.
func (s *ShadowSubscriber) SubscribeDelta(thing, shard string) error {
	topic := fmt.Sprintf(deltaTopicFormat, thing, shard)
	return s.broker.Subscribe(topic, s.qos, func(_ string, payload []byte) error {
		return s.deltas.OnDelta(context.Background(), shard, payload)
	})
}

// SubscribeDocument forwards a shard's accepted document updates to the
// configured webhook.
func (s *ShadowSubscriber) SubscribeDocument(thing, shard string) error {
	topic := fmt.Sprintf(documentTopicFormat, thing, shard)
	return s.broker.Subscribe(topic, s.qos, func(_ string, payload []byte) error {
		if s.notifier == nil {
			return nil
		}
		var doc struct {
			Previous json.RawMessage `json:"previous"`
			Current  json.RawMessage `json:"current"`
		}
		if err := json.Unmarshal(payload, &doc); err != nil {
			return fmt.Errorf("ingress: decoding document update for %s: %w", shard, err)
		}
		s.notifier.Notify(context.Background(), s.target.Method, s.target.URL, s.target.Endpoint,
			webhook.ChangeMessage{
				ThingName:  thing,
				ShadowName: shard,
				Previous:   doc.Previous,
				Current:    doc.Current,
			})
		return nil
	})
}
