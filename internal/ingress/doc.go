// Package ingress feeds the work queue from the outside world.
//
// Three producers live here: the MQTT command listener (cloud clients
// publishing request envelopes to chip/request), the shadow topic subscriber
// (delta and document notifications for individual shards), and the
// test-command file poller used during local development. All of them
// validate before enqueueing; the queue and the socket drain loop downstream
// never see malformed envelopes from these paths.
package ingress
