// Package shadow maintains the sharded device-shadow documents that are the
// controller's system of record.
//
// Device state is never held in memory between messages. Every node snapshot
// arriving from the device-graph server is partitioned into one shard per
// endpoint, named "<node_id>_<endpoint_id>", each holding only that
// endpoint's reported attribute map. A separate "events_<node_id>" shard
// journals a bounded history of event envelopes per node, and the
// "commissionables" shard holds the last discovery result.
//
// Cloud-side writes flow the other way: a delta notification against a shard
// is translated back into write_attribute commands on the work queue, with
// an idempotence guard so echoed values never loop.
package shadow
