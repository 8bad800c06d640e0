package shadow

import (
	"fmt"
	"strconv"
	"strings"
)

// CommissionablesShard holds the last commissionable-device discovery result.
const CommissionablesShard = "commissionables"

// eventsShardPrefix prefixes per-node event journal shards.
const eventsShardPrefix = "events_"

// ShardName returns the shadow shard for one endpoint of one node.
func ShardName(nodeID int64, endpointID int) string {
	return fmt.Sprintf("%d_%d", nodeID, endpointID)
}

// EventsShardName returns the event journal shard for a node.
func EventsShardName(nodeID int64) string {
	return eventsShardPrefix + strconv.FormatInt(nodeID, 10)
}

// IsEventsShard reports whether a shard name is an event journal.
func IsEventsShard(shard string) bool {
	return strings.HasPrefix(shard, eventsShardPrefix)
}

// ParseShardName splits an endpoint shard name back into its node and
// endpoint ids. It reports false for journal shards, the commissionables
// shard, and anything else that does not match "<node>_<endpoint>".
func ParseShardName(shard string) (nodeID int64, endpointID int, ok bool) {
	if IsEventsShard(shard) || shard == CommissionablesShard {
		return 0, 0, false
	}

	node, endpoint, found := strings.Cut(shard, "_")
	if !found {
		return 0, 0, false
	}

	nodeID, err := strconv.ParseInt(node, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	endpointID, err = strconv.Atoi(endpoint)
	if err != nil {
		return 0, 0, false
	}
	return nodeID, endpointID, true
}
