package shadow

import "testing"

func TestShardNames(t *testing.T) {
	if got := ShardName(7, 0); got != "7_0" {
		t.Errorf("ShardName(7, 0) = %q, want 7_0", got)
	}
	if got := EventsShardName(7); got != "events_7" {
		t.Errorf("EventsShardName(7) = %q, want events_7", got)
	}
}

func TestParseShardName(t *testing.T) {
	tests := []struct {
		shard        string
		wantNode     int64
		wantEndpoint int
		wantOK       bool
	}{
		{"7_0", 7, 0, true},
		{"12_3", 12, 3, true},
		{"events_7", 0, 0, false},
		{"commissionables", 0, 0, false},
		{"garbage", 0, 0, false},
		{"a_b", 0, 0, false},
	}

	for _, tt := range tests {
		node, endpoint, ok := ParseShardName(tt.shard)
		if ok != tt.wantOK || node != tt.wantNode || endpoint != tt.wantEndpoint {
			t.Errorf("ParseShardName(%q) = (%d, %d, %v), want (%d, %d, %v)",
				tt.shard, node, endpoint, ok, tt.wantNode, tt.wantEndpoint, tt.wantOK)
		}
	}
}
