package matter

import (
	"encoding/json"
	"testing"
)

func TestDecodeKinds(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Kind
	}{
		{
			name:  "banner",
			frame: `{"fabric_id":1,"compressed_fabric_id":7869426522387137316,"schema_version":4}`,
			want:  KindBanner,
		},
		{
			name:  "error",
			frame: `{"error_code":"9","details":"node not found"}`,
			want:  KindError,
		},
		{
			name:  "response",
			frame: `{"message_id":"42","result":null}`,
			want:  KindResponse,
		},
		{
			name:  "event",
			frame: `{"event":"node_updated","data":{"node_id":7}}`,
			want:  KindEvent,
		},
		{
			name:  "unknown",
			frame: `{"something":"else"}`,
			want:  KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode() failed: %v", err)
			}
			if env.Kind != tt.want {
				t.Errorf("Decode() kind = %v, want %v", env.Kind, tt.want)
			}
		})
	}
}

func TestDecodePriorityOrder(t *testing.T) {
	// A frame carrying several discriminator keys classifies by the
	// highest-priority one: banner beats error beats response beats event.
	frame := `{"fabric_id":1,"error_code":"9","message_id":"42","event":"node_updated"}`
	env, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if env.Kind != KindBanner {
		t.Errorf("Decode() kind = %v, want KindBanner", env.Kind)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Error("Decode() on invalid JSON returned nil error")
	}
}

func TestClassifyResult(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   ResultKind
	}{
		{"null", `null`, ResultNull},
		{"empty", ``, ResultNull},
		{"true", `true`, ResultBool},
		{"false", `false`, ResultBool},
		{"single node", `{"node_id":7,"attributes":{}}`, ResultNode},
		{"object without node_id", `{"foo":1}`, ResultUnknown},
		{"commissionables", `[{"commissioning_mode":1,"instance_name":"X"}]`, ResultCommissionables},
		{"node list", `[{"node_id":7},{"node_id":8}]`, ResultNodeList},
		{"path list", `[{"Path":"0/6/0","value":true}]`, ResultNodeList},
		{"empty list", `[]`, ResultUnknown},
		{"number", `17`, ResultUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyResult(json.RawMessage(tt.result))
			if got != tt.want {
				t.Errorf("ClassifyResult(%s) = %v, want %v", tt.result, got, tt.want)
			}
		})
	}
}

func TestRequestEncode(t *testing.T) {
	req := GetNodeRequest(7)
	payload, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	var decoded Request
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if decoded.Command != CmdGetNode {
		t.Errorf("command = %q, want %q", decoded.Command, CmdGetNode)
	}
	if decoded.MessageID == "" {
		t.Error("generated message_id is empty")
	}
	if got := decoded.Args["node_id"]; got != float64(7) {
		t.Errorf("args.node_id = %v, want 7", got)
	}
}

func TestStartListeningUsesFixedID(t *testing.T) {
	req := StartListeningRequest()
	if req.MessageID != "3" {
		t.Errorf("start_listening message_id = %q, want %q", req.MessageID, "3")
	}
	if req.Command != CmdStartListening {
		t.Errorf("command = %q, want %q", req.Command, CmdStartListening)
	}
}

func TestNewMessageIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewMessageID()
		if seen[id] {
			t.Fatalf("NewMessageID() repeated %q", id)
		}
		seen[id] = true
	}
}
