package matter

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Well-known device-graph commands.
const (
	CmdStartListening          = "start_listening"
	CmdGetNode                 = "get_node"
	CmdGetNodes                = "get_nodes"
	CmdWriteAttribute          = "write_attribute"
	CmdSubscribeAttribute      = "subscribe_attribute"
	CmdOpenCommissioningWindow = "open_commissioning_window"
	CmdDiscover                = "discover"

	// CmdCallWebhook is a controller-local pseudo command. It is intercepted
	// before the socket and never reaches the device-graph server.
	CmdCallWebhook = "call_webhook"
)

// startListeningID is the fixed correlation id used for the session-opening
// start_listening request. The server streams node updates against it for
// the lifetime of the connection.
const startListeningID = "3"

// Request is the outbound envelope written to the device-graph socket.
type Request struct {
	MessageID string         `json:"message_id"`
	Command   string         `json:"command"`
	Args      map[string]any `json:"args,omitempty"`
}

// Encode serializes the request for the wire.
func (r Request) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("matter: encoding request %s: %w", r.Command, err)
	}
	return data, nil
}

// NewMessageID generates a correlation id for engine-originated requests.
// Caller-assigned ids pass through untouched; generated ids only need a
// collision space large enough to make in-flight collisions negligible.
func NewMessageID() string {
	return uuid.NewString()
}

// Kind discriminates the envelope shapes the device-graph server sends.
type Kind int

const (
	// KindUnknown is an envelope matching none of the known shapes.
	KindUnknown Kind = iota

	// KindBanner is the start-up banner carrying fabric information.
	KindBanner

	// KindError is a server-reported error envelope.
	KindError

	// KindResponse is a correlated response to a sent request.
	KindResponse

	// KindEvent is an uncorrelated event notification.
	KindEvent
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindBanner:
		return "banner"
	case KindError:
		return "error"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Envelope is one decoded inbound frame. Only the fields for its Kind are
// populated.
type Envelope struct {
	Kind Kind

	// Banner fields.
	FabricID           int64
	CompressedFabricID uint64
	SchemaVersion      int

	// Error fields.
	ErrorCode string
	Details   string

	// Response fields.
	MessageID string
	Result    json.RawMessage

	// Event fields.
	Event string
	Data  json.RawMessage

	// Raw is the original frame, kept for journaling and logging.
	Raw json.RawMessage
}

// envelopeWire mirrors the superset of fields the server may send. Presence
// of fabric_id, error_code, message_id or event picks the envelope kind, in
// that priority order.
type envelopeWire struct {
	FabricID           *int64          `json:"fabric_id"`
	CompressedFabricID uint64          `json:"compressed_fabric_id"`
	SchemaVersion      int             `json:"schema_version"`
	ErrorCode          *string         `json:"error_code"`
	Details            string          `json:"details"`
	MessageID          *string         `json:"message_id"`
	Result             json.RawMessage `json:"result"`
	Event              *string         `json:"event"`
	Data               json.RawMessage `json:"data"`
}

// Decode parses one inbound frame into a tagged envelope.
func Decode(frame []byte) (Envelope, error) {
	var w envelopeWire
	if err := json.Unmarshal(frame, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	env := Envelope{Raw: json.RawMessage(frame)}

	switch {
	case w.FabricID != nil:
		env.Kind = KindBanner
		env.FabricID = *w.FabricID
		env.CompressedFabricID = w.CompressedFabricID
		env.SchemaVersion = w.SchemaVersion
	case w.ErrorCode != nil:
		env.Kind = KindError
		env.ErrorCode = *w.ErrorCode
		env.Details = w.Details
	case w.MessageID != nil:
		env.Kind = KindResponse
		env.MessageID = *w.MessageID
		env.Result = w.Result
	case w.Event != nil:
		env.Kind = KindEvent
		env.Event = *w.Event
		env.Data = w.Data
	default:
		env.Kind = KindUnknown
	}

	return env, nil
}

// ResultKind discriminates the payload shapes of a correlated response.
type ResultKind int

const (
	// ResultUnknown is a result shape none of the handlers recognise.
	ResultUnknown ResultKind = iota

	// ResultNull is a bare acknowledgement with no payload.
	ResultNull

	// ResultBool acknowledges a single attribute write.
	ResultBool

	// ResultNode is a single node snapshot (object with node_id).
	ResultNode

	// ResultCommissionables is a discovery result (list whose first element
	// carries commissioning_mode).
	ResultCommissionables

	// ResultNodeList is a list of node snapshots, possibly mixed with raw
	// attribute-path entries.
	ResultNodeList
)

// ClassifyResult inspects a response payload and reports its shape.
func ClassifyResult(result json.RawMessage) ResultKind {
	trimmed := trimSpace(result)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return ResultNull
	}

	switch trimmed[0] {
	case 't', 'f':
		return ResultBool
	case '{':
		var probe struct {
			NodeID *int64 `json:"node_id"`
		}
		if err := json.Unmarshal(trimmed, &probe); err == nil && probe.NodeID != nil {
			return ResultNode
		}
		return ResultUnknown
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil || len(list) == 0 {
			return ResultUnknown
		}
		var first struct {
			CommissioningMode *int `json:"commissioning_mode"`
		}
		if err := json.Unmarshal(list[0], &first); err == nil && first.CommissioningMode != nil {
			return ResultCommissionables
		}
		return ResultNodeList
	default:
		return ResultUnknown
	}
}

// trimSpace strips leading and trailing JSON whitespace without allocating.
func trimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// NodeSnapshot is a decoded node object from a get_node/get_nodes response
// or the start_listening stream.
type NodeSnapshot struct {
	NodeID     int64          `json:"node_id"`
	Available  bool           `json:"available"`
	Attributes map[string]any `json:"attributes"`
}

// StartListeningRequest builds the session-opening request.
func StartListeningRequest() Request {
	return Request{MessageID: startListeningID, Command: CmdStartListening}
}

// GetNodeRequest builds a full-snapshot fetch for one node.
func GetNodeRequest(nodeID int64) Request {
	return Request{
		MessageID: NewMessageID(),
		Command:   CmdGetNode,
		Args:      map[string]any{"node_id": nodeID},
	}
}

// GetNodesRequest builds a fetch of every commissioned node.
func GetNodesRequest(messageID string) Request {
	return Request{MessageID: messageID, Command: CmdGetNodes}
}

// SubscribeAttributeRequest builds a wildcard attribute subscription for a
// node so future changes keep streaming in.
func SubscribeAttributeRequest(nodeID int64) Request {
	return Request{
		MessageID: NewMessageID(),
		Command:   CmdSubscribeAttribute,
		Args: map[string]any{
			"node_id":        nodeID,
			"attribute_path": fmt.Sprintf("%d/*/*", nodeID),
		},
	}
}

// WriteAttributeRequest builds a device attribute write.
func WriteAttributeRequest(nodeID int64, attributePath string, value any) Request {
	return Request{
		MessageID: NewMessageID(),
		Command:   CmdWriteAttribute,
		Args: map[string]any{
			"node_id":        nodeID,
			"attribute_path": attributePath,
			"value":          value,
		},
	}
}
