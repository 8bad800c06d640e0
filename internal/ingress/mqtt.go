package ingress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattercloud/mcc-core/internal/infrastructure/mqtt"
	"github.com/mattercloud/mcc-core/internal/queue"
)

// Return codes for command acknowledgments.
const (
	// ReturnAccepted acknowledges a queued command. It says nothing about
	// the device operation's outcome; that arrives later via the shadows.
	ReturnAccepted = 200

	// ReturnRejected reports a command that never reached the queue.
	ReturnRejected = 255
)

// Rejection messages.
const (
	msgInvalidJSON  = "invalid json message received"
	msgMissingField = "required attribute %s is missing"
	msgQueueFull    = "work queue is full, retry later"
)

// Logger is the minimal logging surface the ingress adapters need.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Broker is the slice of the MQTT client the listener uses.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// CommandListenerDeps are the collaborators a CommandListener needs.
type CommandListenerDeps struct {
	Broker        Broker
	Queue         *queue.Queue
	RequestTopic  string
	ResponseTopic string
	QoS           byte
	Logger        Logger
}

// CommandListener validates request envelopes arriving over MQTT and pushes
// them onto the work queue. Every message gets a response on the response
// topic: return code 200 with "accepted" when queued, 255 with a reason when
// not.
type CommandListener struct {
	broker        Broker
	queue         *queue.Queue
	requestTopic  string
	responseTopic string
	qos           byte
	logger        Logger
}

// NewCommandListener creates a CommandListener from its collaborators.
func NewCommandListener(deps CommandListenerDeps) *CommandListener {
	return &CommandListener{
		broker:        deps.Broker,
		queue:         deps.Queue,
		requestTopic:  deps.RequestTopic,
		responseTopic: deps.ResponseTopic,
		qos:           deps.QoS,
		logger:        deps.Logger,
	}
}

// Start subscribes to the request topic. Messages are handled on the MQTT
// client's goroutines for the life of the subscription.
func (l *CommandListener) Start() error {
	if err := l.broker.Subscribe(l.requestTopic, l.qos, l.handleMessage); err != nil {
		return fmt.Errorf("ingress: subscribing to %s: %w", l.requestTopic, err)
	}
	l.logInfo("command listener started", "topic", l.requestTopic)
	return nil
}

// handleMessage validates and enqueues one request envelope.
func (l *CommandListener) handleMessage(_ string, payload []byte) error {
	var envelope map[string]any
	if err := json.Unmarshal(payload, &envelope); err != nil {
		l.publishRejection(payload, "", msgInvalidJSON)
		return nil
	}

	messageID, reason := validateEnvelope(envelope)
	if reason != "" {
		l.publishRejection(payload, messageID, reason)
		return nil
	}

	if err := l.queue.TryPut(queue.Item{Payload: payload, Source: "mqtt"}); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			l.publishRejection(payload, messageID, msgQueueFull)
			return nil
		}
		return fmt.Errorf("ingress: enqueueing command: %w", err)
	}

	l.publishAccepted(payload, messageID)
	return nil
}

// validateEnvelope checks the required request keys. It returns the message
// id (when present) and an empty reason on success.
func validateEnvelope(envelope map[string]any) (messageID, reason string) {
	id, ok := envelope["message_id"].(string)
	if !ok || id == "" {
		return "", fmt.Sprintf(msgMissingField, "message_id")
	}
	command, ok := envelope["command"].(string)
	if !ok || command == "" {
		return id, fmt.Sprintf(msgMissingField, "command")
	}
	return id, ""
}

// ack is the response published for every inbound command.
type ack struct {
	Timestamp  int64  `json:"timestamp"`
	Message    string `json:"message"`
	MessageID  string `json:"message_id,omitempty"`
	Response   string `json:"response"`
	ReturnCode int    `json:"return_code"`
}

func (l *CommandListener) publishAccepted(original []byte, messageID string) {
	l.publishAck(ack{
		Timestamp:  time.Now().UnixMilli(),
		Message:    string(original),
		MessageID:  messageID,
		Response:   "accepted",
		ReturnCode: ReturnAccepted,
	})
}

func (l *CommandListener) publishRejection(original []byte, messageID, reason string) {
	l.logWarn("rejecting command", "reason", reason)
	l.publishAck(ack{
		Timestamp:  time.Now().UnixMilli(),
		Message:    string(original),
		MessageID:  messageID,
		Response:   reason,
		ReturnCode: ReturnRejected,
	})
}

func (l *CommandListener) publishAck(a ack) {
	payload, err := json.Marshal(a)
	if err != nil {
		l.logError("encoding ack", "error", err)
		return
	}
	if err := l.broker.Publish(l.responseTopic, payload, l.qos, false); err != nil {
		l.logError("publishing ack", "topic", l.responseTopic, "error", err)
	}
}

func (l *CommandListener) logInfo(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Info(msg, args...)
	}
}

func (l *CommandListener) logWarn(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Warn(msg, args...)
	}
}

func (l *CommandListener) logError(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Error(msg, args...)
	}
}
