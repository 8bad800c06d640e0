package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mattercloud/mcc-core/internal/queue"
)

// Return codes mirrored from the MQTT command channel.
const (
	returnAccepted = 200
	returnRejected = 255
)

// commandAck is the acknowledgment body for queued (or rejected) commands.
type commandAck struct {
	MessageID  string `json:"message_id,omitempty"`
	Response   string `json:"response"`
	ReturnCode int    `json:"return_code"`
}

// handleChipRequestQuery accepts a command envelope in the json query
// parameter. Kept for callers that cannot easily POST.
func (s *Server) handleChipRequestQuery(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("json")
	if raw == "" {
		writeBadRequest(w, "json query parameter is required")
		return
	}
	s.enqueueCommand(w, []byte(raw))
}

// handleChipRequestBody accepts a command envelope as the request body.
func (s *Server) handleChipRequestBody(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body")
		return
	}
	s.enqueueCommand(w, payload)
}

// enqueueCommand validates the envelope and pushes it onto the work queue.
// The acknowledgment covers queue admission only; operation results surface
// through the shadows.
func (s *Server) enqueueCommand(w http.ResponseWriter, payload []byte) {
	var envelope map[string]any
	if err := json.Unmarshal(payload, &envelope); err != nil {
		writeJSON(w, http.StatusBadRequest, commandAck{
			Response:   "invalid json message received",
			ReturnCode: returnRejected,
		})
		return
	}

	messageID, _ := envelope["message_id"].(string)
	if messageID == "" {
		writeJSON(w, http.StatusBadRequest, commandAck{
			Response:   fmt.Sprintf("required attribute %s is missing", "message_id"),
			ReturnCode: returnRejected,
		})
		return
	}
	if command, _ := envelope["command"].(string); command == "" {
		writeJSON(w, http.StatusBadRequest, commandAck{
			MessageID:  messageID,
			Response:   fmt.Sprintf("required attribute %s is missing", "command"),
			ReturnCode: returnRejected,
		})
		return
	}

	if err := s.queue.TryPut(queue.Item{Payload: payload, Source: "api"}); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			writeJSON(w, http.StatusServiceUnavailable, commandAck{
				MessageID:  messageID,
				Response:   "work queue is full, retry later",
				ReturnCode: returnRejected,
			})
			return
		}
		s.logger.Error("enqueueing api command", "error", err)
		writeInternalError(w, "queueing command")
		return
	}

	writeJSON(w, http.StatusOK, commandAck{
		MessageID:  messageID,
		Response:   "accepted",
		ReturnCode: returnAccepted,
	})
}
