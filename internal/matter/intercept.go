package matter

import (
	"context"
	"encoding/json"

	"github.com/mattercloud/mcc-core/internal/queue"
)

// pairingCodeAttributePath is where a freshly opened commissioning window's
// pairing code is recorded so cloud clients can read it back through the
// node's shadow.
const pairingCodeAttributePath = "0/48/2"

// WebhookCaller performs outbound webhook notifications. Implementations
// must not block the caller; delivery happens in the background.
type WebhookCaller interface {
	Call(ctx context.Context, method, url, endpoint string, body json.RawMessage)
}

// InterceptorDeps are the collaborators command interception needs.
type InterceptorDeps struct {
	Registry *Registry
	Queue    *queue.Queue
	Webhook  WebhookCaller
	Logger   Logger
}

// Interceptor inspects each dequeued command before it is written to the
// device-graph socket. Most commands pass through untouched; a small set is
// handled entirely inside the controller.
type Interceptor struct {
	registry *Registry
	queue    *queue.Queue
	webhook  WebhookCaller
	logger   Logger
}

// NewInterceptor creates an Interceptor from its collaborators.
func NewInterceptor(deps InterceptorDeps) *Interceptor {
	return &Interceptor{
		registry: deps.Registry,
		queue:    deps.Queue,
		webhook:  deps.Webhook,
		logger:   deps.Logger,
	}
}

// webhookArgs is the argument shape of a call_webhook pseudo command.
type webhookArgs struct {
	Method   string          `json:"method"`
	URL      string          `json:"url"`
	Endpoint string          `json:"endpoint"`
	Body     json.RawMessage `json:"body"`
}

// commissioningResult is the payload answering open_commissioning_window.
type commissioningResult struct {
	SetupPinCode    int64  `json:"setup_pin_code"`
	SetupManualCode string `json:"setup_manual_code"`
	SetupQRCode     string `json:"setup_qr_code"`
}

// Intercept inspects one dequeued item and reports whether it should still
// be forwarded to the device-graph server.
//
//   - call_webhook: handled locally, never forwarded.
//   - open_commissioning_window: forwarded, but a callback is registered so
//     the pairing code in the response is written back to the node's shadow
//     via a write_attribute follow-up.
//   - everything else: forwarded unchanged.
//
// Items that do not decode as request envelopes are forwarded as-is; the
// server is the authority on rejecting malformed commands.
func (i *Interceptor) Intercept(ctx context.Context, item queue.Item) bool {
	var req struct {
		MessageID string          `json:"message_id"`
		Command   string          `json:"command"`
		Args      json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(item.Payload, &req); err != nil {
		return true
	}

	switch req.Command {
	case CmdCallWebhook:
		i.handleWebhook(ctx, req.Args)
		return false
	case CmdOpenCommissioningWindow:
		i.registerPairingCallback(req.MessageID, req.Args)
		return true
	default:
		return true
	}
}

func (i *Interceptor) handleWebhook(ctx context.Context, args json.RawMessage) {
	if i.webhook == nil {
		i.logWarn("call_webhook received but no webhook caller configured")
		return
	}

	var wa webhookArgs
	if err := json.Unmarshal(args, &wa); err != nil {
		i.logError("decoding call_webhook args", "error", err)
		return
	}

	i.webhook.Call(ctx, wa.Method, wa.URL, wa.Endpoint, wa.Body)
}

// registerPairingCallback arranges for the commissioning response's pairing
// code to be recorded on the node once it arrives.
func (i *Interceptor) registerPairingCallback(messageID string, args json.RawMessage) {
	var wa struct {
		NodeID int64 `json:"node_id"`
	}
	if err := json.Unmarshal(args, &wa); err != nil {
		i.logError("decoding open_commissioning_window args", "error", err)
		return
	}

	i.registry.Register(messageID, func(ctx context.Context, result json.RawMessage) {
		var cr commissioningResult
		if err := json.Unmarshal(result, &cr); err != nil {
			i.logError("decoding commissioning window result", "error", err)
			return
		}

		code := cr.SetupManualCode
		if code == "" && cr.SetupQRCode != "" {
			code = cr.SetupQRCode
		}
		if code == "" {
			i.logWarn("commissioning window opened without pairing code",
				"node_id", wa.NodeID,
			)
			return
		}

		req := WriteAttributeRequest(wa.NodeID, pairingCodeAttributePath, code)
		payload, err := req.Encode()
		if err != nil {
			i.logError("encoding pairing code write", "error", err)
			return
		}
		if err := i.queue.Put(ctx, queue.Item{Payload: payload, Source: "router"}); err != nil {
			i.logError("enqueueing pairing code write", "error", err)
			return
		}
		i.logInfo("pairing code recorded for node", "node_id", wa.NodeID)
	})
}

func (i *Interceptor) logInfo(msg string, args ...any) {
	if i.logger != nil {
		i.logger.Info(msg, args...)
	}
}

func (i *Interceptor) logWarn(msg string, args ...any) {
	if i.logger != nil {
		i.logger.Warn(msg, args...)
	}
}

func (i *Interceptor) logError(msg string, args ...any) {
	if i.logger != nil {
		i.logger.Error(msg, args...)
	}
}
