// Package webhook delivers local-notification callbacks: outbound HTTP
// calls reporting shadow changes to a locally configured listener.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// maxConcurrent caps in-flight webhook deliveries. Local listeners are
// typically small test harnesses; two concurrent calls is plenty.
const maxConcurrent = 2

// requestTimeout bounds one delivery attempt.
const requestTimeout = 10 * time.Second

// Logger is the minimal logging surface the notifier needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Payload is the wire format of a shadow-change notification.
type Payload struct {
	Type    string        `json:"Type"`
	Message ChangeMessage `json:"Message"`
}

// ChangeMessage describes one shard transition.
type ChangeMessage struct {
	ThingName  string          `json:"thing_name"`
	ShadowName string          `json:"shadow_name"`
	Previous   json.RawMessage `json:"previous"`
	Current    json.RawMessage `json:"current"`
}

// Notifier performs outbound webhook calls in the background, throttled to
// maxConcurrent in-flight deliveries. Delivery is best-effort; failures are
// logged and dropped.
type Notifier struct {
	client *http.Client
	sem    *semaphore.Weighted
	logger Logger
	wg     sync.WaitGroup
}

// NewNotifier creates a Notifier with its own HTTP client.
func NewNotifier(logger Logger) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: requestTimeout},
		sem:    semaphore.NewWeighted(maxConcurrent),
		logger: logger,
	}
}

// Call delivers body to url+endpoint in the background. It returns
// immediately; acquisition of a delivery slot and the HTTP round trip happen
// on a separate goroutine.
func (n *Notifier) Call(ctx context.Context, method, url, endpoint string, body json.RawMessage) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		if err := n.sem.Acquire(ctx, 1); err != nil {
			n.logWarn("webhook delivery cancelled before start", "error", err)
			return
		}
		defer n.sem.Release(1)

		if err := n.deliver(ctx, method, url, endpoint, body); err != nil {
			n.logError("webhook delivery failed",
				"url", url,
				"endpoint", endpoint,
				"error", err,
			)
			return
		}
		n.logDebug("webhook delivered", "url", url, "endpoint", endpoint)
	}()
}

// Notify is a convenience wrapper building the standard shadow-change
// payload and posting it.
func (n *Notifier) Notify(ctx context.Context, method, url, endpoint string, msg ChangeMessage) {
	body, err := json.Marshal(Payload{Type: "update", Message: msg})
	if err != nil {
		n.logError("encoding webhook payload", "error", err)
		return
	}
	n.Call(ctx, method, url, endpoint, body)
}

// Wait blocks until all in-flight deliveries finish. Used during shutdown.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, method, url, endpoint string, body json.RawMessage) error {
	if method == "" {
		method = http.MethodPost
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // Best effort drain

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook: listener returned %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) logDebug(msg string, args ...any) {
	if n.logger != nil {
		n.logger.Debug(msg, args...)
	}
}

func (n *Notifier) logWarn(msg string, args ...any) {
	if n.logger != nil {
		n.logger.Warn(msg, args...)
	}
}

func (n *Notifier) logError(msg string, args ...any) {
	if n.logger != nil {
		n.logger.Error(msg, args...)
	}
}
