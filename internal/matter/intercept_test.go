package matter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mattercloud/mcc-core/internal/queue"
)

type fakeWebhookCaller struct {
	method   string
	url      string
	endpoint string
	body     json.RawMessage
	calls    int
}

func (f *fakeWebhookCaller) Call(_ context.Context, method, url, endpoint string, body json.RawMessage) {
	f.calls++
	f.method = method
	f.url = url
	f.endpoint = endpoint
	f.body = body
}

func TestInterceptForwardsOrdinaryCommands(t *testing.T) {
	i := NewInterceptor(InterceptorDeps{
		Registry: NewRegistry(),
		Queue:    queue.New(10, 1<<20),
	})

	item := queue.Item{Payload: []byte(`{"message_id":"42","command":"get_node","args":{"node_id":7}}`)}
	if !i.Intercept(context.Background(), item) {
		t.Error("Intercept() = false for ordinary command, want true")
	}
}

func TestInterceptForwardsUndecodableItems(t *testing.T) {
	i := NewInterceptor(InterceptorDeps{
		Registry: NewRegistry(),
		Queue:    queue.New(10, 1<<20),
	})

	item := queue.Item{Payload: []byte("not json")}
	if !i.Intercept(context.Background(), item) {
		t.Error("Intercept() = false for undecodable item, want true")
	}
}

func TestInterceptHandlesWebhookLocally(t *testing.T) {
	wh := &fakeWebhookCaller{}
	i := NewInterceptor(InterceptorDeps{
		Registry: NewRegistry(),
		Queue:    queue.New(10, 1<<20),
		Webhook:  wh,
	})

	payload := `{"message_id":"42","command":"call_webhook","args":{"method":"POST","url":"http://localhost:9000","endpoint":"/notify","body":{"hello":1}}}`
	if i.Intercept(context.Background(), queue.Item{Payload: []byte(payload)}) {
		t.Error("Intercept() = true for call_webhook, want false")
	}

	if wh.calls != 1 {
		t.Fatalf("webhook called %d times, want 1", wh.calls)
	}
	if wh.method != "POST" || wh.url != "http://localhost:9000" || wh.endpoint != "/notify" {
		t.Errorf("webhook call = %s %s%s, want POST http://localhost:9000/notify",
			wh.method, wh.url, wh.endpoint)
	}
}

func TestInterceptCommissioningWindowRegistersCallback(t *testing.T) {
	reg := NewRegistry()
	q := queue.New(10, 1<<20)
	i := NewInterceptor(InterceptorDeps{Registry: reg, Queue: q})

	payload := `{"message_id":"77","command":"open_commissioning_window","args":{"node_id":7}}`
	if !i.Intercept(context.Background(), queue.Item{Payload: []byte(payload)}) {
		t.Fatal("Intercept() = false for open_commissioning_window, want true")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry has %d callbacks, want 1", reg.Len())
	}

	// Completing the correlated response records the pairing code.
	result := json.RawMessage(`{"setup_pin_code":20202021,"setup_manual_code":"34970112332"}`)
	if !reg.Complete(context.Background(), "77", result) {
		t.Fatal("Complete() = false, want true")
	}

	item, err := q.Get(context.Background())
	if err != nil {
		t.Fatalf("no write_attribute follow-up on queue: %v", err)
	}

	var req Request
	if err := json.Unmarshal(item.Payload, &req); err != nil {
		t.Fatalf("follow-up is not a request envelope: %v", err)
	}
	if req.Command != CmdWriteAttribute {
		t.Errorf("follow-up command = %q, want %q", req.Command, CmdWriteAttribute)
	}
	if got := req.Args["value"]; got != "34970112332" {
		t.Errorf("recorded pairing code = %v, want 34970112332", got)
	}
	if got := req.Args["node_id"]; got != float64(7) {
		t.Errorf("follow-up node_id = %v, want 7", got)
	}
}
