package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mattercloud/mcc-core/internal/infrastructure/config"
	"github.com/mattercloud/mcc-core/internal/infrastructure/logging"
	"github.com/mattercloud/mcc-core/internal/matter"
	"github.com/mattercloud/mcc-core/internal/queue"
	"github.com/mattercloud/mcc-core/internal/shadow"
)

func testServer(t *testing.T) (*Server, *queue.Queue, *matter.Registry, *shadow.MemoryStore) {
	t.Helper()

	q := queue.New(10, 1<<20)
	registry := matter.NewRegistry()
	store := shadow.NewMemoryStore()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		Logger:          log,
		Queue:           q,
		Registry:        registry,
		Store:           store,
		ResponseTimeout: 200 * time.Millisecond,
		Version:         "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, q, registry, store
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _, _ := testServer(t)
	router := srv.buildRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestChipRequestBodyAccepted(t *testing.T) {
	srv, q, _, _ := testServer(t)
	router := srv.buildRouter()

	payload := `{"message_id": "abc", "command": "get_nodes"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/message/chip/request", strings.NewReader(payload)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var ackBody commandAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ackBody); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if ackBody.ReturnCode != returnAccepted {
		t.Errorf("return code = %d, want %d", ackBody.ReturnCode, returnAccepted)
	}
	if ackBody.MessageID != "abc" {
		t.Errorf("message id = %q, want %q", ackBody.MessageID, "abc")
	}

	item, err := q.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(item.Payload) != payload {
		t.Errorf("queued payload = %q, want %q", item.Payload, payload)
	}
	if item.Source != "api" {
		t.Errorf("source = %q, want %q", item.Source, "api")
	}
}

func TestChipRequestQueryAccepted(t *testing.T) {
	srv, q, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/chip-request", nil)
	values := req.URL.Query()
	values.Set("json", `{"message_id": "xyz", "command": "get_node", "args": {"node_id": 7}}`)
	req.URL.RawQuery = values.Encode()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := q.Len(); got != 1 {
		t.Errorf("queue length = %d, want 1", got)
	}
}

func TestChipRequestRejectsBadEnvelopes(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantCode int
	}{
		{"invalid json", `{broken`, http.StatusBadRequest},
		{"missing message id", `{"command": "get_nodes"}`, http.StatusBadRequest},
		{"missing command", `{"message_id": "abc"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, q, _, _ := testServer(t)
			router := srv.buildRouter()

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/message/chip/request", strings.NewReader(tt.payload)))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var ackBody commandAck
			if err := json.Unmarshal(rec.Body.Bytes(), &ackBody); err != nil {
				t.Fatalf("decoding ack: %v", err)
			}
			if ackBody.ReturnCode != returnRejected {
				t.Errorf("return code = %d, want %d", ackBody.ReturnCode, returnRejected)
			}
			if got := q.Len(); got != 0 {
				t.Errorf("queue length = %d, want 0", got)
			}
		})
	}
}

func TestChipRequestQueueFull(t *testing.T) {
	srv, q, _, _ := testServer(t)
	srv.queue = queue.New(1, 1<<20)
	q = srv.queue
	router := srv.buildRouter()

	first := `{"message_id": "one", "command": "get_nodes"}`
	second := `{"message_id": "two", "command": "get_nodes"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/message/chip/request", strings.NewReader(first)))
	if rec.Code != http.StatusOK {
		t.Fatalf("first status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/message/chip/request", strings.NewReader(second)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("second status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if got := q.Len(); got != 1 {
		t.Errorf("queue length = %d, want 1", got)
	}
}

func TestListNodesRoundTrip(t *testing.T) {
	srv, q, registry, _ := testServer(t)
	router := srv.buildRouter()

	// Play the device-graph side: pop the queued request and complete its
	// callback with a node list.
	go func() {
		item, err := q.Get(context.Background())
		if err != nil {
			return
		}
		defer q.TaskDone()
		var req struct {
			MessageID string `json:"message_id"`
		}
		if err := json.Unmarshal(item.Payload, &req); err != nil {
			return
		}
		registry.Complete(context.Background(), req.MessageID,
			json.RawMessage(`[{"node_id": 7, "available": true}]`))
	}()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nodes", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var nodes []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &nodes); err != nil {
		t.Fatalf("decoding nodes: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("nodes = %d, want 1", len(nodes))
	}
	if nodes[0]["node_id"] != float64(7) {
		t.Errorf("node_id = %v, want 7", nodes[0]["node_id"])
	}
}

func TestListNodesTimesOut(t *testing.T) {
	srv, _, _, _ := testServer(t)
	router := srv.buildRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nodes", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusGatewayTimeout)
	}
}

func TestGetShadow(t *testing.T) {
	srv, _, _, store := testServer(t)
	router := srv.buildRouter()

	doc := json.RawMessage(`{"state": {"reported": {"0/6/0": true}}}`)
	if _, err := store.Update(context.Background(), "mcc-thing-ver01-1", "7_0", doc); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/shadow/mcc-thing-ver01-1/7_0", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding shadow: %v", err)
	}
	state, _ := body["state"].(map[string]any)
	reported, _ := state["reported"].(map[string]any)
	if reported["0/6/0"] != true {
		t.Errorf("reported 0/6/0 = %v, want true", reported["0/6/0"])
	}
}

func TestListShadows(t *testing.T) {
	srv, _, _, store := testServer(t)
	router := srv.buildRouter()

	thing := "mcc-thing-ver01-1"
	for _, shard := range []string{"7_0", "7_1", "events_7"} {
		doc := json.RawMessage(`{"state": {"reported": {}}}`)
		if _, err := store.Update(context.Background(), thing, shard, doc); err != nil {
			t.Fatalf("seeding store: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/things/shadow/ListNamedShadowsForThing/"+thing, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var body struct {
		Results   []string `json:"results"`
		Timestamp int64    `json:"timestamp"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Results) != 3 {
		t.Fatalf("results = %v, want 3 shards", body.Results)
	}
	if body.Timestamp == 0 {
		t.Errorf("timestamp missing")
	}
}

func TestListShadowsEmptyThing(t *testing.T) {
	srv, _, _, _ := testServer(t)
	router := srv.buildRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/things/shadow/ListNamedShadowsForThing/unknown-thing", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Results []string `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Results == nil || len(body.Results) != 0 {
		t.Errorf("results = %v, want empty list", body.Results)
	}
}

func TestDeleteShadow(t *testing.T) {
	srv, _, _, store := testServer(t)
	router := srv.buildRouter()

	thing := "mcc-thing-ver01-1"
	doc := json.RawMessage(`{"state": {"reported": {"0/6/0": true}}}`)
	if _, err := store.Update(context.Background(), thing, "7_0", doc); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/deleteshadow/"+thing+"/7_0", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["response"] != "OK" {
		t.Errorf("response = %v, want OK", body["response"])
	}
	if body["return_code"] != float64(http.StatusOK) {
		t.Errorf("return_code = %v, want 200", body["return_code"])
	}

	if _, err := store.Get(context.Background(), thing, "7_0"); !errors.Is(err, shadow.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteShadowMissingShard(t *testing.T) {
	srv, _, _, _ := testServer(t)
	router := srv.buildRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/deleteshadow/mcc-thing-ver01-1/9_0", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	srv, _, _, _ := testServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	// Port 0 means the listener picks a free port; wait for it to be bound.
	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never bound a listener")
		}
		addr = srv.Addr()
		if addr == "" {
			time.Sleep(5 * time.Millisecond)
		}
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestGetShadowNotFound(t *testing.T) {
	srv, _, _, _ := testServer(t)
	router := srv.buildRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/shadow/mcc-thing-ver01-1/9_0", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
