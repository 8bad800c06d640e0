package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/mattercloud/mcc-core/internal/infrastructure/config"
)

const defaultConnectTimeout = 10 * time.Second

// Client wraps the InfluxDB v2 client as an attribute-history sink.
//
// All methods are safe for concurrent use. Writes are batched and sent
// asynchronously; failures surface through the SetOnError callback.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu        sync.RWMutex
	connected bool
	onError   func(err error)
}

// Connect creates a client and verifies the server responds to a ping.
func Connect(cfg config.HistoryConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		connected: true,
	}

	go c.handleWriteErrors(c.writeAPI.Errors())

	return c, nil
}

// handleWriteErrors forwards async write errors to the configured callback.
func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError sets the callback invoked for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// RecordAttribute writes one reported attribute value as a point in the
// attribute_history measurement. Numeric and boolean values become typed
// fields; anything else is stored as its string form.
func (c *Client) RecordAttribute(nodeID int64, endpointID int, path string, value any) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]any{}
	switch v := value.(type) {
	case bool:
		fields["value_bool"] = v
	case float64:
		fields["value"] = v
	case int:
		fields["value"] = float64(v)
	case int64:
		fields["value"] = float64(v)
	case string:
		fields["value_str"] = v
	default:
		fields["value_str"] = fmt.Sprintf("%v", value)
	}

	point := write.NewPoint(
		"attribute_history",
		map[string]string{
			"node_id":  strconv.FormatInt(nodeID, 10),
			"endpoint": strconv.Itoa(endpointID),
			"path":     path,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck actively pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// Flush forces pending writes out. Blocks until the buffer drains.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes pending writes and shuts the client down.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
