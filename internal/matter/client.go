package matter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mattercloud/mcc-core/internal/queue"
)

// dialTimeout bounds the initial websocket handshake.
const dialTimeout = 10 * time.Second

// writeTimeout bounds each outbound frame write.
const writeTimeout = 10 * time.Second

// Client owns the single websocket session to the device-graph server for
// one supervision cycle. It runs two loops: ReceiveLoop reads frames and
// hands them to the Router, DrainLoop takes items off the work queue and
// writes them to the socket.
//
// A Client is single-use: once either loop returns, the connection is closed
// and the supervisor builds a fresh Client for the next cycle.
type Client struct {
	conn      *websocket.Conn
	queue     *queue.Queue
	router    *Router
	intercept *Interceptor
	logger    Logger

	writeMu    sync.Mutex
	closeOnce  sync.Once
	closeErr   error
	closedFlag atomic.Bool
}

// ClientDeps are the collaborators a Client needs.
type ClientDeps struct {
	Queue       *queue.Queue
	Router      *Router
	Interceptor *Interceptor
	Logger      Logger
}

// Dial connects to the device-graph server's websocket endpoint.
//
// A refused connection is reported as ErrCannotConnect so the supervisor can
// distinguish "server not started" from other failures, which are fatal.
func Dial(ctx context.Context, url string, deps ClientDeps) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s", ErrCannotConnect, url)
		}
		return nil, fmt.Errorf("matter: dialing %s: %w", url, err)
	}

	return &Client{
		conn:      conn,
		queue:     deps.Queue,
		router:    deps.Router,
		intercept: deps.Interceptor,
		logger:    deps.Logger,
	}, nil
}

// StartListening opens the server's node update stream. Must be called once,
// before the loops start.
func (c *Client) StartListening() error {
	payload, err := StartListeningRequest().Encode()
	if err != nil {
		return err
	}
	return c.write(payload)
}

// ReceiveLoop reads frames until the connection closes or a frame fails to
// parse. Either way the socket is closed on exit, which also unblocks the
// sibling DrainLoop's next write. The returned error wraps
// ErrConnectionClosed so the supervisor restarts the cycle.
func (c *Client) ReceiveLoop(ctx context.Context) error {
	defer c.Close()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}

		if err := c.router.Dispatch(ctx, frame); err != nil {
			c.logError("undecodable frame, closing session", "error", err)
			return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}
	}
}

// DrainLoop consumes the work queue and writes each item to the socket.
//
// Every dequeued item is marked done regardless of outcome. Items the
// interceptor claims are never written. Write failures on a live connection
// are logged and the loop continues; only socket closure or context
// cancellation ends the loop.
func (c *Client) DrainLoop(ctx context.Context) error {
	for {
		item, err := c.queue.Get(ctx)
		if err != nil {
			return err
		}

		c.processItem(ctx, item)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if c.closed() {
			return ErrConnectionClosed
		}
	}
}

// processItem intercepts and, when appropriate, writes one item. TaskDone is
// always called, keeping queue join accounting balanced.
func (c *Client) processItem(ctx context.Context, item queue.Item) {
	defer c.queue.TaskDone()

	if c.intercept != nil && !c.intercept.Intercept(ctx, item) {
		c.logDebug("item handled locally", "source", item.Source)
		return
	}

	if err := c.write(item.Payload); err != nil {
		c.logError("sending queued item failed",
			"source", item.Source,
			"error", err,
		)
	}
}

// write sends one text frame. Serialized because gorilla permits only one
// concurrent writer.
func (c *Client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("matter: setting write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if errors.Is(err, net.ErrClosed) || websocket.IsUnexpectedCloseError(err) {
			return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}
		return fmt.Errorf("matter: writing frame: %w", err)
	}
	return nil
}

// Close shuts the websocket down. Safe to call from multiple goroutines;
// only the first call performs the close handshake.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closedFlag.Store(true)
		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// closed reports whether Close has run.
func (c *Client) closed() bool {
	return c.closedFlag.Load()
}

func (c *Client) logDebug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Error(msg, args...)
	}
}
