// Package queue provides the bounded work queue that feeds outbound commands
// to the device-graph connection.
//
// The queue is bounded two ways: by item count and by total payload bytes.
// Producers (MQTT ingress, REST handlers, the shadow synchronizer, the
// response router's follow-up commands) block until space is available, or
// use TryPut for fail-fast behaviour. A single consumer drains the queue and
// writes each payload to the websocket.
package queue

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Domain-specific errors for queue operations.
var (
	// ErrQueueFull is returned by TryPut when the queue cannot accept the
	// item without blocking.
	ErrQueueFull = errors.New("queue: full")

	// ErrItemTooLarge is returned when a single payload exceeds the queue's
	// total byte capacity and could never be accepted.
	ErrItemTooLarge = errors.New("queue: item exceeds byte capacity")

	// ErrClosed is returned for operations on a closed queue.
	ErrClosed = errors.New("queue: closed")
)

// Item is a unit of outbound work: a command payload bound for the
// device-graph server, tagged with where it came from.
type Item struct {
	// Payload is the JSON command envelope to write to the websocket.
	Payload []byte

	// Source identifies the producer (mqtt, rest, sync, router, poller).
	// Used for logging only.
	Source string
}

// Queue is a FIFO work queue bounded by item count and total payload bytes.
//
// Put blocks until both a slot and the payload's bytes are available. Get
// blocks until an item arrives. Byte budget is released when the item is
// removed by Get, not when processing finishes; TaskDone only drives Join.
//
// All methods are safe for concurrent use.
type Queue struct {
	items chan Item
	bytes *semaphore.Weighted

	maxBytes int64

	mu         sync.Mutex
	size       int
	pending    int64 // bytes currently held by queued items
	unfinished int
	closed     bool
	done       chan struct{} // closed when unfinished drops to zero
}

// New creates a queue bounded to maxItems entries and maxBytes total payload.
func New(maxItems, maxBytes int) *Queue {
	return &Queue{
		items:    make(chan Item, maxItems),
		bytes:    semaphore.NewWeighted(int64(maxBytes)),
		maxBytes: int64(maxBytes),
		done:     make(chan struct{}),
	}
}

// Put enqueues an item, blocking until capacity is available or the context
// is cancelled.
func (q *Queue) Put(ctx context.Context, item Item) error {
	n := int64(len(item.Payload))
	if n > q.maxBytes {
		return ErrItemTooLarge
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.mu.Unlock()

	if err := q.bytes.Acquire(ctx, n); err != nil {
		return err
	}

	select {
	case q.items <- item:
	case <-ctx.Done():
		q.bytes.Release(n)
		return ctx.Err()
	}

	q.mu.Lock()
	q.size++
	q.pending += n
	q.unfinished++
	q.mu.Unlock()

	return nil
}

// TryPut enqueues an item without blocking. It returns ErrQueueFull when
// either the item-count bound or the byte bound would be exceeded.
func (q *Queue) TryPut(item Item) error {
	n := int64(len(item.Payload))
	if n > q.maxBytes {
		return ErrItemTooLarge
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.mu.Unlock()

	if !q.bytes.TryAcquire(n) {
		return ErrQueueFull
	}

	select {
	case q.items <- item:
	default:
		q.bytes.Release(n)
		return ErrQueueFull
	}

	q.mu.Lock()
	q.size++
	q.pending += n
	q.unfinished++
	q.mu.Unlock()

	return nil
}

// Get removes and returns the oldest item, blocking until one is available
// or the context is cancelled. The item's bytes are released back to the
// budget immediately on removal.
func (q *Queue) Get(ctx context.Context) (Item, error) {
	select {
	case item := <-q.items:
		n := int64(len(item.Payload))
		q.bytes.Release(n)
		q.mu.Lock()
		q.size--
		q.pending -= n
		q.mu.Unlock()
		return item, nil
	case <-ctx.Done():
		return Item{}, ctx.Err()
	}
}

// TaskDone marks one previously fetched item as fully processed. Join
// unblocks once every Put has a matching TaskDone.
func (q *Queue) TaskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished == 0 {
		return
	}
	q.unfinished--
	if q.unfinished == 0 {
		close(q.done)
		q.done = make(chan struct{})
	}
}

// Join blocks until all enqueued items have been processed (every Put matched
// by a TaskDone), or the context is cancelled.
func (q *Queue) Join(ctx context.Context) error {
	q.mu.Lock()
	if q.unfinished == 0 {
		q.mu.Unlock()
		return nil
	}
	done := q.done
	q.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of items currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// PendingBytes returns the total payload bytes currently queued.
func (q *Queue) PendingBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Close marks the queue closed. Subsequent Put and TryPut calls fail with
// ErrClosed; items already queued can still be drained with Get.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
