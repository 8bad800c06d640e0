package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := New(10, 1024)
	ctx := context.Background()

	payloads := []string{"first", "second", "third"}
	for _, p := range payloads {
		if err := q.Put(ctx, Item{Payload: []byte(p), Source: "test"}); err != nil {
			t.Fatalf("Put(%q) failed: %v", p, err)
		}
	}

	for _, want := range payloads {
		item, err := q.Get(ctx)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if got := string(item.Payload); got != want {
			t.Errorf("Get() = %q, want %q", got, want)
		}
	}
}

func TestTryPutItemBound(t *testing.T) {
	q := New(2, 1024)

	if err := q.TryPut(Item{Payload: []byte("a")}); err != nil {
		t.Fatalf("TryPut(a) failed: %v", err)
	}
	if err := q.TryPut(Item{Payload: []byte("b")}); err != nil {
		t.Fatalf("TryPut(b) failed: %v", err)
	}

	err := q.TryPut(Item{Payload: []byte("c")})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("TryPut on full queue = %v, want ErrQueueFull", err)
	}
}

func TestTryPutByteBound(t *testing.T) {
	q := New(10, 8)

	if err := q.TryPut(Item{Payload: []byte("12345")}); err != nil {
		t.Fatalf("TryPut failed: %v", err)
	}

	// 5 bytes used, 3 remaining, next item needs 5.
	err := q.TryPut(Item{Payload: []byte("12345")})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("TryPut over byte budget = %v, want ErrQueueFull", err)
	}
}

func TestPutBlocksUntilSpace(t *testing.T) {
	q := New(1, 1024)
	ctx := context.Background()

	if err := q.Put(ctx, Item{Payload: []byte("held")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- q.Put(ctx, Item{Payload: []byte("waiting")})
	}()

	select {
	case err := <-unblocked:
		t.Fatalf("Put returned %v before space was available", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := q.Get(ctx); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	select {
	case err := <-unblocked:
		if err != nil {
			t.Errorf("blocked Put returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Put did not unblock after Get freed space")
	}
}

func TestPutRespectsContextCancel(t *testing.T) {
	q := New(1, 1024)
	if err := q.Put(context.Background(), Item{Payload: []byte("held")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Put(ctx, Item{Payload: []byte("blocked")})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Put on full queue with expired context = %v, want DeadlineExceeded", err)
	}
}

func TestItemTooLarge(t *testing.T) {
	q := New(10, 16)

	err := q.Put(context.Background(), Item{Payload: make([]byte, 17)})
	if !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("Put oversize item = %v, want ErrItemTooLarge", err)
	}

	err = q.TryPut(Item{Payload: make([]byte, 17)})
	if !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("TryPut oversize item = %v, want ErrItemTooLarge", err)
	}
}

func TestGetReleasesByteBudget(t *testing.T) {
	q := New(10, 8)
	ctx := context.Background()

	if err := q.Put(ctx, Item{Payload: []byte("12345678")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := q.Get(ctx); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	// The full budget should be available again.
	if err := q.TryPut(Item{Payload: []byte("12345678")}); err != nil {
		t.Errorf("TryPut after drain = %v, want nil", err)
	}
}

func TestJoinWaitsForTaskDone(t *testing.T) {
	q := New(10, 1024)
	ctx := context.Background()

	if err := q.Put(ctx, Item{Payload: []byte("work")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := q.Get(ctx); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	joinCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := q.Join(joinCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Join before TaskDone = %v, want DeadlineExceeded", err)
	}

	q.TaskDone()

	if err := q.Join(ctx); err != nil {
		t.Errorf("Join after TaskDone = %v, want nil", err)
	}
}

func TestCloseRejectsNewItems(t *testing.T) {
	q := New(10, 1024)
	ctx := context.Background()

	if err := q.Put(ctx, Item{Payload: []byte("queued")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	q.Close()

	if err := q.Put(ctx, Item{Payload: []byte("late")}); !errors.Is(err, ErrClosed) {
		t.Errorf("Put after Close = %v, want ErrClosed", err)
	}
	if err := q.TryPut(Item{Payload: []byte("late")}); !errors.Is(err, ErrClosed) {
		t.Errorf("TryPut after Close = %v, want ErrClosed", err)
	}

	// Items queued before Close remain drainable.
	item, err := q.Get(ctx)
	if err != nil {
		t.Fatalf("Get after Close failed: %v", err)
	}
	if got := string(item.Payload); got != "queued" {
		t.Errorf("Get after Close = %q, want %q", got, "queued")
	}
}

func TestLenAndPendingBytes(t *testing.T) {
	q := New(10, 1024)
	ctx := context.Background()

	q.Put(ctx, Item{Payload: []byte("abc")})
	q.Put(ctx, Item{Payload: []byte("defgh")})

	if got := q.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	if got := q.PendingBytes(); got != 8 {
		t.Errorf("PendingBytes() = %d, want 8", got)
	}

	q.Get(ctx)

	if got := q.Len(); got != 1 {
		t.Errorf("Len() after Get = %d, want 1", got)
	}
	if got := q.PendingBytes(); got != 5 {
		t.Errorf("PendingBytes() after Get = %d, want 5", got)
	}
}
