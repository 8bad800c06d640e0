package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattercloud/mcc-core/internal/matter"
)

type fakeSession struct {
	receiveErr error
	closed     atomic.Bool
}

func (f *fakeSession) StartListening() error { return nil }

func (f *fakeSession) ReceiveLoop(ctx context.Context) error {
	for !f.closed.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	if f.receiveErr != nil {
		return f.receiveErr
	}
	return matter.ErrConnectionClosed
}

func (f *fakeSession) DrainLoop(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeSession) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeProcess struct {
	running atomic.Bool
	starts  atomic.Int32
}

func (f *fakeProcess) IsRunning() bool { return f.running.Load() }

func (f *fakeProcess) Start() error {
	f.starts.Add(1)
	f.running.Store(true)
	return nil
}

func TestGivesUpAfterRetryBudget(t *testing.T) {
	var dials atomic.Int32
	sup, err := New(Deps{
		Dial: func(context.Context) (Session, error) {
			dials.Add(1)
			return nil, matter.ErrCannotConnect
		},
		RetryCount:   3,
		RetryBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = sup.Run(context.Background())
	if !errors.Is(err, ErrGivenUp) {
		t.Fatalf("Run error = %v, want ErrGivenUp", err)
	}
	// The budget covers three retries after the first refusal.
	if got := dials.Load(); got != 4 {
		t.Errorf("dial attempts = %d, want 4", got)
	}
	if got := sup.State(); got != StateStopped {
		t.Errorf("state = %q, want %q", got, StateStopped)
	}
}

func TestStartsManagedServerWhenRefused(t *testing.T) {
	proc := &fakeProcess{}
	sup, err := New(Deps{
		Dial: func(context.Context) (Session, error) {
			return nil, matter.ErrCannotConnect
		},
		Process:      proc,
		RetryCount:   2,
		RetryBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sup.Run(context.Background()); !errors.Is(err, ErrGivenUp) {
		t.Fatalf("Run error = %v, want ErrGivenUp", err)
	}
	// Started once; later refusals see it as already running.
	if got := proc.starts.Load(); got != 1 {
		t.Errorf("server starts = %d, want 1", got)
	}
}

func TestOtherDialErrorsAreFatal(t *testing.T) {
	boom := errors.New("handshake rejected")
	var dials atomic.Int32
	sup, err := New(Deps{
		Dial: func(context.Context) (Session, error) {
			dials.Add(1)
			return nil, boom
		},
		RetryCount:   3,
		RetryBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sup.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want wrapped %v", err, boom)
	}
	if got := dials.Load(); got != 1 {
		t.Errorf("dial attempts = %d, want 1", got)
	}
}

func TestReconnectsAfterSessionEnds(t *testing.T) {
	var dials atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup, err := New(Deps{
		Dial: func(context.Context) (Session, error) {
			if dials.Add(1) >= 2 {
				// Second connection: stop the supervisor from the outside
				// once we know reconnection happened.
				cancel()
			}
			session := &fakeSession{receiveErr: matter.ErrConnectionClosed}
			go func() {
				time.Sleep(10 * time.Millisecond)
				session.Close()
			}()
			return session, nil
		},
		RetryCount:     3,
		RetryBackoff:   time.Millisecond,
		ReconnectDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sup.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if got := dials.Load(); got < 2 {
		t.Errorf("dial attempts = %d, want at least 2", got)
	}
}

func TestReconnectWaitsBetweenSessions(t *testing.T) {
	var dials atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup, err := New(Deps{
		Dial: func(context.Context) (Session, error) {
			dials.Add(1)
			// A session that dies as soon as it starts.
			session := &fakeSession{receiveErr: matter.ErrConnectionClosed}
			session.Close()
			return session, nil
		},
		RetryCount:     3,
		RetryBackoff:   time.Millisecond,
		ReconnectDelay: time.Hour,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- sup.Run(ctx)
	}()

	// Give the first session time to die. With the delay in place the
	// supervisor must be parked waiting, not spinning through redials.
	time.Sleep(50 * time.Millisecond)
	if got := dials.Load(); got != 1 {
		t.Errorf("dial attempts = %d, want 1", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestTasksRunWithSession(t *testing.T) {
	var taskRan atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup, err := New(Deps{
		Dial: func(context.Context) (Session, error) {
			return &fakeSession{}, nil
		},
		Tasks: []func(ctx context.Context) error{
			func(ctx context.Context) error {
				taskRan.Store(true)
				cancel()
				<-ctx.Done()
				return ctx.Err()
			},
		},
		RetryCount:   3,
		RetryBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sup.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if !taskRan.Load() {
		t.Error("task did not run")
	}
}
