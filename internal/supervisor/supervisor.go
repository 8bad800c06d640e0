package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattercloud/mcc-core/internal/matter"
)

// ErrGivenUp is returned by Run when the retry budget for refused
// connections is exhausted. The daemon should exit; something is wrong
// with the device-graph server that reconnecting will not fix.
var ErrGivenUp = errors.New("supervisor: connection retries exhausted")

// State is the supervisor's connection lifecycle state.
type State string

const (
	StateConnecting State = "connecting"
	StateRunning    State = "running"
	StateBackoff    State = "backoff"
	StateGivenUp    State = "given_up"
	StateStopped    State = "stopped"
)

// Session is one live device-graph connection.
type Session interface {
	StartListening() error
	ReceiveLoop(ctx context.Context) error
	DrainLoop(ctx context.Context) error
	Close() error
}

// DialFunc establishes a new session.
type DialFunc func(ctx context.Context) (Session, error)

// ServerProcess cold-starts the device-graph server when a connection is
// refused and nothing is listening.
type ServerProcess interface {
	IsRunning() bool
	Start() error
}

// Logger is the logging surface the supervisor needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Deps holds the supervisor's collaborators.
type Deps struct {
	Dial DialFunc

	// Process is consulted on refused connections. Nil means the server
	// is externally managed and is never started here.
	Process ServerProcess

	// Tasks are extra goroutines run alongside each session (file poller,
	// subscription refresh). They share the session's context and their
	// error ends the session.
	Tasks []func(ctx context.Context) error

	RetryCount   int
	RetryBackoff time.Duration

	// ReconnectDelay spaces out session restarts after a connection drop,
	// so a session that dies right after dialing cannot spin the loop.
	ReconnectDelay time.Duration

	Logger Logger
}

// Supervisor drives the connect, run, reconnect loop.
type Supervisor struct {
	dial    DialFunc
	process ServerProcess
	tasks   []func(ctx context.Context) error

	retryCount     int
	retryBackoff   time.Duration
	reconnectDelay time.Duration
	logger         Logger

	mu    sync.RWMutex
	state State
}

// New creates a Supervisor from its collaborators.
func New(deps Deps) (*Supervisor, error) {
	if deps.Dial == nil {
		return nil, fmt.Errorf("dial function is required")
	}

	retryCount := deps.RetryCount
	if retryCount <= 0 {
		retryCount = 3
	}
	backoff := deps.RetryBackoff
	if backoff <= 0 {
		backoff = 20 * time.Second
	}
	reconnectDelay := deps.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}

	return &Supervisor{
		dial:           deps.Dial,
		process:        deps.Process,
		tasks:          deps.Tasks,
		retryCount:     retryCount,
		retryBackoff:   backoff,
		reconnectDelay: reconnectDelay,
		logger:         deps.Logger,
		state:          StateStopped,
	}, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run blocks until the context is canceled, a fatal dial error occurs, or
// the retry budget is exhausted. A session that ends cleanly (connection
// lost) triggers a reconnect with a fresh retry budget after a short delay.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(StateStopped)

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.setState(StateConnecting)
		session, err := s.dial(ctx)
		if err != nil {
			if !errors.Is(err, matter.ErrCannotConnect) {
				s.setState(StateStopped)
				return fmt.Errorf("supervisor: dialing device graph: %w", err)
			}

			attempts++
			if attempts > s.retryCount {
				s.setState(StateGivenUp)
				s.logError("connection refused repeatedly, giving up", "attempts", attempts-1)
				return ErrGivenUp
			}

			s.logWarn("connection refused", "attempt", attempts, "max", s.retryCount)
			s.maybeStartServer()

			s.setState(StateBackoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryBackoff):
			}
			continue
		}

		attempts = 0
		s.setState(StateRunning)
		s.logInfo("device graph connected")

		err = s.runSession(ctx, session)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logWarn("session ended, reconnecting", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

// runSession runs one connection's loops until any of them stops. Closing
// the session unblocks the read so the whole group tears down together.
func (s *Supervisor) runSession(ctx context.Context, session Session) error {
	defer session.Close()

	if err := session.StartListening(); err != nil {
		return fmt.Errorf("supervisor: starting listener: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return session.ReceiveLoop(gctx)
	})
	g.Go(func() error {
		return session.DrainLoop(gctx)
	})
	for _, task := range s.tasks {
		task := task
		g.Go(func() error {
			return task(gctx)
		})
	}

	// The drain loop blocks on the queue; close the session when the group
	// context dies so its writes fail fast.
	g.Go(func() error {
		<-gctx.Done()
		return session.Close()
	})

	return g.Wait()
}

// maybeStartServer cold-starts the managed device-graph server if nothing
// is listening. Errors are logged, not fatal: the retry loop will find out
// soon enough whether the start took.
func (s *Supervisor) maybeStartServer() {
	if s.process == nil {
		return
	}
	if s.process.IsRunning() {
		s.logDebug("device graph server already running")
		return
	}
	s.logInfo("starting device graph server")
	if err := s.process.Start(); err != nil {
		s.logError("starting device graph server", "error", err)
	}
}

func (s *Supervisor) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Supervisor) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Supervisor) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Supervisor) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
