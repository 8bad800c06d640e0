package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mattercloud/mcc-core/internal/infrastructure/config"
	"github.com/mattercloud/mcc-core/internal/infrastructure/logging"
	"github.com/mattercloud/mcc-core/internal/matter"
	"github.com/mattercloud/mcc-core/internal/queue"
	"github.com/mattercloud/mcc-core/internal/shadow"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config          config.APIConfig
	Logger          *logging.Logger
	Queue           *queue.Queue
	Registry        *matter.Registry
	Store           shadow.Store
	ResponseTimeout time.Duration
	Version         string
}

// Server is the HTTP ingress for the controller daemon. It runs as one of
// the supervised session tasks: Run serves until the session context ends,
// then shuts down gracefully so the next cycle binds afresh.
type Server struct {
	cfg             config.APIConfig
	logger          *logging.Logger
	queue           *queue.Queue
	registry        *matter.Registry
	store           shadow.Store
	responseTimeout time.Duration
	version         string

	mu   sync.Mutex
	addr string
}

// New creates an API server from its dependencies. The server does not
// listen until Run is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("work queue is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("callback registry is required")
	}

	timeout := deps.ResponseTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Server{
		cfg:             deps.Config,
		logger:          deps.Logger,
		queue:           deps.Queue,
		registry:        deps.Registry,
		store:           deps.Store,
		responseTimeout: timeout,
		version:         deps.Version,
	}, nil
}

// Run binds the listener and serves until the context is cancelled, then
// shuts down gracefully, waiting for in-flight requests. A second Run after
// the first returns rebinds from scratch, so the server restarts cleanly
// with each supervision cycle.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("api: listening on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}

	s.mu.Lock()
	s.addr = listener.Addr().String()
	s.mu.Unlock()

	server := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server listening", "address", s.addr)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("api: serving: %w", err)
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := server.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("api: shutting down: %w", err)
	}
	return ctx.Err()
}

// Addr returns the bound listen address. Empty until Run has bound the
// listener; useful when the configured port is 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
