package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// outputBufferSize is the buffer size for capturing subprocess stdout/stderr.
const outputBufferSize = 4096

// gracefulTimeout is how long Stop waits for SIGTERM before SIGKILL.
const gracefulTimeout = 10 * time.Second

// Config holds configuration for the managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable. A bare name is resolved
	// through PATH at start time.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager starts and stops a single subprocess. Restart policy lives with
// the caller; the manager only knows how to launch, observe, and kill.
type Manager struct {
	config Config
	logger Logger

	mu   sync.RWMutex
	cmd  *exec.Cmd
	done chan struct{}
}

// NewManager creates a process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	return &Manager{
		config: cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the subprocess. It returns once the process has been
// spawned; exit is observed in the background so the child is always reaped.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cmd != nil {
		select {
		case <-m.done:
		default:
			return fmt.Errorf("process %s is already running", m.config.Name)
		}
	}

	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.Command(m.config.Binary, m.config.Args...) //nolint:gosec // Binary path comes from operator configuration

	// New process group so the child outlives supervisor reconnect cycles
	// and can be signalled independently.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.cmd = cmd
	m.done = make(chan struct{})

	go m.captureOutput("stdout", stdout)
	go m.captureOutput("stderr", stderr)
	go func(done chan struct{}) {
		defer close(done)
		if err := cmd.Wait(); err != nil {
			m.logger.Warn("process exited", "name", m.config.Name, "error", err)
			return
		}
		m.logger.Info("process exited", "name", m.config.Name)
	}(m.done)

	m.logger.Info("process started",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
	)
	return nil
}

// Stop terminates the subprocess if this manager started it. SIGTERM first,
// SIGKILL after the graceful timeout.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cmd := m.cmd
	done := m.done
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	m.logger.Info("stopping process", "name", m.config.Name, "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signalling %s: %w", m.config.Name, err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(gracefulTimeout):
		m.logger.Warn("graceful stop timed out, killing", "name", m.config.Name)
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("killing %s: %w", m.config.Name, err)
		}
		<-done
		return nil
	}
}

// captureOutput reads from the given reader and logs each chunk.
func (m *Manager) captureOutput(stream string, r io.Reader) {
	buf := make([]byte, outputBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.logger.Debug("process output",
				"name", m.config.Name,
				"stream", stream,
				"output", string(buf[:n]),
			)
		}
		if err != nil {
			return
		}
	}
}

// IsRunning reports whether any process on the host is executing the
// configured binary. It scans /proc command lines, so an externally started
// server counts too.
func (m *Manager) IsRunning() bool {
	return processRunning(m.config.Binary)
}

// processRunning scans /proc for a command line mentioning name.
func processRunning(name string) bool {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return false
	}

	base := filepath.Base(name)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(entry.Name()); err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "cmdline"))
		if err != nil {
			continue
		}
		cmdline := strings.ReplaceAll(string(data), "\x00", " ")
		if strings.Contains(cmdline, base) {
			return true
		}
	}
	return false
}
