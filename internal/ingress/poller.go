package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/mattercloud/mcc-core/internal/queue"
)

// FilePollerDeps are the collaborators a FilePoller needs.
type FilePollerDeps struct {
	Path     string
	Interval time.Duration
	Queue    *queue.Queue
	Logger   Logger
}

// FilePoller watches a file for command envelopes. Each cycle it reads the
// file, truncates it, and enqueues the content when it carries a command.
// The truncate-after-read means a command fires exactly once; dropping a new
// envelope into the file injects work without touching the brokers.
type FilePoller struct {
	path     string
	interval time.Duration
	queue    *queue.Queue
	logger   Logger
}

// NewFilePoller creates a FilePoller from its collaborators.
func NewFilePoller(deps FilePollerDeps) *FilePoller {
	interval := deps.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &FilePoller{
		path:     deps.Path,
		interval: interval,
		queue:    deps.Queue,
		logger:   deps.Logger,
	}
}

// Run polls until the context is canceled. A missing file is the idle state,
// not an error.
func (p *FilePoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				if p.logger != nil {
					p.logger.Warn("command file poll failed", "path", p.path, "error", err)
				}
			}
		}
	}
}

func (p *FilePoller) poll(ctx context.Context) error {
	payload, err := p.consume()
	if err != nil {
		return err
	}
	if payload == nil {
		return nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("ingress: decoding command file: %w", err)
	}
	if _, ok := envelope["command"]; !ok {
		return nil
	}

	if err := p.queue.Put(ctx, queue.Item{Payload: payload, Source: "poller"}); err != nil {
		return fmt.Errorf("ingress: queueing file command: %w", err)
	}
	if p.logger != nil {
		p.logger.Info("file command queued", "bytes", len(payload))
	}
	return nil
}

// consume reads the file and empties it so the same command is not replayed
// on the next cycle. Returns nil content when there is nothing to do.
func (p *FilePoller) consume() ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingress: reading command file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	if err := os.Truncate(p.path, 0); err != nil {
		return nil, fmt.Errorf("ingress: truncating command file: %w", err)
	}
	return data, nil
}
