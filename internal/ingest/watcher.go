// Package ingest turns files dropped into a watch folder into batches.
//
// A matching file is handed to the Handler once it has been quiet for the
// settle delay, then moved to done/ or failed/ below the watch folder.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/watershed/internal/sanitize"
	"go.uber.org/zap"
)

// Subdirectories processed files are moved into.
const (
	DoneDir   = "done"
	FailedDir = "failed"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Handler processes one ingested file.
type Handler func(ctx context.Context, path string) error

// Config configures a Watcher.
type Config struct {
	// Dir is the watch folder.
	Dir string
	// Pattern selects files by base name (default: *.toml).
	Pattern string
	// Settle is how long a file must be unchanged before it is processed
	// (default: 500ms).
	Settle time.Duration
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Pattern == "" {
		c.Pattern = "*.toml"
	}
	if c.Settle == 0 {
		c.Settle = 500 * time.Millisecond
	}
}

// Watcher feeds new files in a folder to a Handler, one at a time.
type Watcher struct {
	config  Config
	handler Handler
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
}

// New creates a watcher. Call Run to start it.
func New(cfg Config, handler Handler, logger *zap.Logger) (*Watcher, error) {
	cfg.ApplyDefaults()
	if err := sanitize.ValidateGlobPattern(cfg.Pattern); err != nil {
		return nil, err
	}
	dir, err := sanitize.ValidatePath(cfg.Dir, "")
	if err != nil {
		return nil, err
	}
	cfg.Dir = dir
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, sub := range []string{DoneDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", sub, err)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	return &Watcher{
		config:  cfg,
		handler: handler,
		watcher: w,
		logger:  logger,
		pending: make(map[string]*time.Timer),
		ready:   make(chan string, 16),
	}, nil
}

// Run processes files until ctx is done. Files already present when Run
// starts are processed first.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	existing, err := filepath.Glob(filepath.Join(w.config.Dir, w.config.Pattern))
	if err != nil {
		return err
	}
	for _, path := range existing {
		w.schedule(path)
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if w.matches(event.Name) {
				w.schedule(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case path := <-w.ready:
			w.process(ctx, path)
		}
	}
}

func (w *Watcher) matches(path string) bool {
	if filepath.Dir(path) != w.config.Dir {
		return false
	}
	ok, _ := filepath.Match(w.config.Pattern, filepath.Base(path))
	return ok
}

// schedule (re)starts the settle timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.config.Settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.config.Settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ready <- path
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	w.logger.Info("ingesting file", zap.String("path", path))

	dest := DoneDir
	if err := w.handler(ctx, path); err != nil {
		dest = FailedDir
		w.logger.Error("ingest failed", zap.String("path", path), zap.Error(err))
	}
	target := filepath.Join(w.config.Dir, dest, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		w.logger.Error("failed to move ingested file", zap.String("path", path), zap.Error(err))
	}
}
