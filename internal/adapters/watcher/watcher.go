// Package watcher imports PDFs dropped into a directory.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// DefaultDebounce is how long a file must stay quiet before its event fires.
const DefaultDebounce = 2 * time.Second

// Event represents a debounced file system event.
type Event struct {
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler is called when a relevant file event occurs.
type Handler func(ctx context.Context, event Event) error

type pendingEvent struct {
	timestamp time.Time
	op        Operation
}

// Watcher watches directories for PDF file changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *zap.Logger
	paths     []string
	debounce  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingEvent

	done     chan struct{}
	stopOnce sync.Once
	handlers sync.WaitGroup
	loops    sync.WaitGroup
}

// Config holds watcher configuration.
type Config struct {
	Paths    []string
	Debounce time.Duration
}

// New creates a new file watcher.
func New(cfg Config, handler Handler, logger *zap.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger.With(zap.String("component", "watcher")),
		paths:     cfg.Paths,
		debounce:  cfg.Debounce,
		now:       time.Now,
		pending:   make(map[string]*pendingEvent),
		done:      make(chan struct{}),
	}, nil
}

// Start watches the configured paths until ctx ends or Stop is called.
// Paths that cannot be watched are logged and skipped.
func (w *Watcher) Start(ctx context.Context) error {
	for _, path := range w.paths {
		if err := w.AddPath(path); err != nil {
			w.logger.Warn("failed to watch path", zap.String("path", path), zap.Error(err))
		}
	}

	w.loops.Add(2)
	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop closes the watcher and waits for running handlers.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
	})
	w.loops.Wait()
	w.handlers.Wait()
	return err
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.loops.Done()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	if !output.IsPDFKey(event.Name) {
		return
	}

	w.logger.Debug("file event", zap.String("path", event.Name), zap.String("op", event.Op.String()))
	w.record(event.Name, fsnotifyOpToOperation(event.Op))
}

// record adds or merges a pending event for path.
func (w *Watcher) record(path string, op Operation) {
	w.mu.Lock()
	defer w.mu.Unlock()

	existing, ok := w.pending[path]
	if !ok {
		w.pending[path] = &pendingEvent{timestamp: w.now(), op: op}
		return
	}

	existing.timestamp = w.now()
	switch {
	case existing.op == OpDelete && op != OpDelete:
		// Deleted then recreated.
		existing.op = OpCreate
	case op == OpDelete:
		existing.op = OpDelete
	case existing.op == OpModify && op == OpCreate:
		existing.op = OpCreate
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.loops.Done()

	ticker := time.NewTicker(w.debounce / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			for _, e := range w.due() {
				w.dispatch(ctx, e)
			}
		}
	}
}

// due removes and returns events that stayed quiet for the debounce period.
func (w *Watcher) due() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	var events []Event
	for path, p := range w.pending {
		if now.Sub(p.timestamp) < w.debounce {
			continue
		}
		delete(w.pending, path)
		events = append(events, Event{Path: path, Operation: p.op})
	}
	return events
}

func (w *Watcher) dispatch(ctx context.Context, e Event) {
	w.logger.Info("processing file event",
		zap.String("path", e.Path),
		zap.String("operation", e.Operation.String()))

	w.handlers.Add(1)
	go func() {
		defer w.handlers.Done()
		if err := w.handler(ctx, e); err != nil {
			w.logger.Error("handler error",
				zap.String("path", e.Path),
				zap.String("operation", e.Operation.String()),
				zap.Error(err))
		}
	}()
}

// fsnotifyOpToOperation converts fsnotify.Op to our Operation type.
func fsnotifyOpToOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove):
		return OpDelete
	case op.Has(fsnotify.Rename):
		// The file is gone from this name.
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}

// AddPath adds a path to watch.
func (w *Watcher) AddPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.fsWatcher.Add(absPath); err != nil {
		return err
	}

	w.logger.Info("watching directory", zap.String("path", absPath))
	return nil
}

// RemovePath removes a path from watching.
func (w *Watcher) RemovePath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.fsWatcher.Remove(absPath); err != nil {
		return err
	}

	w.logger.Info("removed watch path", zap.String("path", absPath))
	return nil
}
