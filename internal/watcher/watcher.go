// Package watcher reports note records that change in the notes directory,
// whether written through the API or edited externally.
package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 200 * time.Millisecond

var (
	errMissingDirectory = errors.New("watcher: directory is required")
	errMissingDecoder   = errors.New("watcher: entry decoder is required")
	errMissingHandler   = errors.New("watcher: event handler is required")
)

// EventKind distinguishes written records from removed ones.
type EventKind string

const (
	// EventChanged reports a created or rewritten note record.
	EventChanged EventKind = "changed"
	// EventRemoved reports a deleted note record.
	EventRemoved EventKind = "removed"
)

// Event describes a settled change to one note record.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	Entry     string
}

// Config describes a Watcher. Decode maps a directory entry name to a note
// timestamp; entries it rejects are ignored.
type Config struct {
	Directory string
	Debounce  time.Duration
	Decode    func(name string) (time.Time, error)
	OnEvent   func(Event)
	Logger    *zap.Logger
}

type pendingEvent struct {
	kind  EventKind
	timer *time.Timer
}

// Watcher debounces filesystem events per entry and emits note events.
type Watcher struct {
	dir      string
	debounce time.Duration
	decode   func(name string) (time.Time, error)
	onEvent  func(Event)
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]*pendingEvent
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// New validates cfg and returns an idle Watcher.
func New(cfg Config) (*Watcher, error) {
	if cfg.Directory == "" {
		return nil, errMissingDirectory
	}
	if cfg.Decode == nil {
		return nil, errMissingDecoder
	}
	if cfg.OnEvent == nil {
		return nil, errMissingHandler
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:      filepath.Clean(cfg.Directory),
		debounce: debounce,
		decode:   cfg.Decode,
		onEvent:  cfg.OnEvent,
		logger:   logger,
		pending:  make(map[string]*pendingEvent),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the directory is registered; events
// are delivered until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsWatcher.Add(w.dir); err != nil {
		_ = fsWatcher.Close()
		return err
	}
	w.watcher = fsWatcher
	w.started = true
	w.logger.Debug("watcher started", zap.String("directory", w.dir))
	go w.run(ctx, fsWatcher)
	return nil
}

// Stop releases the underlying watcher and drops pending events.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		defer w.mu.Unlock()
		for name, pending := range w.pending {
			pending.timer.Stop()
			delete(w.pending, name)
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	})
}

func (w *Watcher) run(ctx context.Context, fsWatcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if filepath.Dir(filepath.Clean(event.Name)) != w.dir {
		return
	}
	name := filepath.Base(event.Name)
	if _, err := w.decode(name); err != nil {
		return
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.schedule(name, EventRemoved)
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.schedule(name, EventChanged)
	}
}

// schedule records the latest kind for name and restarts its debounce timer.
// A timer that already fired keeps its own entry; later events start a new one.
func (w *Watcher) schedule(name string, kind EventKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
		return
	default:
	}
	if pending, ok := w.pending[name]; ok && pending.timer.Stop() {
		pending.kind = kind
		pending.timer.Reset(w.debounce)
		return
	}
	pending := &pendingEvent{kind: kind}
	pending.timer = time.AfterFunc(w.debounce, func() { w.flush(name, pending) })
	w.pending[name] = pending
}

func (w *Watcher) flush(name string, pending *pendingEvent) {
	w.mu.Lock()
	if w.pending[name] == pending {
		delete(w.pending, name)
	}
	kind := pending.kind
	w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}
	timestamp, err := w.decode(name)
	if err != nil {
		return
	}
	w.logger.Debug("note record settled", zap.String("entry", name), zap.String("kind", string(kind)))
	w.onEvent(Event{Kind: kind, Timestamp: timestamp, Entry: name})
}
