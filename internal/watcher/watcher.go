// Package watcher turns fsnotify events under a workspace into debounced
// file changes.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/qorelogic/sentinel/internal/types"
)

// DefaultDebounce coalesces editor save bursts
const DefaultDebounce = 300 * time.Millisecond

// DefaultIgnore lists directory names and glob patterns never watched
var DefaultIgnore = []string{".git", "node_modules", ".sentinel", "dist", "build", "out", "*.log"}

// Config configures a Watcher
type Config struct {
	Root     string
	Debounce time.Duration
	Ignore   []string
	Logger   zerolog.Logger
}

type pending struct {
	typ   types.EventType
	timer *time.Timer
}

// Watcher watches a directory tree. Subscribers are called from timer
// goroutines and must not block.
type Watcher struct {
	root     string
	debounce time.Duration
	ignore   []string
	logger   zerolog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]*pending
	subs    map[int]func(types.FileChange)
	nextSub int
	done    chan struct{}
}

// New creates a stopped watcher for cfg.Root
func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", cfg.Root, err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Ignore == nil {
		cfg.Ignore = DefaultIgnore
	}
	return &Watcher{
		root:     root,
		debounce: cfg.Debounce,
		ignore:   cfg.Ignore,
		logger:   cfg.Logger.With().Str("component", "watcher").Logger(),
		pending:  make(map[string]*pending),
		subs:     make(map[int]func(types.FileChange)),
	}, nil
}

// Subscribe registers fn for file changes
func (w *Watcher) Subscribe(fn func(types.FileChange)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}
}

// Start begins watching the tree. It returns once every directory has been
// added; events are processed until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.fsw = fsw
	w.done = make(chan struct{})
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		w.mu.Lock()
		w.fsw = nil
		w.done = nil
		w.mu.Unlock()
		_ = fsw.Close()
		return err
	}

	go w.loop(ctx, fsw, w.done)
	w.logger.Info().Str("root", w.root).Dur("debounce", w.debounce).Msg("watching workspace")
	return nil
}

// Stop closes the underlying watcher and drops pending changes
func (w *Watcher) Stop() error {
	w.mu.Lock()
	fsw := w.fsw
	done := w.done
	w.fsw = nil
	w.done = nil
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	<-done
	return err
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			go func() { _ = w.Stop() }()
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.ignored(ev.Name) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn().Err(err).Str("dir", ev.Name).Msg("failed to watch new directory")
			}
			return
		}
		w.schedule(ev.Name, types.EventFileCreated)
	case ev.Has(fsnotify.Write):
		w.schedule(ev.Name, types.EventFileModified)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.schedule(ev.Name, types.EventFileDeleted)
	}
}

// schedule records a change for path and (re)arms its debounce timer. A
// create followed by writes is still reported as a create.
func (w *Watcher) schedule(path string, typ types.EventType) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok {
		if !(p.typ == types.EventFileCreated && typ == types.EventFileModified) {
			p.typ = typ
		}
		p.timer.Reset(w.debounce)
		return
	}
	p := &pending{typ: typ}
	p.timer = time.AfterFunc(w.debounce, func() { w.fire(path, p) })
	w.pending[path] = p
}

func (w *Watcher) fire(path string, p *pending) {
	w.mu.Lock()
	if w.pending[path] != p {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	change := types.FileChange{Path: path, Type: p.typ}
	subs := make([]func(types.FileChange), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	w.logger.Debug().Str("path", path).Str("type", string(change.Type)).Msg("file change")
	for _, fn := range subs {
		fn(change)
	}
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtrees are skipped, the root is not
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path) {
			return filepath.SkipDir
		}
		w.mu.Lock()
		fsw := w.fsw
		w.mu.Unlock()
		if fsw == nil {
			return filepath.SkipAll
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// ignored reports whether any path element under the root matches an
// ignore pattern
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	if rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		for _, pattern := range w.ignore {
			if ok, _ := filepath.Match(pattern, part); ok {
				return true
			}
		}
	}
	return false
}
