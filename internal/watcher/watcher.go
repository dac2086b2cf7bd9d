// Package watcher provides the inbox watcher: record files dropped into a
// directory are memorized once they stop changing, then moved out of the way
// into its processed/ subdirectory.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	defaultDebounce = 500 * time.Millisecond
	// ProcessedDir is the subdirectory handled files are moved into.
	ProcessedDir = "processed"
)

// Handler processes one settled inbox file.
type Handler func(ctx context.Context, path string) error

// Inbox watches a single directory (not recursively) and hands matching files
// to a Handler after they have been quiet for the debounce interval.
type Inbox struct {
	dir         string
	extensions  []string
	handle      Handler
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	ctx         context.Context
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger. Handler failures are logged at Warn.
func WithLogger(l *zap.Logger) Option {
	return func(w *Inbox) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce overrides the 500ms quiet interval.
func WithDebounce(d time.Duration) Option {
	return func(w *Inbox) { w.debounce = d }
}

// NewInbox creates an inbox for dir. extensions filter which files are
// handled (empty = all).
func NewInbox(dir string, extensions []string, handle Handler, opts ...Option) *Inbox {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	w := &Inbox{
		dir:         filepath.Clean(dir),
		extensions:  extensions,
		handle:      handle,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Directory returns the watched directory.
func (w *Inbox) Directory() string { return w.dir }

// ProcessedDirectory returns where handled files are moved.
func (w *Inbox) ProcessedDirectory() string { return filepath.Join(w.dir, ProcessedDir) }

// Extensions returns the handled file extensions.
func (w *Inbox) Extensions() []string { return append([]string(nil), w.extensions...) }

// Start creates the directory if needed and starts watching it. It runs until
// ctx is cancelled or Stop is called.
func (w *Inbox) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return err
	}
	w.watcher = watcher
	w.ctx = ctx
	w.started = true
	w.logger.Debug("inbox watcher starting", zap.String("dir", w.dir), zap.Strings("extensions", w.extensions))
	go w.run(ctx, watcher)
	return nil
}

func (w *Inbox) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Inbox) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return
		}
		if matchExtension(path, w.extensions) {
			w.debounceFile(path)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancelDebounce(path)
	}
}

func matchExtension(path string, extensions []string) bool {
	ext := filepath.Ext(path)
	if len(extensions) == 0 {
		return true
	}
	for _, e := range extensions {
		eNorm := strings.TrimPrefix(strings.ToLower(e), ".")
		extNorm := strings.TrimPrefix(strings.ToLower(ext), ".")
		if eNorm == extNorm {
			return true
		}
	}
	return false
}

func (w *Inbox) debounceFile(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		ctx := w.ctx
		w.mu.Unlock()
		w.process(ctx, path)
	})
}

func (w *Inbox) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

func (w *Inbox) process(ctx context.Context, path string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := w.handle(ctx, path); err != nil {
		w.logger.Warn("inbox file rejected", zap.String("path", path), zap.Error(err))
		return
	}
	dest, err := w.moveProcessed(path)
	if err != nil {
		w.logger.Error("inbox file memorized but not moved; it will be memorized again",
			zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("inbox file memorized", zap.String("path", path), zap.String("moved_to", dest))
}

// moveProcessed moves path into the processed directory. An existing file of
// the same name is kept and the new one gets a timestamp suffix.
func (w *Inbox) moveProcessed(path string) (string, error) {
	dir := w.ProcessedDirectory()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := filepath.Base(path)
	dest := filepath.Join(dir, name)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(name)
		dest = filepath.Join(dir, fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), time.Now().UnixNano(), ext))
	}
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// SyncExisting handles every matching file already in the directory, in name
// order. Call it after Start to pick up files dropped while nothing watched.
// Files handled before were moved to the processed directory and are not
// seen again.
func (w *Inbox) SyncExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("inbox sync failed", zap.String("dir", w.dir), zap.Error(err))
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && matchExtension(e.Name(), w.extensions) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	w.logger.Debug("inbox syncing existing files", zap.String("dir", w.dir), zap.Int("files", len(names)))
	for _, name := range names {
		w.process(ctx, filepath.Join(w.dir, name))
	}
}

// Stop stops the watcher and releases resources. Pending debounced files are
// dropped.
func (w *Inbox) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
