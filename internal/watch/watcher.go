// Package watch turns filesystem events under a directory into debounced
// change batches.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/52poke/kura/internal/store"
)

// UserID is reported as the author of filesystem changes.
const UserID = "filesystem"

type Option func(*Watcher)

// WithDebounce sets how long the watcher waits for more events before
// delivering a batch. Defaults to 500ms.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithIgnore skips files and directories whose base name matches any of the
// glob patterns.
func WithIgnore(patterns ...string) Option {
	return func(w *Watcher) {
		w.ignore = append(w.ignore, patterns...)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher watches root recursively. Paths in delivered changes are relative
// to root, slash separated and absolute, so "/pages/a.html" for
// <root>/pages/a.html.
type Watcher struct {
	root     string
	handler  store.Handler
	debounce time.Duration
	ignore   []string
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

func New(root string, handler store.Handler, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", abs)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	w := &Watcher{
		root:     abs,
		handler:  handler,
		debounce: 500 * time.Millisecond,
		ignore:   []string{".git", "*.swp", "*~"},
		logger:   slog.Default(),
		fsw:      fsw,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.addRecursive(abs); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) Root() string {
	return w.root
}

// Close releases a watcher that will not be run.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run delivers batches until ctx is done. Pending changes are flushed before
// it returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var (
		batch  []store.Change
		seen   = map[string]int{}
		timer  *time.Timer
		timerC <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(batch) == 0 {
			return
		}
		out := batch
		batch, seen = nil, map[string]int{}
		w.logger.Debug("delivering file changes", "root", w.root, "changes", len(out))
		w.handler(context.WithoutCancel(ctx), out)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				flush()
				return nil
			}
			change, ok := w.convert(event)
			if !ok {
				continue
			}
			if idx, dup := seen[change.Path]; dup {
				batch[idx] = change
			} else {
				seen[change.Path] = len(batch)
				batch = append(batch, change)
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				flush()
				return nil
			}
			w.logger.Warn("file watcher error", "root", w.root, "error", err)
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

func (w *Watcher) convert(event fsnotify.Event) (store.Change, bool) {
	if w.shouldIgnore(event.Name) {
		return store.Change{}, false
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return store.Change{}, false
	}

	var typ store.ChangeType
	switch {
	case event.Has(fsnotify.Create):
		typ = store.ChangeAdded
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		typ = store.ChangeRemoved
	case event.Has(fsnotify.Write):
		typ = store.ChangeChanged
	default:
		return store.Change{}, false
	}
	return store.Change{Path: store.Clean(filepath.ToSlash(rel)), Type: typ, UserID: UserID}, true
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && w.shouldIgnore(p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) shouldIgnore(p string) bool {
	base := filepath.Base(p)
	for _, pattern := range w.ignore {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
