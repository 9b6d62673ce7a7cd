package dictionary

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bastiangx/pcserve/internal/logger"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the references when files in the data directory change and
// hands every bundle that differs from the last one to a callback. A failed
// reload keeps the previous bundle.
type Watcher struct {
	loader   *Loader
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onReload func(*Bundle)
	logger   *log.Logger

	mu      sync.Mutex
	current *Bundle

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher over the loader's data directory. current is
// the bundle already in use and may be nil.
func NewWatcher(loader *Loader, current *Bundle, debounce time.Duration, onReload func(*Bundle)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		loader:   loader,
		fsw:      fsw,
		debounce: debounce,
		onReload: onReload,
		logger:   logger.New("watch"),
		current:  current,
	}, nil
}

// Start adds watches for the data directory tree and begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addWatches(w.loader.Dir()); err != nil {
		return err
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
	w.logger.Debugf("Watching %s", w.loader.Dir())
	return nil
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

// Current returns the latest bundle.
func (w *Watcher) Current() *Bundle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Watcher) addWatches(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warnf("failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("watch error: %v", err)

		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addWatches(event.Name)
			return false
		}
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	rel, err := filepath.Rel(w.loader.Dir(), event.Name)
	if err != nil {
		return false
	}
	return w.loader.Matches(rel)
}

func (w *Watcher) reload(ctx context.Context) {
	b, err := w.loader.Load(ctx)
	if err != nil {
		w.logger.Warnf("reload failed, keeping current references: %v", err)
		return
	}

	w.mu.Lock()
	same := b.Same(w.current)
	if !same {
		w.current = b
	}
	w.mu.Unlock()

	if same {
		w.logger.Debug("references unchanged")
		return
	}
	w.logger.Info("references reloaded", "files", len(b.Files))
	if w.onReload != nil {
		w.onReload(b)
	}
}
