package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"
)

// Watcher reloads the config file when it changes on disk and hands the
// new config to a callback. A file that fails to load is logged and the
// callback is not called.
type Watcher struct {
	path    string
	version string
	onLoad  func(*Config)

	mu          sync.Mutex
	lastModTime time.Time

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher starts watching path. Watching the directory rather than the
// file keeps working across editors that replace the file on save.
func NewWatcher(path, version string, onLoad func(*Config)) (*Watcher, error) {
	w := &Watcher{
		path:    path,
		version: version,
		onLoad:  onLoad,
		stopCh:  make(chan struct{}),
	}

	if info, err := os.Stat(path); err == nil {
		w.lastModTime = info.ModTime()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.watch()

	return w, nil
}

func (w *Watcher) watch() {
	defer w.watcher.Close()

	// fsnotify can miss events on some filesystems
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) == filepath.Base(w.path) &&
				event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				zlog.Debug("Config file event", "event", event.String())
				w.checkAndReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			zlog.Error("Config watcher error", "error", err.Error())

		case <-ticker.C:
			w.checkAndReload()
		}
	}
}

func (w *Watcher) checkAndReload() {
	info, err := os.Stat(w.path)
	if err != nil {
		zlog.Error("Failed to stat config file", "path", w.path, "error", err.Error())
		return
	}

	w.mu.Lock()
	changed := !info.ModTime().Equal(w.lastModTime)
	w.lastModTime = info.ModTime()
	w.mu.Unlock()

	if !changed {
		return
	}

	zlog.Info("Config file changed, reloading", "path", w.path)
	if err := w.Reload(); err != nil {
		zlog.Error("Failed to reload config", "path", w.path, "error", err.Error())
	}
}

// Reload loads the file now and calls the callback on success.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path, w.version)
	if err != nil {
		return err
	}

	w.onLoad(cfg)

	return nil
}

// Stop stops watching.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}
