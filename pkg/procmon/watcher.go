package procmon

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is the default debounce interval for file watch events.
const DefaultWatchDebounce = 500 * time.Millisecond

// configWatcher reloads the configuration when its file changes on disk.
type configWatcher struct {
	watcher  *fsnotify.Watcher
	absPath  string
	debounce time.Duration
	onReload func() error
	onError  func(error)

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// newConfigWatcher watches the directory holding path, so editors that
// save by renaming a temporary file are seen too. onReload runs once per
// burst of events, debounce after the last one.
func newConfigWatcher(path string, debounce time.Duration, onReload func() error, onError func(error)) (*configWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	cw := &configWatcher{
		watcher:  w,
		absPath:  abs,
		debounce: debounce,
		onReload: onReload,
		onError:  onError,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go cw.loop()
	return cw, nil
}

// Stop ends the watch loop and waits for it. Safe to call more than once.
func (cw *configWatcher) Stop() {
	cw.stopOnce.Do(func() { close(cw.stopCh) })
	<-cw.doneCh
}

func (cw *configWatcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	return err == nil && abs == cw.absPath
}

func (cw *configWatcher) loop() {
	defer close(cw.doneCh)
	defer cw.watcher.Close()

	timer := time.NewTimer(cw.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-cw.stopCh:
			return

		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if cw.relevant(ev) {
				timer.Reset(cw.debounce)
			}

		case <-timer.C:
			if cw.onReload == nil {
				continue
			}
			if err := cw.onReload(); err != nil && cw.onError != nil {
				cw.onError(err)
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			if cw.onError != nil {
				cw.onError(err)
			}
		}
	}
}
