package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file on change and invokes a callback with the
// newly validated Config. It is used at startup to wire SIGHUP-free runtime
// reload of the logging level and format.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	onLoad  func(*Config)
	done    chan struct{}
}

// WatchFile starts watching configPath for write and create events,
// calling onLoad with the reloaded configuration after each change that
// parses and validates successfully. Rename and remove events are ignored,
// so a file replaced by rename is not reloaded. Reload errors are dropped silently by
// design: a bad in-place edit must not tear down a running daemon, the
// caller's logger should log the returned error from Load if it wants
// visibility.
func WatchFile(path string, onLoad func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch config file %q: %w", path, err)
	}

	w := &Watcher{
		watcher: fw,
		path:    path,
		onLoad:  onLoad,
		done:    make(chan struct{}),
	}

	go w.run()

	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			w.onLoad(cfg)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
