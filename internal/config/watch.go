package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeFunc receives a reloaded configuration, or the error that stopped
// the reload. The previous configuration stays in effect on error.
type ChangeFunc func(cfg *Configuration, event fsnotify.Event, err error)

// reloadDebounce absorbs the burst of events editors emit for one save.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads path whenever it changes and calls onChange with the result.
// It watches the parent directory so atomic rename-on-save is seen. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange ChangeFunc) error {
	if path == "" {
		return &ConfigError{Op: "watch", Err: fmt.Errorf("no config file to watch")}
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return &ConfigError{Op: "watch", Err: err}
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return &ConfigError{Op: "watch", Err: err}
	}

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending fsnotify.Event
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending = event
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			cfg, err := Load(path)
			onChange(cfg, pending, err)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			onChange(nil, fsnotify.Event{Name: path}, &ConfigError{Op: "watch", Err: err})
		}
	}
}
