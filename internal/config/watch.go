package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounce coalesces the write bursts editors and scp produce into a
// single reload.
const debounce = 250 * time.Millisecond

// Watch reloads the configuration file whenever it changes and hands
// the parsed result to apply. Parse failures are logged and the
// previous configuration stays in force. Watch blocks until ctx is
// cancelled.
//
// The parent directory is watched rather than the file itself, so
// rename-and-replace updates (the common atomic-write pattern) are
// seen.
func Watch(ctx context.Context, path string, log *zap.Logger, apply func(*Config)) error {
	if log == nil {
		log = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config watch %q: %w", dir, err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", zap.Error(err))

		case <-timerC:
			timer = nil
			timerC = nil

			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload failed, keeping previous", zap.String("path", path), zap.Error(err))
				continue
			}
			log.Info("config reloaded", zap.String("path", path))
			apply(cfg)
		}
	}
}
