package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/oshokin/eve-alert/internal/logger"
)

// changeOps are the file operations that count as a settings change.
const changeOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename

// WatchFile calls onChange whenever the settings file at path is written or replaced.
// The parent directory is watched so editors that replace the file are handled.
// WatchFile blocks until ctx is cancelled.
func WatchFile(ctx context.Context, path string, onChange func()) error {
	if path == "" {
		path = DefaultConfigFilename
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve settings path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}

	defer func() {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Warnf(ctx, "Failed to close settings watcher: %v", closeErr)
		}
	}()

	if err = watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch settings directory: %w", err)
	}

	ctx = logger.WithName(ctx, "settings-watcher")
	logger.InfoKV(ctx, "Watching settings file", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != abs || event.Op&changeOps == 0 {
				continue
			}

			logger.DebugKV(ctx, "Settings file changed", "op", event.Op.String())
			onChange()
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warnf(ctx, "Settings watcher error: %v", watchErr)
		}
	}
}
