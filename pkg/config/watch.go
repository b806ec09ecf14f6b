package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long Watch waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watch calls fn with the reloaded declaration each time the file at path
// changes, until ctx is done. The parent directory is watched so editors
// that replace the file by rename are followed. A reload that fails is
// passed to fn as an error.
func Watch(ctx context.Context, path string, debounce time.Duration, logger zerolog.Logger, fn func(*Declaration, error)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger = logger.With().Str("component", "declaration-watch").Logger()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	logger.Info().Str("path", abs).Msg("Watching declaration")

	var timer *time.Timer
	fire := make(chan struct{}, 1)
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
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Declaration changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			decl, err := Load(abs)
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to reload declaration")
			}
			fn(decl, err)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
