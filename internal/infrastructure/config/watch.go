package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/microhost/internal/infrastructure/logging"
)

// manifestDebounce coalesces the burst of events editors emit per save
var manifestDebounce = 250 * time.Millisecond

// WatchManifest reloads the manifest at path whenever it changes and passes
// the result to apply. A manifest that fails to parse is logged and the
// previous one stays in effect. The watch ends when ctx is done.
func WatchManifest(ctx context.Context, path string, logger *logging.Logger, apply func(*Manifest)) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve manifest path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: atomic saves replace the file and drop a file watch.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch manifest: %w", err)
	}

	log := logger.Named("manifest")
	go watchLoop(ctx, watcher, target, log, apply)

	log.Info("Watching manifest", zap.String("path", target))
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, target string, log *logging.Logger, apply func(*Manifest)) {
	defer watcher.Close()

	var reload *time.Timer
	defer func() {
		if reload != nil {
			reload.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug("Manifest changed", zap.String("op", event.Op.String()))

			if reload != nil {
				reload.Stop()
			}
			reload = time.AfterFunc(manifestDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				m, err := LoadManifest(target)
				if err != nil {
					log.Error("Failed to reload manifest", zap.Error(err))
					return
				}
				apply(m)
				log.Info("Manifest reloaded",
					zap.Int("apps", len(m.Apps)),
					zap.Int("prefetch", len(m.Prefetch)),
				)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error("Watcher error", zap.Error(err))
		}
	}
}
