package policy

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a Holder when its policy file changes on disk.
type Watcher struct {
	holder   *Holder
	logger   *zap.Logger
	debounce time.Duration
}

func NewWatcher(holder *Holder, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{holder: holder, logger: logger, debounce: 250 * time.Millisecond}
}

// Run blocks until ctx is cancelled. The parent directory is watched so
// editors that replace the file by rename are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	target := filepath.Clean(w.holder.Path())
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		return err
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("policy watcher error", zap.Error(err))
		case <-timer.C:
			loaded, err := w.holder.Reload()
			if err != nil {
				w.logger.Error("policy reload rejected", zap.String("path", target), zap.Error(err))
				continue
			}
			w.logger.Info("policy reloaded",
				zap.String("policy_id", loaded.Policy.PolicyID),
				zap.String("policy_version", loaded.Policy.PolicyVersion),
				zap.String("policy_hash", loaded.Hash))
		}
	}
}
