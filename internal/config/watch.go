package config

import (
	"context"
	"path/filepath"

	"github.com/Faultbox/clothtear/internal/logger"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the config file at path whenever it changes and passes the
// new config to fn. Invalid files are logged and skipped, so the last good
// config stays in effect. Watching stops when ctx is done.
//
// fn runs on the watcher goroutine.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	target, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return err
	}
	// Watch the directory: many editors replace the file on save.
	if err := w.Add(filepath.Dir(target)); err != nil {
		w.Close()
		return err
	}

	log := logger.Named("config")
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if name, _ := filepath.Abs(e.Name); name != target {
					continue
				}
				if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := LoadFile(target)
				if err != nil {
					log.Warn("config reload failed", zap.String("path", target), zap.Error(err))
					continue
				}
				log.Info("config reloaded", zap.String("path", target))
				fn(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
