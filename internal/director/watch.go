package director

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch queues reloads when clip files in clipsDir or Lua files in
// scriptsDir change. Bursts closer together than debounce collapse into
// one reload. The watch runs until ctx is done.
func (d *Director) Watch(ctx context.Context, clipsDir, scriptsDir string, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	for _, dir := range []string{clipsDir, scriptsDir} {
		if dir == "" {
			continue
		}
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	go d.watch(ctx, w, clipsDir, debounce)
	d.log.Info("watching for changes", zap.String("clips", clipsDir), zap.String("scripts", scriptsDir))
	return nil
}

func (d *Director) watch(ctx context.Context, w *fsnotify.Watcher, clipsDir string, debounce time.Duration) {
	defer w.Close()

	timer := time.NewTimer(debounce)
	timer.Stop()
	var clipsDue, scriptsDue bool

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename) {
				continue
			}
			switch strings.ToLower(filepath.Ext(ev.Name)) {
			case ".yaml", ".yml":
				clipsDue = true
			case ".lua":
				scriptsDue = true
			default:
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			d.log.Warn("watch error", zap.Error(err))
		case <-timer.C:
			// Scripts first, so rebuilt clips see the new functions.
			if scriptsDue {
				d.enqueue(request{op: opScripts})
			}
			if clipsDue {
				d.enqueue(request{op: opReload, dir: clipsDir})
			}
			clipsDue, scriptsDue = false, false
		}
	}
}
