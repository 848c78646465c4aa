package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/vaultlens/internal/storage"
)

// DefaultDebounce is how long the watcher waits after the last relevant event
// before starting an index run.
const DefaultDebounce = 500 * time.Millisecond

// ReportCallback is called after every watcher-driven index run.
type ReportCallback func(rep *Report)

// Watch starts an fsnotify watcher on the vault and runs the indexer after
// each burst of markdown changes, until ctx is cancelled. Runs happen on this
// goroutine, so they never overlap.
//
// New directories created at runtime are added to the watch list. Renames and
// deletions are picked up by the run's deletion detection.
func Watch(ctx context.Context, ix *Indexer, debounce time.Duration, logger *slog.Logger, cb ReportCallback) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	store := ix.Store()
	root := store.Root()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, store, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
			return
		}
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			rep, err := ix.Run(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				logger.Error("watcher: index run failed", slog.String("error", err.Error()))
				continue
			}
			if cb != nil {
				cb(rep)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if store.Excluded(rel, true) {
						continue
					}
					if addErr := addDirsRecursive(w, store, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", rel))
					}
					// The directory may already hold notes.
					schedule()
					continue
				}
			}

			// Removing or renaming a directory yields one event for the
			// directory itself, so anything without an extension counts.
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && filepath.Ext(rel) == "" {
				schedule()
				continue
			}
			if !storage.IsNote(rel) || store.Excluded(rel, false) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Debug("watcher: change", slog.String("path", rel), slog.String("op", ev.Op.String()))
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds dir and all its non-excluded subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, store storage.Provider, dir string) error {
	root := store.Root()
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(root, p); relErr == nil && rel != "." && store.Excluded(filepath.ToSlash(rel), true) {
			return fs.SkipDir
		}
		return w.Add(p)
	})
}
