// Package filewatch следит за каталогом моделей и сообщает о новых и изменённых подкаталогах.
package filewatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher наблюдает за каталогом и его подкаталогами первого уровня
type Watcher struct {
	dir    string
	w      *fsnotify.Watcher
	logger *slog.Logger
}

// New начинает наблюдение за dir и уже существующими подкаталогами
func New(dir string, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(dir, e.Name())); err != nil {
				logger.Warn("subdirectory is not watched", "dir", e.Name(), "err", err)
			}
		}
	}
	return &Watcher{dir: filepath.Clean(dir), w: w, logger: logger}, nil
}

// Run вызывает fn с именем подкаталога при его создании и при каждом изменении файлов в нём.
// Возвращает nil после отмены ctx; наблюдатель закрывается.
func (w *Watcher) Run(ctx context.Context, fn func(name string)) error {
	defer w.w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if name, ok := w.handle(event); ok {
				fn(name)
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "dir", w.dir, "err", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return "", false
	}
	path := filepath.Clean(event.Name)
	parent := filepath.Dir(path)

	switch {
	case parent == w.dir:
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return "", false
		}
		if event.Has(fsnotify.Create) {
			if err := w.w.Add(path); err != nil {
				w.logger.Warn("subdirectory is not watched", "dir", path, "err", err)
			}
		}
		return filepath.Base(path), true
	case filepath.Dir(parent) == w.dir:
		return filepath.Base(parent), true
	}
	return "", false
}
