package directory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoadSnapshot reads a directory snapshot from a YAML file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file %q: %w", path, err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse directory file %q: %w", path, err)
	}
	return &snap, nil
}

// File is a Directory backed by a YAML file. When watching, edits to the
// file are picked up without a restart; an edit that fails to parse or
// validate is logged and the previous contents stay in effect.
type File struct {
	*Memory

	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	done    chan struct{}
}

// NewFile loads path and returns a directory serving its contents.
func NewFile(path string, debounce time.Duration, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	f := &File{
		Memory:   NewMemory(),
		path:     path,
		debounce: debounce,
		logger:   logger.With("component", "directory", "path", path),
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the file and swaps in its contents.
func (f *File) Reload() error {
	snap, err := LoadSnapshot(f.path)
	if err != nil {
		return err
	}
	if err := f.Load(snap); err != nil {
		return fmt.Errorf("directory file %q: %w", f.path, err)
	}

	orgs, workspaces, users := f.Counts()
	f.logger.Info("directory loaded",
		"organizations", orgs,
		"workspaces", workspaces,
		"users", users,
	)
	return nil
}

// Watch starts reloading the file on change. It returns once the watcher is
// installed; watching stops when ctx is cancelled or Close is called.
//
// The parent directory is watched rather than the file itself so that
// editors and config-management tools that replace the file by rename are
// handled.
func (f *File) Watch(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher != nil {
		return fmt.Errorf("directory watcher already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %q: %w", filepath.Dir(f.path), err)
	}

	f.watcher = watcher
	f.done = make(chan struct{})
	go f.loop(ctx, watcher, f.done)

	f.logger.Info("directory watcher started", "debounce_ms", f.debounce.Milliseconds())
	return nil
}

func (f *File) loop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	target := filepath.Clean(f.path)

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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			f.logger.Debug("directory file event", "op", event.Op.String())
			f.scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error("directory watcher error", "error", err)
		}
	}
}

func (f *File) scheduleReload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.debounce, func() {
		if err := f.Reload(); err != nil {
			f.logger.Error("directory reload failed, keeping previous contents", "error", err)
		}
	})
}

// Close stops the watcher, if running.
func (f *File) Close() error {
	f.mu.Lock()
	watcher, done := f.watcher, f.done
	f.watcher = nil
	if f.timer != nil {
		f.timer.Stop()
	}
	f.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}
