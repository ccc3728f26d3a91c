package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"sequentier/internal/logging"
)

// ChangeEvent carries the snapshots on either side of a successful reload.
type ChangeEvent struct {
	Old *Config
	New *Config
}

// Cell publishes the current template configuration as an immutable snapshot
// and swaps it atomically on reload.
type Cell struct {
	path   string
	logger *slog.Logger

	current atomic.Pointer[Config]

	// reloadMu serializes parse, swap, and subscriber notification so
	// subscribers observe events in swap order.
	reloadMu sync.Mutex

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(ChangeEvent)
}

// NewCell loads the file at path and returns a cell publishing it. A failure
// here is fatal to the caller; there is no previous snapshot to fall back to.
func NewCell(path string, logger *slog.Logger) (*Cell, error) {
	cfg, resolved, _, err := Load(path)
	if err != nil {
		return nil, err
	}
	cell := newCell(resolved, logger)
	cell.current.Store(cfg)
	return cell, nil
}

// NewStaticCell publishes cfg without a backing file. Reload on a static cell
// returns an error.
func NewStaticCell(cfg *Config, logger *slog.Logger) *Cell {
	cell := newCell("", logger)
	cell.current.Store(cfg)
	return cell
}

func newCell(path string, logger *slog.Logger) *Cell {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cell{
		path:   path,
		logger: logger.With(logging.String(logging.FieldComponent, "config")),
		subs:   make(map[int]func(ChangeEvent)),
	}
}

// Path returns the backing file, or "" for a static cell.
func (c *Cell) Path() string {
	return c.path
}

// Get returns the current snapshot. Callers must not mutate it.
func (c *Cell) Get() *Config {
	return c.current.Load()
}

// Subscribe registers fn to receive change events after every successful
// reload. The returned function unregisters it.
func (c *Cell) Subscribe(fn func(ChangeEvent)) func() {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Reload re-reads the backing file and swaps the published snapshot. On
// failure the previous snapshot stays active and the error is returned.
func (c *Cell) Reload() error {
	if c.path == "" {
		return errors.New("config cell has no backing file")
	}
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	cfg, _, exists, err := Load(c.path)
	if err == nil && !exists {
		err = fmt.Errorf("config file %s no longer exists", c.path)
	}
	if err != nil {
		logging.WarnWithContext(c.logger, "config reload failed; keeping previous configuration", "config_reload_failed",
			logging.String("path", c.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the file; it is re-read on the next change"),
		)
		return err
	}

	old := c.current.Swap(cfg)
	c.logger.Info("config reloaded",
		logging.String(logging.FieldEventType, "config_reloaded"),
		logging.String("path", c.path),
	)

	event := ChangeEvent{Old: old, New: cfg}
	c.subMu.Lock()
	handlers := make([]func(ChangeEvent), 0, len(c.subs))
	for _, fn := range c.subs {
		handlers = append(handlers, fn)
	}
	c.subMu.Unlock()
	for _, fn := range handlers {
		fn(event)
	}
	return nil
}

// Watch reloads the cell whenever its backing file changes, coalescing bursts
// of events within debounce. It blocks until ctx is cancelled.
func (c *Cell) Watch(ctx context.Context, debounce time.Duration) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file by rename, so watch the directory.
	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch config directory %s: %w", dir, err)
	}
	target := filepath.Clean(c.path)

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
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
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
			_ = c.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(c.logger, "config watcher error", "config_watch_error",
				logging.Error(err),
			)
		}
	}
}
