// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/broadcomms/brainstormx/internal/log"
	"github.com/fsnotify/fsnotify"
)

// Holder exposes the current configuration snapshot to running components.
// Reads are lock-free; Reload swaps the snapshot atomically.
type Holder struct {
	path string
	cur  atomic.Pointer[Snapshot]
}

// NewHolder creates a Holder seeded with the given snapshot.
// path may be empty when no config file is in use.
func NewHolder(path string, snap Snapshot) *Holder {
	h := &Holder{path: path}
	h.cur.Store(&snap)
	return h
}

// Current returns the active configuration snapshot.
func (h *Holder) Current() Snapshot {
	return *h.cur.Load()
}

// Reload re-reads the config file and swaps the snapshot on success.
// Invalid files leave the active snapshot untouched.
func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}
	snap, err := LoadFile(h.path, FromEnv())
	if err != nil {
		return err
	}
	h.cur.Store(&snap)
	return nil
}

// Watch blocks until ctx is done, reloading the config whenever the file
// changes on disk. Editors that replace the file (rename+create) are handled
// by watching the parent directory.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	logger := log.WithComponent("config")
	target := filepath.Clean(h.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := h.Reload(); err != nil {
				logger.Warn().Err(err).Str("path", h.path).Msg("config reload failed, keeping previous snapshot")
				continue
			}
			logger.Info().Str("path", h.path).Msg("config reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}
