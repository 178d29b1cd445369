package hub

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

func (h *Hub) currentProfile() (string, bool) {
	h.profileMu.Lock()
	defer h.profileMu.Unlock()
	return h.profile, h.hasProfile
}

// reloadProfile re-reads the profile file and broadcasts it when the
// content differs from the last broadcast value.
func (h *Hub) reloadProfile() {
	data, err := os.ReadFile(h.opts.ProfilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		h.logger.Warn("failed to read profile", "path", h.opts.ProfilePath, "error", err)
		return
	}
	content := string(data)

	h.profileMu.Lock()
	if h.hasProfile && h.profile == content {
		h.profileMu.Unlock()
		return
	}
	h.profile, h.hasProfile = content, true
	h.profileMu.Unlock()

	h.logger.Debug("profile changed", "path", h.opts.ProfilePath, "bytes", len(data))
	f := newFrame(TypeProfileUpdate)
	f.Content = content
	h.broadcast(f)
}

// watchProfile watches the profile's directory, since editors often replace
// files by rename, and coalesces bursts of events into one reload after the
// debounce window. Each event resets the window.
func (h *Hub) watchProfile(ctx context.Context) error {
	path, err := filepath.Abs(h.opts.ProfilePath)
	if err != nil {
		return fmt.Errorf("resolve profile path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	h.reloadProfile()

	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(h.opts.Debounce)
			} else {
				debounce.Reset(h.opts.Debounce)
			}
			fire = debounce.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("profile watch error", "error", err)
		case <-fire:
			fire = nil
			h.reloadProfile()
		}
	}
}
