// Package notify tells other processes sharing a local store that it has
// changed. Writers Touch a small marker file next to the database; a Watcher
// in every other process observes it with fsnotify and fires a callback.
package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Touch marks the store as changed by this process. An empty path is a no-op.
func Touch(path string) error {
	if path == "" {
		return nil
	}
	content := fmt.Sprintf("%d %d\n", os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to touch %s: %w", path, err)
	}
	return nil
}

// writerPID returns the pid recorded by the last Touch, or 0.
func writerPID(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0
	}
	pid, _ := strconv.Atoi(fields[0])
	return pid
}

// Watcher calls OnChange after another process touched the marker file.
// Bursts of events within Debounce collapse into one call.
type Watcher struct {
	Path     string
	Debounce time.Duration
	OnChange func()
	Logger   logging.Logger

	// self is the pid whose own touches are ignored.
	self int
}

func NewWatcher(path string, debounce time.Duration, onChange func(), logger logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Watcher{
		Path:     filepath.Clean(path),
		Debounce: debounce,
		OnChange: onChange,
		Logger:   logger.With("module", "notify"),
		self:     os.Getpid(),
	}
}

// Run watches until ctx is cancelled. The parent directory is watched because
// editors and atomic writers may replace the file.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.Path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.Path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.Debounce)
			} else {
				timer.Reset(w.Debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if writerPID(w.Path) == w.self {
				continue
			}
			w.Logger.Debug(ctx, "peer mutation observed", "path", w.Path)
			w.OnChange()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Logger.Warn(ctx, "watch error", "error", err)
		}
	}
}
