package policyfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"mercator-hq/ilm/pkg/lifecycle"
)

// ReloadFunc receives the policies of a policy file that changed on disk.
type ReloadFunc func(policies []lifecycle.RetentionPolicy) error

// Watcher reloads a policy file when it changes. It watches the parent
// directory so that editors replacing the file by rename are noticed, and
// collapses a burst of events into one reload once the file has been quiet
// for the configured interval.
type Watcher struct {
	path   string
	quiet  time.Duration
	fs     *fsnotify.Watcher
	logger *slog.Logger
}

// NewWatcher creates a watcher for the policy file at path. A quiet interval
// of zero means 100ms.
func NewWatcher(path string, quiet time.Duration, logger *slog.Logger) (*Watcher, error) {
	if quiet <= 0 {
		quiet = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve policy file %q: %w", path, err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	return &Watcher{
		path:   abs,
		quiet:  quiet,
		fs:     fs,
		logger: logger.With("component", "lifecycle.policyfile.watcher", "path", abs),
	}, nil
}

// Watch blocks until ctx is cancelled, calling reload with the new policies
// after each change. A file that no longer parses or validates is logged and
// skipped, leaving the policies from the last good load in force. Watch
// releases the underlying watcher when it returns.
func (w *Watcher) Watch(ctx context.Context, reload ReloadFunc) error {
	defer w.fs.Close()

	dir := filepath.Dir(w.path)
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching policy file")

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
			w.logger.Info("policy file watcher stopped")
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return errors.New("policy file watcher: event stream closed")
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("policy file event", "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.quiet)
			} else {
				timer.Reset(w.quiet)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload(ctx, reload)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return errors.New("policy file watcher: error stream closed")
			}
			w.logger.Error("policy file watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context, reload ReloadFunc) {
	policies, err := Load(w.path)
	if err != nil {
		w.logger.WarnContext(ctx, "policy file rejected, keeping current policies", "error", err)
		return
	}
	if err := reload(policies); err != nil {
		w.logger.ErrorContext(ctx, "policy reload failed", "error", err)
		return
	}
	w.logger.InfoContext(ctx, "policy file reloaded", "streams", len(policies))
}

// relevant filters out events for other files in the directory and bare
// permission changes.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	name, err := filepath.Abs(event.Name)
	return err == nil && name == w.path
}
