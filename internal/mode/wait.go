package mode

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is how long Enable waits for the module artifact after
// the regeneration service restarted.
const DefaultPollInterval = 2 * time.Second

// Waiter suspends an enable transition until the module artifact at path
// has had its chance to appear. Wait returns ctx.Err() when cancelled and
// nil otherwise; the caller checks for the artifact afterwards.
type Waiter interface {
	Wait(ctx context.Context, path string) error
}

// TimerWaiter waits a fixed delay.
type TimerWaiter struct {
	Delay time.Duration
}

// Wait blocks for Delay or until ctx is done.
func (w TimerWaiter) Wait(ctx context.Context, _ string) error {
	t := time.NewTimer(w.Delay)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WatchWaiter waits at most Delay, returning early when the artifact
// already exists or is created or written. It degrades to a TimerWaiter if the directory cannot
// be watched.
type WatchWaiter struct {
	Delay  time.Duration
	Logger *log.Logger
}

// Wait blocks until the artifact changes, Delay elapses, or ctx is done.
func (w WatchWaiter) Wait(ctx context.Context, path string) error {
	fallback := TimerWaiter{Delay: w.Delay}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logf("mode: fsnotify unavailable, falling back to timer: %v", err)
		return fallback.Wait(ctx, path)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		w.logf("mode: cannot watch %s, falling back to timer: %v", filepath.Dir(path), err)
		return fallback.Wait(ctx, path)
	}

	// The restart job has usually finished by now, so the artifact may
	// already be there and its Create event missed.
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	target := filepath.Clean(path)
	t := time.NewTimer(w.Delay)
	defer t.Stop()

	events, errs := watcher.Events, watcher.Errors
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil // closed; keep waiting on the timer
				continue
			}
			if filepath.Clean(ev.Name) == target && (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				return nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logf("mode: watch error on %s: %v", path, err)
		}
	}
}

func (w WatchWaiter) logf(format string, args ...any) {
	if w.Logger != nil {
		w.Logger.Printf(format, args...)
	}
}
