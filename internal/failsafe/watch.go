package failsafe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/lockward/internal/proclock"
)

// sweepDefault is the default interval between recovery attempts.
const sweepDefault = time.Minute

// debounceDefault coalesces bursts of release-directory events into
// one sweep.
const debounceDefault = 200 * time.Millisecond

// Watcher runs the recovery protocol on a timer and wakes early when
// an early-release token lands in the release directory.
type Watcher struct {
	protocol *Protocol
	interval time.Duration
	debounce time.Duration

	// releaseDir is watched for token files; empty disables the
	// fsnotify wake-up and leaves only the ticker.
	releaseDir string
	// watchLock guards against a second watcher instance.
	watchLock string
}

// NewWatcher creates a watcher around the protocol. interval zero
// means the default sweep interval.
func NewWatcher(protocol *Protocol, releaseDir, watchLock string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = sweepDefault
	}
	return &Watcher{
		protocol:   protocol,
		interval:   interval,
		debounce:   debounceDefault,
		releaseDir: releaseDir,
		watchLock:  watchLock,
	}
}

// Run sweeps until ctx is cancelled. A sweep that finds the window
// still open is routine and only logged; any other failure is logged
// and retried on the next sweep. Run refuses to start when another
// watcher already holds the watch lock.
func (w *Watcher) Run(ctx context.Context) error {
	lock, err := proclock.TryAcquire(w.watchLock)
	if err != nil {
		if errors.Is(err, proclock.ErrHeld) {
			return fmt.Errorf("failsafe: another watcher is already running")
		}
		return fmt.Errorf("failsafe: %w", err)
	}
	defer lock.Release()

	var events <-chan fsnotify.Event
	if w.releaseDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err == nil {
			if addErr := watcher.Add(w.releaseDir); addErr == nil {
				events = watcher.Events
			} else {
				fmt.Fprintf(os.Stderr, "failsafe: watch %s: %v, ticker only\n", w.releaseDir, addErr)
			}
			defer func() { _ = watcher.Close() }()
		} else {
			fmt.Fprintf(os.Stderr, "failsafe: fsnotify unavailable: %v, ticker only\n", err)
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Single debounce timer, reset per event. Stopped until the first
	// release-directory event arrives.
	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	w.sweep()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			w.sweep()

		case <-debounceTimer.C:
			w.sweep()

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isTokenFile(event.Name) {
				continue
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)
		}
	}
}

// sweep attempts one recovery run. A closed gate is the normal idle
// state, not an error worth more than a line on stderr.
func (w *Watcher) sweep() {
	res, err := w.protocol.Run()
	switch {
	case err == nil:
		if res.Report != nil {
			fmt.Fprintf(os.Stderr, "failsafe: run %s reverted %d restriction(s)\n", res.RunID, len(res.Report.Items))
		}
	case errors.Is(err, ErrTimerNotElapsed):
		// Window still open. Wait for the next sweep.
	case errors.Is(err, ErrWrongIdentity):
		fmt.Fprintf(os.Stderr, "failsafe: %v\n", err)
	default:
		fmt.Fprintf(os.Stderr, "failsafe: sweep: %v\n", err)
	}
}

// isTokenFile ignores partial writes in the release directory.
func isTokenFile(path string) bool {
	return strings.HasSuffix(path, ".json") && !strings.HasSuffix(path, ".tmp")
}
