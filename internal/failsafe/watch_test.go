package failsafe

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/lockward/internal/proclock"
)

func TestWatcherSweepsOnStartup(t *testing.T) {
	f := newFixture(t)
	f.lockHosts(t)

	watchLock := filepath.Join(t.TempDir(), "watch.lock")
	w := NewWatcher(f.protocol, "", watchLock, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		recs, _ := f.store.GetAll()
		if len(recs) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("watcher did not revert within deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestWatcherRefusesSecondInstance(t *testing.T) {
	f := newFixture(t)
	watchLock := filepath.Join(t.TempDir(), "watch.lock")

	held, err := proclock.TryAcquire(watchLock)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	w := NewWatcher(f.protocol, "", watchLock, time.Hour)
	err = w.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected single-instance refusal, got %v", err)
	}
}

func TestIsTokenFile(t *testing.T) {
	if !isTokenFile("/x/rel-abc.json") {
		t.Error("expected .json to match")
	}
	if isTokenFile("/x/rel-abc.json.tmp") {
		t.Error("partial writes must not match")
	}
}
