package proclock

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestTryAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.lock")

	lock, err := TryAcquire(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}

	// Released lock can be taken again.
	lock2, err := TryAcquire(path)
	if err != nil {
		t.Fatal(err)
	}
	lock2.Release()
}

func TestSecondHolderBlocksWithinProcess(t *testing.T) {
	// flock is per open file description, so a second descriptor in
	// the same process contends like a second process would.
	path := filepath.Join(t.TempDir(), "engine.lock")

	lock, err := TryAcquire(path)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	_, err = TryAcquire(path)
	if !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
}

func TestAcquireTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.lock")

	lock, err := TryAcquire(path)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	start := time.Now()
	_, err = Acquire(path, 300*time.Millisecond)
	if !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld after timeout, got %v", err)
	}
	if time.Since(start) < 300*time.Millisecond {
		t.Error("Acquire returned before the timeout elapsed")
	}
}

func TestAcquireSucceedsAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.lock")

	lock, err := TryAcquire(path)
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(250 * time.Millisecond)
		lock.Release()
	}()

	acquired, err := Acquire(path, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	acquired.Release()
}
