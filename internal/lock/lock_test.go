package lock

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "step.lock")

	fl, err := Acquire(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := fl.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Reacquirable after release.
	fl2, err := Acquire(path)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	fl2.Release()
}

func TestWithLockRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "step.lock")
	ran := false
	if err := WithLock(path, func() error { ran = true; return nil }); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("fn did not run")
	}
}

func TestWithLockPropagatesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "step.lock")
	want := errors.New("step failed")
	if err := WithLock(path, func() error { return want }); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestReleaseNil(t *testing.T) {
	var fl *FileLock
	if err := fl.Release(); err != nil {
		t.Errorf("nil release err = %v", err)
	}
}
