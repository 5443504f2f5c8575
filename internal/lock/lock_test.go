package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesHolder(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, "handychat")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = l.Release() }()

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if !strings.Contains(string(data), "cmd=handychat") {
		t.Errorf("lock file = %q, want cmd line", data)
	}
}

func TestSecondAcquireReportsHolder(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, "handychat")
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l.Release() }()

	_, err = Acquire(dir, "handyctl")
	var inUse *InUseError
	if !errors.As(err, &inUse) {
		t.Fatalf("second Acquire() error = %v, want *InUseError", err)
	}
	if inUse.PID != os.Getpid() || inUse.Command != "handychat" {
		t.Errorf("holder = %+v", inUse)
	}
}

func TestAcquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, "a")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	var nilLock *ProfileLock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}

	l2, err := Acquire(dir, "b")
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	_ = l2.Release()
}
