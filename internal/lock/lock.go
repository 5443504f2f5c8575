// Package lock keeps two clients from opening the same profile at once. Both
// would own the push device token and race on the key-value store.
package lock

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file created inside the profile directory.
const FileName = "handychat.lock"

// InUseError is returned when another process has the profile open.
type InUseError struct {
	PID     int
	Command string
	Path    string
}

func (e *InUseError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("profile in use by %s (PID %d, %s)", e.Command, e.PID, e.Path)
	}
	return fmt.Sprintf("profile in use by PID %d (%s)", e.PID, e.Path)
}

// ProfileLock is a held profile lock.
type ProfileLock struct {
	f    *os.File
	path string
}

// Acquire takes the profile lock for command without blocking.
func Acquire(profileDir, command string) (*ProfileLock, error) {
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	path := filepath.Join(profileDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := readHolder(f)
		_ = f.Close()
		holder.Path = path
		return nil, holder
	}

	l := &ProfileLock{f: f, path: path}
	if err := l.writeHolder(command); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *ProfileLock) writeHolder(command string) error {
	if err := l.f.Truncate(0); err != nil {
		return err
	}
	_, err := l.f.WriteAt([]byte(fmt.Sprintf("pid=%d\ncmd=%s\nsince=%s\n",
		os.Getpid(), command, time.Now().UTC().Format(time.RFC3339))), 0)
	return err
}

// Release drops the lock. Calling it on a nil or released lock is a no-op.
func (l *ProfileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.f.Close()
	l.f = nil
	return err
}

func readHolder(f *os.File) *InUseError {
	holder := &InUseError{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch k {
		case "pid":
			holder.PID, _ = strconv.Atoi(v)
		case "cmd":
			holder.Command = v
		}
	}
	return holder
}
