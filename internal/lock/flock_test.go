package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestProcessLockWritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	pl := NewProcessLock(path)

	if err := pl.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Fatalf("lock file contents %q, want pid %d", data, os.Getpid())
	}

	if err := pl.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("lock file not removed on unlock")
	}
}

func TestProcessLockReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	pl := NewProcessLock(path)

	if err := pl.TryLock(); err != nil {
		t.Fatal(err)
	}
	if err := pl.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := pl.TryLock(); err != nil {
		t.Fatalf("reacquire after unlock: %v", err)
	}
	if err := pl.Unlock(); err != nil {
		t.Fatal(err)
	}
}

func TestProcessLockConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	first := NewProcessLock(path)
	if err := first.TryLock(); err != nil {
		t.Fatal(err)
	}
	defer first.Unlock()

	second := NewProcessLock(path)
	if err := second.TryLock(); err == nil {
		second.Unlock()
		t.Fatal("second TryLock on a held lock should fail")
	}
}

func TestProcessLockUnlockWithoutLock(t *testing.T) {
	pl := NewProcessLock(filepath.Join(t.TempDir(), "daemon.lock"))
	if err := pl.Unlock(); err != nil {
		t.Fatalf("Unlock without lock: %v", err)
	}
}
