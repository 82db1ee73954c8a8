package lock

import (
	"fmt"
	"os"
	"syscall"
)

// ProcessLock is an advisory flock guarding against two daemons running
// against the same base directory.
type ProcessLock struct {
	path string
	file *os.File
}

func NewProcessLock(path string) *ProcessLock {
	return &ProcessLock{path: path}
}

func (pl *ProcessLock) TryLock() error {
	f, err := os.OpenFile(pl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("acquire lock (another daemon may be running): %w", err)
	}

	// Write PID to lock file
	if err := f.Truncate(0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("sync lock file: %w", err)
	}

	pl.file = f
	return nil
}

func (pl *ProcessLock) Unlock() error {
	if pl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(pl.file.Fd()), syscall.LOCK_UN); err != nil {
		pl.file.Close()
		return fmt.Errorf("release lock: %w", err)
	}

	if err := pl.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	os.Remove(pl.path)
	pl.file = nil
	return nil
}
