// Package status maintains the status snapshot file and renders it.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/DiscoClaw/discoclaw/internal/model"
	"github.com/DiscoClaw/discoclaw/internal/yamlutil"
)

// Snapshot is the on-disk status of the sync process.
type Snapshot struct {
	UpdatedAt     string            `yaml:"updated_at" json:"updated_at"`
	DaemonPID     int               `yaml:"daemon_pid,omitempty" json:"daemon_pid,omitempty"`
	HeartbeatAt   string            `yaml:"heartbeat_at,omitempty" json:"heartbeat_at,omitempty"`
	LastRun       *model.SyncResult `yaml:"last_run,omitempty" json:"last_run,omitempty"`
	LastError     string            `yaml:"last_error,omitempty" json:"last_error,omitempty"`
	LastErrorAt   string            `yaml:"last_error_at,omitempty" json:"last_error_at,omitempty"`
	ErrorCounts   map[string]int    `yaml:"error_counts,omitempty" json:"error_counts,omitempty"`
	ActiveThreads int               `yaml:"active_threads,omitempty" json:"active_threads,omitempty"`
}

// Writer persists status snapshots atomically. It implements
// engine.StatusPoster.
type Writer struct {
	path string
	mu   sync.Mutex
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// OnSyncComplete records a finished run.
func (w *Writer) OnSyncComplete(ctx context.Context, result *model.SyncResult) error {
	return w.mutate(func(s *Snapshot) {
		s.LastRun = result
	})
}

// RecordFailure records a run-level failure and its class counter.
func (w *Writer) RecordFailure(err error, class string) error {
	return w.mutate(func(s *Snapshot) {
		s.LastError = err.Error()
		s.LastErrorAt = time.Now().UTC().Format(time.RFC3339)
		if s.ErrorCounts == nil {
			s.ErrorCounts = make(map[string]int)
		}
		s.ErrorCounts[class]++
	})
}

// Heartbeat records that the daemon is alive.
func (w *Writer) Heartbeat(pid int) error {
	return w.mutate(func(s *Snapshot) {
		s.DaemonPID = pid
		s.HeartbeatAt = time.Now().UTC().Format(time.RFC3339)
	})
}

// SetActiveThreads records the cached active-thread count.
func (w *Writer) SetActiveThreads(n int) error {
	return w.mutate(func(s *Snapshot) {
		s.ActiveThreads = n
	})
}

func (w *Writer) mutate(fn func(*Snapshot)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	s, err := Read(w.path)
	if err != nil {
		// A corrupt or missing snapshot is replaced, never fatal.
		s = Snapshot{}
	}
	fn(&s)
	s.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return yamlutil.AtomicWrite(w.path, s)
}

// Read loads a status snapshot. A missing file yields a zero snapshot.
func Read(path string) (Snapshot, error) {
	var s Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("read status: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse status: %w", err)
	}
	return s, nil
}

// Render writes a human-readable view of the snapshot.
func Render(s Snapshot, out io.Writer, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	if s.UpdatedAt == "" {
		fmt.Fprintln(out, "no status recorded yet")
		return nil
	}
	fmt.Fprintf(out, "updated: %s\n", s.UpdatedAt)
	if s.HeartbeatAt != "" {
		fmt.Fprintf(out, "daemon:  pid=%d heartbeat=%s\n", s.DaemonPID, s.HeartbeatAt)
	}
	if r := s.LastRun; r != nil {
		fmt.Fprintf(out, "last run %s (%s → %s)\n", r.RunID, r.StartedAt, r.FinishedAt)
		fmt.Fprintf(out, "  created=%d statuses=%d names=%d starters=%d tags=%d archived=%d reconciled=%d\n",
			r.ThreadsCreated, r.StatusesUpdated, r.EmojisUpdated, r.StarterMessagesUpdated,
			r.TagsUpdated, r.ThreadsArchived, r.ThreadsReconciled)
		fmt.Fprintf(out, "  orphans=%d deferred=%d warnings=%d\n",
			r.OrphanThreadsFound, r.ClosesDeferred, r.Warnings)
	}
	if s.ActiveThreads > 0 {
		fmt.Fprintf(out, "active threads: %d\n", s.ActiveThreads)
	}
	if s.LastError != "" {
		fmt.Fprintf(out, "last error (%s): %s\n", s.LastErrorAt, s.LastError)
	}
	for class, n := range s.ErrorCounts {
		fmt.Fprintf(out, "  failures class=%s count=%d\n", class, n)
	}
	return nil
}
