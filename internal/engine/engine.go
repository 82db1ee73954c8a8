// Package engine implements the five-phase task↔thread reconciliation pass.
//
// Phase 1 creates threads for tasks that lack one, deduplicating against
// existing threads by embedded short ID. Phase 2 forces open tasks with
// waiting-/blocked- labels to blocked. Phase 3 converges the presentation
// (name, starter message, tags) of every active task's thread. Phase 4
// archives threads of closed tasks. Phase 5 walks the forum itself and
// repairs drift the task-driven phases cannot see.
//
// Every per-task step runs under that task's lock and re-fetches the record
// before acting, so a snapshot taken at the start of the run can never cause
// a stale write. A failure on one task is logged and counted, never allowed
// to stop the loop.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/DiscoClaw/discoclaw/internal/lock"
	"github.com/DiscoClaw/discoclaw/internal/logging"
	"github.com/DiscoClaw/discoclaw/internal/model"
	"github.com/DiscoClaw/discoclaw/internal/store"
	"github.com/DiscoClaw/discoclaw/internal/tagmap"
)

// Engine runs one reconciliation pass per Sync call. It is stateless between
// runs; all coordination (coalescing, retries) lives in the coordinator.
type Engine struct {
	store    store.TaskStore
	threads  ThreadOps
	inflight InFlightChecker
	locks    *lock.Registry
	tags     *tagmap.Reloader
	cfg      model.Config
	logger   *log.Logger
	logLevel logging.Level
}

// New creates an Engine. locks and tags are shared with the coordinator.
func New(
	taskStore store.TaskStore,
	threads ThreadOps,
	inflight InFlightChecker,
	locks *lock.Registry,
	tags *tagmap.Reloader,
	cfg model.Config,
	logger *log.Logger,
	logLevel logging.Level,
) *Engine {
	if inflight == nil {
		inflight = NoInFlight{}
	}
	return &Engine{
		store:    taskStore,
		threads:  threads,
		inflight: inflight,
		locks:    locks,
		tags:     tags,
		cfg:      cfg,
		logger:   logger,
		logLevel: logLevel,
	}
}

// Sync runs phases 1→5 against a snapshot of all tasks and returns the
// accumulated counters. An unresolvable container short-circuits the run
// with Warnings=1 and every other counter zero. A returned error means the
// run itself failed (store listing, container lookup transport failure);
// per-task failures only ever increment Warnings.
func (e *Engine) Sync(ctx context.Context) (*model.SyncResult, error) {
	res := model.NewSyncResult()
	e.log(logging.LevelInfo, "sync run=%s started", res.RunID)

	container, err := e.threads.ResolveContainer(ctx, e.cfg.Forum.Container)
	if err != nil {
		return nil, fmt.Errorf("resolve container %q: %w", e.cfg.Forum.Container, err)
	}
	if container == nil {
		e.log(logging.LevelError, "sync run=%s container %q not found", res.RunID, e.cfg.Forum.Container)
		res.Warnings = 1
		res.Finish()
		return res, nil
	}

	tasks, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tags := e.tags.Current()

	e.phaseCreateMissing(ctx, container, tasks, tags, res)
	e.phaseCorrectStatuses(ctx, tasks, res)
	e.phaseSyncActive(ctx, tasks, tags, res)
	settled := e.phaseArchiveClosed(ctx, tasks, tags, res)
	if e.cfg.Sync.DisableReconcile {
		e.log(logging.LevelDebug, "sync run=%s reconcile phase disabled", res.RunID)
	} else {
		e.phaseReconcile(ctx, container, tasks, tags, settled, res)
	}

	res.Finish()
	e.log(logging.LevelInfo, "sync run=%s finished mutations=%d warnings=%d", res.RunID, res.Mutations(), res.Warnings)
	return res, nil
}

// throttle pauses between per-thread operations so batch passes stay under
// the host's rate limits.
func (e *Engine) throttle(ctx context.Context) {
	delay := time.Duration(e.cfg.Sync.ThrottleMs) * time.Millisecond
	if delay <= 0 {
		return
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// hasBlockedLabel reports whether any label marks the task as waiting on
// something external.
func hasBlockedLabel(labels []string) bool {
	for _, l := range labels {
		if strings.HasPrefix(l, "waiting-") || strings.HasPrefix(l, "blocked-") {
			return true
		}
	}
	return false
}

func (e *Engine) log(level logging.Level, format string, args ...any) {
	if level < e.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	e.logger.Printf("%s %s engine: %s", time.Now().Format(time.RFC3339), level, msg)
}
