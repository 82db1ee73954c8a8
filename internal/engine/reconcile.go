package engine

import (
	"context"
	"sort"

	"github.com/DiscoClaw/discoclaw/internal/logging"
	"github.com/DiscoClaw/discoclaw/internal/model"
	"github.com/DiscoClaw/discoclaw/internal/store"
	"github.com/DiscoClaw/discoclaw/internal/tagmap"
	"github.com/DiscoClaw/discoclaw/internal/threadname"
)

// phaseReconcile walks every thread in the forum and repairs drift the
// task-driven phases cannot see: lost external refs, manual renames, threads
// the host unarchived on its own. Threads whose short ID matches no task are
// counted as orphans; a short ID shared by several tasks is skipped outright
// since it may belong to a foreign deployment sharing the ID space. Threads
// the archive phase already settled this run are not revisited.
func (e *Engine) phaseReconcile(ctx context.Context, c *Container, tasks []model.Task, tags tagmap.Map, settled map[string]bool, res *model.SyncResult) {
	index := make(map[string][]int)
	for i, t := range tasks {
		if sid := t.ShortID(); sid != "" {
			index[sid] = append(index[sid], i)
		}
	}

	active, err := e.threads.ActiveThreads(ctx, c)
	if err != nil {
		res.Warnings++
		e.log(logging.LevelWarn, "phase5 active thread listing error=%v", err)
		return
	}
	archived, err := e.threads.ArchivedThreads(ctx, c)
	if err != nil {
		// Degrade to active-only rather than abort the whole phase.
		res.Warnings++
		e.log(logging.LevelWarn, "phase5 archived thread listing error=%v", err)
		archived = nil
	}

	merged := make(map[string]ThreadInfo, len(active)+len(archived))
	for id, ti := range archived {
		merged[id] = ti
	}
	for id, ti := range active {
		merged[id] = ti
	}

	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if settled[id] {
			continue
		}
		ti := merged[id]
		sid := threadname.DecodeShortID(ti.Name)
		if sid == "" {
			continue
		}

		matches := index[sid]
		if len(matches) == 0 {
			res.OrphanThreadsFound++
			e.log(logging.LevelInfo, "phase5 orphan thread=%s name=%q short_id=%s", ti.ID, ti.Name, sid)
			continue
		}
		if len(matches) > 1 {
			e.log(logging.LevelWarn, "phase5 ambiguous short_id=%s thread=%s (%d tasks), skipping", sid, ti.ID, len(matches))
			continue
		}

		t := tasks[matches[0]]
		if ref := t.ThreadID(); ref != "" && ref != ti.ID {
			// This thread belongs to another task's history or a foreign
			// deployment; the task already points elsewhere.
			continue
		}
		if !t.IsClosed() {
			continue
		}
		e.throttle(ctx)

		if err := e.reconcileClosedThread(ctx, t.ID, ti, tags, res); err != nil {
			res.Warnings++
			e.log(logging.LevelWarn, "phase5 task=%s thread=%s error=%v", t.ID, ti.ID, err)
		}
	}
}

// reconcileClosedThread converges one closed task's thread found by the
// forum walk, under the task's lock and against the latest record.
func (e *Engine) reconcileClosedThread(ctx context.Context, taskID string, ti ThreadInfo, tags tagmap.Map, res *model.SyncResult) error {
	return e.locks.WithLock(ctx, taskID, func() error {
		cur, ok, err := e.store.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if !ok || !cur.IsClosed() {
			return nil
		}
		if ref := cur.ThreadID(); ref != "" && ref != ti.ID {
			return nil
		}

		if !ti.Archived {
			if e.inflight.HasInFlight(ti.ID) {
				res.ClosesDeferred++
				e.log(logging.LevelInfo, "phase5 task=%s close deferred, reply in flight", taskID)
				return nil
			}
			if cur.ThreadID() == "" {
				ref := model.ThreadRef(ti.ID)
				if _, err := e.store.Update(ctx, taskID, store.UpdateFields{ExternalRef: &ref}, model.OriginSyncEngine); err != nil {
					// The close still proceeds; the backfill will be retried
					// on a later run.
					res.Warnings++
					e.log(logging.LevelWarn, "phase5 task=%s ref backfill error=%v", taskID, err)
				} else {
					cur.ExternalRef = ref
				}
			}
			if err := e.closeSequence(ctx, ti.ID, cur, tags); err != nil {
				return err
			}
			res.ThreadsReconciled++
			e.log(logging.LevelInfo, "phase5 closed stray thread task=%s thread=%s", taskID, ti.ID)
			return nil
		}

		done, err := e.isAlreadyClosed(ctx, ti.ID, cur, tags)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if e.inflight.HasInFlight(ti.ID) {
			res.ClosesDeferred++
			e.log(logging.LevelInfo, "phase5 task=%s repair deferred, reply in flight", taskID)
			return nil
		}
		// Archived but stale: unarchive, edit, re-archive.
		if err := e.closeSequence(ctx, ti.ID, cur, tags); err != nil {
			return err
		}
		res.ThreadsReconciled++
		e.log(logging.LevelInfo, "phase5 repaired archived thread task=%s thread=%s", taskID, ti.ID)
		return nil
	})
}
