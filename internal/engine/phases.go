package engine

import (
	"context"

	"github.com/DiscoClaw/discoclaw/internal/logging"
	"github.com/DiscoClaw/discoclaw/internal/model"
	"github.com/DiscoClaw/discoclaw/internal/store"
	"github.com/DiscoClaw/discoclaw/internal/tagmap"
	"github.com/DiscoClaw/discoclaw/internal/threadname"
)

// phaseCreateMissing creates a thread for every non-closed task that has no
// resolvable external ref and is not opted out. An existing thread whose name
// already embeds the task's short ID is linked instead of duplicated.
func (e *Engine) phaseCreateMissing(ctx context.Context, c *Container, tasks []model.Task, tags tagmap.Map, res *model.SyncResult) {
	for i := range tasks {
		t := tasks[i]
		if t.ThreadID() != "" || t.IsClosed() || t.HasLabel(model.NoThreadLabel) || t.ShortID() == "" {
			continue
		}
		e.throttle(ctx)

		err := e.locks.WithLock(ctx, t.ID, func() error {
			cur, ok, err := e.store.Get(ctx, t.ID)
			if err != nil {
				return err
			}
			// A concurrent holder may have linked a thread or closed the task
			// since the snapshot was taken.
			if !ok || cur.ThreadID() != "" || cur.IsClosed() || cur.HasLabel(model.NoThreadLabel) {
				return nil
			}

			existing, err := e.threads.FindThreadForTask(ctx, c, cur.ShortID(), e.cfg.Sync.ArchivedSearchLimit)
			if err != nil {
				return err
			}
			if existing != "" {
				ref := model.ThreadRef(existing)
				if _, err := e.store.Update(ctx, t.ID, store.UpdateFields{ExternalRef: &ref}, model.OriginSyncEngine); err != nil {
					return err
				}
				tasks[i].ExternalRef = ref
				e.log(logging.LevelInfo, "phase1 linked existing thread task=%s thread=%s", t.ID, existing)
				return nil
			}

			threadID, err := e.threads.CreateThread(ctx, c, cur, tags.TagsFor(cur), e.cfg.Forum.MentionUser)
			if err != nil {
				return err
			}
			res.ThreadsCreated++
			e.log(logging.LevelInfo, "phase1 created thread task=%s thread=%s", t.ID, threadID)

			ref := model.ThreadRef(threadID)
			if _, err := e.store.Update(ctx, t.ID, store.UpdateFields{ExternalRef: &ref}, model.OriginSyncEngine); err != nil {
				return err
			}
			tasks[i].ExternalRef = ref
			return nil
		})
		if err != nil {
			res.Warnings++
			e.log(logging.LevelWarn, "phase1 task=%s error=%v", t.ID, err)
		}
	}
}

// phaseCorrectStatuses forces open tasks carrying a waiting-/blocked- label
// to blocked, in the store and in the snapshot so phase 3 renders the
// corrected status within the same run.
func (e *Engine) phaseCorrectStatuses(ctx context.Context, tasks []model.Task, res *model.SyncResult) {
	for i := range tasks {
		t := &tasks[i]
		if t.Status != model.StatusOpen || !hasBlockedLabel(t.Labels) {
			continue
		}

		blocked := model.StatusBlocked
		err := e.locks.WithLock(ctx, t.ID, func() error {
			_, err := e.store.Update(ctx, t.ID, store.UpdateFields{Status: &blocked}, model.OriginSyncEngine)
			return err
		})
		if err != nil {
			res.Warnings++
			e.log(logging.LevelWarn, "phase2 task=%s error=%v", t.ID, err)
			continue
		}
		t.Status = model.StatusBlocked
		res.StatusesUpdated++
		e.log(logging.LevelInfo, "phase2 forced blocked task=%s", t.ID)
	}
}

// phaseSyncActive converges name, starter message, and tags of every active
// task's thread. The three updates are independent; one failing does not
// prevent the others.
func (e *Engine) phaseSyncActive(ctx context.Context, tasks []model.Task, tags tagmap.Map, res *model.SyncResult) {
	for i := range tasks {
		t := tasks[i]
		if t.ThreadID() == "" || t.IsClosed() {
			continue
		}
		e.throttle(ctx)

		err := e.locks.WithLock(ctx, t.ID, func() error {
			cur, ok, err := e.store.Get(ctx, t.ID)
			if err != nil {
				return err
			}
			if !ok || cur.ThreadID() == "" || cur.IsClosed() {
				return nil
			}
			threadID := cur.ThreadID()

			archived, err := e.threads.IsArchived(ctx, threadID)
			if err != nil {
				return err
			}
			if archived {
				// A concurrent close may be in progress; unarchiving here
				// would fight it.
				e.log(logging.LevelDebug, "phase3 task=%s thread archived, skipping", t.ID)
				return nil
			}
			if err := e.threads.EnsureUnarchived(ctx, threadID); err != nil {
				e.log(logging.LevelWarn, "phase3 task=%s ensure unarchived error=%v", t.ID, err)
			}

			if changed, err := e.threads.UpdateName(ctx, threadID, threadname.Encode(cur)); err != nil {
				res.Warnings++
				e.log(logging.LevelWarn, "phase3 task=%s name update error=%v", t.ID, err)
			} else if changed {
				res.EmojisUpdated++
			}

			if changed, err := e.threads.UpdateStarterMessage(ctx, threadID, cur); err != nil {
				res.Warnings++
				e.log(logging.LevelWarn, "phase3 task=%s starter update error=%v", t.ID, err)
			} else if changed {
				res.StarterMessagesUpdated++
			}

			if changed, err := e.threads.UpdateTags(ctx, threadID, tags.TagsFor(cur)); err != nil {
				res.Warnings++
				e.log(logging.LevelWarn, "phase3 task=%s tag update error=%v", t.ID, err)
			} else if changed {
				res.TagsUpdated++
			}
			return nil
		})
		if err != nil {
			res.Warnings++
			e.log(logging.LevelWarn, "phase3 task=%s error=%v", t.ID, err)
		}
	}
}

// phaseArchiveClosed runs the close sequence on every closed task's thread
// unless the thread is already in canonical closed form or a live reply is
// in flight.
func (e *Engine) phaseArchiveClosed(ctx context.Context, tasks []model.Task, tags tagmap.Map, res *model.SyncResult) map[string]bool {
	settled := make(map[string]bool)
	for i := range tasks {
		t := tasks[i]
		if !t.IsClosed() || t.ThreadID() == "" {
			continue
		}
		e.throttle(ctx)

		err := e.locks.WithLock(ctx, t.ID, func() error {
			cur, ok, err := e.store.Get(ctx, t.ID)
			if err != nil {
				return err
			}
			if !ok || !cur.IsClosed() || cur.ThreadID() == "" {
				return nil
			}
			threadID := cur.ThreadID()

			done, err := e.isAlreadyClosed(ctx, threadID, cur, tags)
			if err != nil {
				return err
			}
			if done {
				settled[threadID] = true
				return nil
			}

			if e.inflight.HasInFlight(threadID) {
				res.ClosesDeferred++
				settled[threadID] = true
				e.log(logging.LevelInfo, "phase4 task=%s close deferred, reply in flight", t.ID)
				return nil
			}

			if err := e.closeSequence(ctx, threadID, cur, tags); err != nil {
				return err
			}
			res.ThreadsArchived++
			settled[threadID] = true
			e.log(logging.LevelInfo, "phase4 archived task=%s thread=%s", t.ID, threadID)
			return nil
		})
		if err != nil {
			res.Warnings++
			e.log(logging.LevelWarn, "phase4 task=%s error=%v", t.ID, err)
		}
	}
	return settled
}
