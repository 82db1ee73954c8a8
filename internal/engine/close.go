package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/DiscoClaw/discoclaw/internal/logging"
	"github.com/DiscoClaw/discoclaw/internal/model"
	"github.com/DiscoClaw/discoclaw/internal/tagmap"
	"github.com/DiscoClaw/discoclaw/internal/threadname"
)

// isAlreadyClosed reports whether a thread is already in canonical closed
// form: archived, canonical name, canonical tag set. This is the common
// steady-state case and makes repeated closes cheap no-ops.
func (e *Engine) isAlreadyClosed(ctx context.Context, threadID string, task model.Task, tags tagmap.Map) (bool, error) {
	archived, err := e.threads.IsArchived(ctx, threadID)
	if err != nil {
		return false, fmt.Errorf("check archived: %w", err)
	}
	if !archived {
		return false, nil
	}

	name, err := e.threads.ThreadName(ctx, threadID)
	if err != nil {
		return false, fmt.Errorf("fetch thread name: %w", err)
	}
	if name != threadname.Encode(task) {
		return false, nil
	}

	applied, err := e.threads.AppliedTags(ctx, threadID)
	if err != nil {
		return false, fmt.Errorf("fetch applied tags: %w", err)
	}
	return tagmap.SetsEqual(applied, tags.TagsFor(task)), nil
}

// closeSequence converges a thread to canonical closed form: unarchive so it
// can be edited, post the closing summary (best effort), rename, retag, then
// archive. Callers must hold the task's lock and have applied the in-flight
// guard.
func (e *Engine) closeSequence(ctx context.Context, threadID string, task model.Task, tags tagmap.Map) error {
	if err := e.threads.EnsureUnarchived(ctx, threadID); err != nil {
		return fmt.Errorf("unarchive: %w", err)
	}

	if err := e.threads.PostMessage(ctx, threadID, closingSummary(task)); err != nil {
		e.log(logging.LevelWarn, "close task=%s summary message error=%v", task.ID, err)
	}

	if _, err := e.threads.UpdateName(ctx, threadID, threadname.Encode(task)); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	if _, err := e.threads.UpdateTags(ctx, threadID, tags.TagsFor(task)); err != nil {
		return fmt.Errorf("retag: %w", err)
	}
	if err := e.threads.Archive(ctx, threadID); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}

func closingSummary(task model.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task **%s** closed: %s", task.ID, task.Title)
	if task.Owner != "" {
		fmt.Fprintf(&b, "\nOwner: %s", task.Owner)
	}
	if len(task.Labels) > 0 {
		fmt.Fprintf(&b, "\nLabels: %s", strings.Join(task.Labels, ", "))
	}
	return b.String()
}
