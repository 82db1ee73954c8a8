package engine

import (
	"context"

	"github.com/DiscoClaw/discoclaw/internal/model"
)

// Container is the resolved forum-like channel that hosts task threads.
type Container struct {
	ID   string
	Name string
}

// ThreadInfo is the listing view of a thread.
type ThreadInfo struct {
	ID       string
	Name     string
	Archived bool
}

// ThreadOps is the engine's view of the thread host. Implementations wrap the
// actual client (a Discord session in production, a file-backed host in tests
// and local runs); the host is weakly consistent and any call may fail or be
// rate limited.
type ThreadOps interface {
	// ResolveContainer resolves the forum container by name or ID.
	// It returns (nil, nil) when no such container exists.
	ResolveContainer(ctx context.Context, nameOrID string) (*Container, error)

	// CreateThread creates a thread for the task with the canonical name and
	// tags, optionally mentioning a user in the starter message, and returns
	// the new thread ID.
	CreateThread(ctx context.Context, c *Container, task model.Task, tags []string, mentionUser string) (string, error)

	// FindThreadForTask searches active threads plus at most archivedLimit
	// archived threads for one whose name embeds the short ID. It returns ""
	// when none matches.
	FindThreadForTask(ctx context.Context, c *Container, shortID string, archivedLimit int) (string, error)

	IsArchived(ctx context.Context, threadID string) (bool, error)
	EnsureUnarchived(ctx context.Context, threadID string) error
	Archive(ctx context.Context, threadID string) error

	// UpdateName, UpdateStarterMessage, and UpdateTags apply the given state
	// and report whether anything actually changed.
	UpdateName(ctx context.Context, threadID, name string) (bool, error)
	UpdateStarterMessage(ctx context.Context, threadID string, task model.Task) (bool, error)
	UpdateTags(ctx context.Context, threadID string, tags []string) (bool, error)

	ThreadName(ctx context.Context, threadID string) (string, error)
	AppliedTags(ctx context.Context, threadID string) ([]string, error)
	PostMessage(ctx context.Context, threadID, content string) error

	ActiveThreads(ctx context.Context, c *Container) (map[string]ThreadInfo, error)
	ArchivedThreads(ctx context.Context, c *Container) (map[string]ThreadInfo, error)
}

// InFlightChecker reports whether a live reply is currently being composed or
// sent on a thread. The engine defers closes on such threads.
type InFlightChecker interface {
	HasInFlight(threadID string) bool
}

// NoInFlight is an InFlightChecker that never reports activity.
type NoInFlight struct{}

func (NoInFlight) HasInFlight(string) bool { return false }

// StatusPoster receives the result of a completed sync run.
type StatusPoster interface {
	OnSyncComplete(ctx context.Context, result *model.SyncResult) error
}
