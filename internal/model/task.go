// Package model defines the data structures for DiscoClaw's tasks,
// configuration, and sync results.
package model

import (
	"regexp"
	"strings"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
)

var validStatuses = map[Status]bool{
	StatusOpen:       true,
	StatusInProgress: true,
	StatusBlocked:    true,
	StatusClosed:     true,
}

func (s Status) Valid() bool {
	return validStatuses[s]
}

// NoThreadLabel opts a task out of thread creation entirely.
const NoThreadLabel = "no-thread"

// Origin tags a store mutation with who caused it, so change subscribers can
// tell engine-driven writes from external ones and avoid re-trigger loops.
type Origin string

const (
	OriginExternal   Origin = "external"
	OriginSyncEngine Origin = "sync_engine"
)

// Task is the internal record of a unit of work. The sync engine reads all
// fields but only ever writes back Status and ExternalRef.
type Task struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description,omitempty"`
	Status      Status   `yaml:"status"`
	Labels      []string `yaml:"labels,omitempty"`
	ExternalRef string   `yaml:"external_ref,omitempty"`
	Priority    int      `yaml:"priority,omitempty"`
	Owner       string   `yaml:"owner,omitempty"`
	CreatedAt   string   `yaml:"created_at,omitempty"`
	UpdatedAt   string   `yaml:"updated_at,omitempty"`
}

var (
	taskIDRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*-([0-9]+)$`)
	numericRef  = regexp.MustCompile(`^[0-9]+$`)
)

// ShortID returns the numeric suffix of the task ID ("ws-001" → "001"),
// or "" when the ID does not follow the prefix-number form. The short ID is
// what thread names embed, so it is the reverse-lookup key in Phase 5.
func (t Task) ShortID() string {
	m := taskIDRegex.FindStringSubmatch(t.ID)
	if m == nil {
		return ""
	}
	return m[1]
}

func (t Task) HasLabel(name string) bool {
	for _, l := range t.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// ThreadID resolves ExternalRef to a thread ID. Accepted forms are
// "discord:<id>" and a bare numeric ID; anything else (including empty)
// resolves to "".
func (t Task) ThreadID() string {
	ref := strings.TrimSpace(t.ExternalRef)
	if ref == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(ref, "discord:"); ok {
		if numericRef.MatchString(rest) {
			return rest
		}
		return ""
	}
	if numericRef.MatchString(ref) {
		return ref
	}
	return ""
}

func (t Task) IsClosed() bool {
	return t.Status == StatusClosed
}

// ThreadRef formats a thread ID as the canonical ExternalRef value.
func ThreadRef(threadID string) string {
	return "discord:" + threadID
}
