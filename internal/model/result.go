package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncResult accumulates the counters of a single sync run. A fresh value is
// created per run; counters only ever increase within it.
type SyncResult struct {
	RunID      string `yaml:"run_id" json:"run_id"`
	StartedAt  string `yaml:"started_at" json:"started_at"`
	FinishedAt string `yaml:"finished_at,omitempty" json:"finished_at,omitempty"`

	ThreadsCreated         int `yaml:"threads_created" json:"threads_created"`
	StatusesUpdated        int `yaml:"statuses_updated" json:"statuses_updated"`
	EmojisUpdated          int `yaml:"emojis_updated" json:"emojis_updated"`
	StarterMessagesUpdated int `yaml:"starter_messages_updated" json:"starter_messages_updated"`
	TagsUpdated            int `yaml:"tags_updated" json:"tags_updated"`
	ThreadsArchived        int `yaml:"threads_archived" json:"threads_archived"`
	ThreadsReconciled      int `yaml:"threads_reconciled" json:"threads_reconciled"`
	OrphanThreadsFound     int `yaml:"orphan_threads_found" json:"orphan_threads_found"`
	ClosesDeferred         int `yaml:"closes_deferred" json:"closes_deferred"`
	Warnings               int `yaml:"warnings" json:"warnings"`
}

// NewSyncResult creates a zeroed result stamped with a short run ID.
func NewSyncResult() *SyncResult {
	return &SyncResult{
		RunID:     uuid.New().String()[:8],
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Finish stamps the completion time.
func (r *SyncResult) Finish() {
	r.FinishedAt = time.Now().UTC().Format(time.RFC3339)
}

// Mutations returns the number of external mutations the run performed.
func (r *SyncResult) Mutations() int {
	return r.ThreadsCreated +
		r.StatusesUpdated +
		r.EmojisUpdated +
		r.StarterMessagesUpdated +
		r.TagsUpdated +
		r.ThreadsArchived +
		r.ThreadsReconciled
}
