// Package store provides access to the task record store.
package store

import (
	"context"

	"github.com/DiscoClaw/discoclaw/internal/model"
)

// UpdateFields names the task fields the sync engine is allowed to write.
// Nil fields are left untouched.
type UpdateFields struct {
	Status      *model.Status
	ExternalRef *string
}

// TaskStore is the engine's view of the task record store. Every mutation
// carries an explicit Origin so change subscribers can tell engine-driven
// writes from external ones.
type TaskStore interface {
	List(ctx context.Context) ([]model.Task, error)
	Get(ctx context.Context, id string) (model.Task, bool, error)
	Update(ctx context.Context, id string, fields UpdateFields, origin model.Origin) (model.Task, error)
}
