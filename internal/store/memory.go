package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DiscoClaw/discoclaw/internal/events"
	"github.com/DiscoClaw/discoclaw/internal/model"
)

// MemoryStore is an in-process TaskStore for tests and embedding callers.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]model.Task
	bus   *events.Bus
}

// NewMemoryStore creates an empty in-memory store. bus may be nil.
func NewMemoryStore(bus *events.Bus) *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]model.Task),
		bus:   bus,
	}
}

func (s *MemoryStore) List(ctx context.Context) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := make([]model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (model.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fields UpdateFields, origin model.Origin) (model.Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return model.Task{}, fmt.Errorf("task %s not found", id)
	}
	if fields.Status != nil {
		t.Status = *fields.Status
	}
	if fields.ExternalRef != nil {
		t.ExternalRef = *fields.ExternalRef
	}
	t.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	s.tasks[id] = t
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:   events.EventTaskUpdated,
			TaskID: id,
			Origin: origin,
		})
	}
	return t, nil
}

// Put inserts or replaces a task record.
func (s *MemoryStore) Put(task model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
}
