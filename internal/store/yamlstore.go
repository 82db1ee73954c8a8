package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/DiscoClaw/discoclaw/internal/events"
	"github.com/DiscoClaw/discoclaw/internal/model"
	"github.com/DiscoClaw/discoclaw/internal/yamlutil"
)

// taskFile is the on-disk form of the task store.
type taskFile struct {
	Version int          `yaml:"version"`
	Tasks   []model.Task `yaml:"tasks"`
}

// YAMLStore is a file-backed TaskStore. Every call re-reads the file, since
// external editors are expected to write it between syncs; writes are atomic.
type YAMLStore struct {
	path string
	bus  *events.Bus
}

// NewYAMLStore creates a store over path. bus may be nil.
func NewYAMLStore(path string, bus *events.Bus) *YAMLStore {
	return &YAMLStore{path: path, bus: bus}
}

func (s *YAMLStore) load() (taskFile, error) {
	var f taskFile
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return taskFile{Version: 1}, nil
		}
		return f, fmt.Errorf("read task store: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse task store: %w", err)
	}
	return f, nil
}

func (s *YAMLStore) List(ctx context.Context) ([]model.Task, error) {
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	tasks := append([]model.Task(nil), f.Tasks...)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

func (s *YAMLStore) Get(ctx context.Context, id string) (model.Task, bool, error) {
	f, err := s.load()
	if err != nil {
		return model.Task{}, false, err
	}
	for _, t := range f.Tasks {
		if t.ID == id {
			return t, true, nil
		}
	}
	return model.Task{}, false, nil
}

func (s *YAMLStore) Update(ctx context.Context, id string, fields UpdateFields, origin model.Origin) (model.Task, error) {
	f, err := s.load()
	if err != nil {
		return model.Task{}, err
	}

	idx := -1
	for i := range f.Tasks {
		if f.Tasks[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.Task{}, fmt.Errorf("task %s not found", id)
	}

	t := &f.Tasks[idx]
	if fields.Status != nil {
		t.Status = *fields.Status
	}
	if fields.ExternalRef != nil {
		t.ExternalRef = *fields.ExternalRef
	}
	t.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	if err := yamlutil.AtomicWrite(s.path, f); err != nil {
		return model.Task{}, fmt.Errorf("write task store: %w", err)
	}

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:   events.EventTaskUpdated,
			TaskID: id,
			Origin: origin,
		})
	}
	return *t, nil
}

// Put inserts or replaces a task record. Used by scaffolding and tests;
// the sync engine itself never creates tasks.
func (s *YAMLStore) Put(task model.Task) error {
	f, err := s.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range f.Tasks {
		if f.Tasks[i].ID == task.ID {
			f.Tasks[i] = task
			replaced = true
			break
		}
	}
	if !replaced {
		f.Tasks = append(f.Tasks, task)
	}
	if f.Version == 0 {
		f.Version = 1
	}
	return yamlutil.AtomicWrite(s.path, f)
}
