package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DiscoClaw/discoclaw/internal/events"
	"github.com/DiscoClaw/discoclaw/internal/model"
)

func newTestYAMLStore(t *testing.T, bus *events.Bus) *YAMLStore {
	t.Helper()
	return NewYAMLStore(filepath.Join(t.TempDir(), "tasks.yaml"), bus)
}

func TestYAMLStoreMissingFileIsEmpty(t *testing.T) {
	s := newTestYAMLStore(t, nil)
	tasks, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("tasks = %v, want empty", tasks)
	}
	if _, ok, err := s.Get(context.Background(), "ws-001"); err != nil || ok {
		t.Fatalf("Get on empty store: ok=%v err=%v", ok, err)
	}
}

func TestYAMLStorePutGetList(t *testing.T) {
	s := newTestYAMLStore(t, nil)
	for _, task := range []model.Task{
		{ID: "ws-002", Title: "Beta", Status: model.StatusOpen},
		{ID: "ws-001", Title: "Alpha", Status: model.StatusClosed, Labels: []string{"bug"}},
	} {
		if err := s.Put(task); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	tasks, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "ws-001" || tasks[1].ID != "ws-002" {
		t.Fatalf("List order wrong: %v", tasks)
	}

	got, ok, err := s.Get(context.Background(), "ws-001")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Title != "Alpha" || len(got.Labels) != 1 {
		t.Fatalf("Get = %+v", got)
	}
}

func TestYAMLStoreUpdate(t *testing.T) {
	s := newTestYAMLStore(t, nil)
	if err := s.Put(model.Task{ID: "ws-001", Title: "Alpha", Status: model.StatusOpen}); err != nil {
		t.Fatal(err)
	}

	blocked := model.StatusBlocked
	ref := model.ThreadRef("42")
	updated, err := s.Update(context.Background(), "ws-001", UpdateFields{Status: &blocked, ExternalRef: &ref}, model.OriginSyncEngine)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != model.StatusBlocked || updated.ThreadID() != "42" {
		t.Fatalf("Update returned %+v", updated)
	}
	if updated.UpdatedAt == "" {
		t.Fatal("UpdatedAt not stamped")
	}

	// The write survives a fresh read of the file.
	reread, ok, err := s.Get(context.Background(), "ws-001")
	if err != nil || !ok {
		t.Fatalf("Get after Update: ok=%v err=%v", ok, err)
	}
	if reread.Status != model.StatusBlocked || reread.ThreadID() != "42" {
		t.Fatalf("persisted task = %+v", reread)
	}
	if reread.Title != "Alpha" {
		t.Fatal("fields outside UpdateFields were touched")
	}
}

func TestYAMLStoreUpdateUnknownTask(t *testing.T) {
	s := newTestYAMLStore(t, nil)
	blocked := model.StatusBlocked
	if _, err := s.Update(context.Background(), "ws-404", UpdateFields{Status: &blocked}, model.OriginExternal); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestYAMLStoreUpdatePublishesOrigin(t *testing.T) {
	bus := events.NewBus(10)
	defer bus.Close()

	got := make(chan events.Event, 1)
	unsubscribe := bus.Subscribe(events.EventTaskUpdated, func(e events.Event) {
		got <- e
	})
	defer unsubscribe()

	s := newTestYAMLStore(t, bus)
	if err := s.Put(model.Task{ID: "ws-001", Status: model.StatusOpen}); err != nil {
		t.Fatal(err)
	}
	ref := model.ThreadRef("7")
	if _, err := s.Update(context.Background(), "ws-001", UpdateFields{ExternalRef: &ref}, model.OriginSyncEngine); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-got:
		if e.TaskID != "ws-001" || e.Origin != model.OriginSyncEngine {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

func TestYAMLStoreExternalEditsVisible(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	s := NewYAMLStore(path, nil)
	if err := s.Put(model.Task{ID: "ws-001", Title: "Alpha", Status: model.StatusOpen}); err != nil {
		t.Fatal(err)
	}

	// Another process rewrites the file between calls.
	body := []byte("version: 1\ntasks:\n  - id: ws-001\n    title: Alpha renamed\n    status: closed\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Get(context.Background(), "ws-001")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Title != "Alpha renamed" || got.Status != model.StatusClosed {
		t.Fatalf("external edit not picked up: %+v", got)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	s := NewMemoryStore(nil)
	s.Put(model.Task{ID: "ws-001", Status: model.StatusOpen})

	ref := model.ThreadRef("9")
	if _, err := s.Update(context.Background(), "ws-001", UpdateFields{ExternalRef: &ref}, model.OriginExternal); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, ok, _ := s.Get(context.Background(), "ws-001")
	if !ok || got.ThreadID() != "9" {
		t.Fatalf("task = %+v ok=%v", got, ok)
	}

	if _, err := s.Update(context.Background(), "ws-404", UpdateFields{ExternalRef: &ref}, model.OriginExternal); err == nil {
		t.Fatal("expected error for unknown task")
	}
}
