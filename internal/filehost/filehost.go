// Package filehost implements engine.ThreadOps on top of a local YAML file.
// It stands in for the real thread host in local runs and integration tests;
// production deployments wire a client-backed implementation instead.
package filehost

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"sync"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/DiscoClaw/discoclaw/internal/engine"
	"github.com/DiscoClaw/discoclaw/internal/model"
	"github.com/DiscoClaw/discoclaw/internal/threadname"
	"github.com/DiscoClaw/discoclaw/internal/yamlutil"
)

type threadRecord struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Archived bool     `yaml:"archived"`
	Tags     []string `yaml:"tags,omitempty"`
	Starter  string   `yaml:"starter,omitempty"`
	Messages []string `yaml:"messages,omitempty"`
}

type hostFile struct {
	Version   int            `yaml:"version"`
	Container string         `yaml:"container"`
	NextID    int64          `yaml:"next_id"`
	Threads   []threadRecord `yaml:"threads"`
}

// Host is a file-backed thread host. Every operation re-reads the file and
// writes it back atomically, so external edits between calls are honored.
type Host struct {
	path      string
	container string
	mu        sync.Mutex
}

// New creates a host persisting to path, serving the named container.
func New(path, container string) *Host {
	return &Host{path: path, container: container}
}

func (h *Host) load() (hostFile, error) {
	var f hostFile
	data, err := os.ReadFile(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return hostFile{Version: 1, Container: h.container, NextID: 1000}, nil
		}
		return f, fmt.Errorf("read thread host file: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse thread host file: %w", err)
	}
	if f.NextID == 0 {
		f.NextID = 1000
	}
	return f, nil
}

func (h *Host) save(f hostFile) error {
	return yamlutil.AtomicWrite(h.path, f)
}

func (h *Host) ResolveContainer(ctx context.Context, nameOrID string) (*engine.Container, error) {
	if nameOrID == "" || nameOrID != h.container {
		return nil, nil
	}
	return &engine.Container{ID: "filehost", Name: h.container}, nil
}

func (h *Host) CreateThread(ctx context.Context, c *engine.Container, task model.Task, tags []string, mentionUser string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := h.load()
	if err != nil {
		return "", err
	}

	starter := task.Description
	if mentionUser != "" {
		starter = fmt.Sprintf("<@%s> %s", mentionUser, starter)
	}

	id := strconv.FormatInt(f.NextID, 10)
	f.NextID++
	f.Threads = append(f.Threads, threadRecord{
		ID:      id,
		Name:    threadname.Encode(task),
		Tags:    append([]string(nil), tags...),
		Starter: starter,
	})
	if err := h.save(f); err != nil {
		return "", err
	}
	return id, nil
}

func (h *Host) FindThreadForTask(ctx context.Context, c *engine.Container, shortID string, archivedLimit int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := h.load()
	if err != nil {
		return "", err
	}

	for _, t := range f.Threads {
		if !t.Archived && threadname.DecodeShortID(t.Name) == shortID {
			return t.ID, nil
		}
	}
	searched := 0
	for _, t := range f.Threads {
		if !t.Archived {
			continue
		}
		if searched >= archivedLimit {
			break
		}
		searched++
		if threadname.DecodeShortID(t.Name) == shortID {
			return t.ID, nil
		}
	}
	return "", nil
}

func (h *Host) IsArchived(ctx context.Context, threadID string) (bool, error) {
	t, _, err := h.find(threadID)
	if err != nil {
		return false, err
	}
	return t.Archived, nil
}

func (h *Host) EnsureUnarchived(ctx context.Context, threadID string) error {
	return h.setArchived(threadID, false)
}

func (h *Host) Archive(ctx context.Context, threadID string) error {
	return h.setArchived(threadID, true)
}

func (h *Host) UpdateName(ctx context.Context, threadID, name string) (bool, error) {
	return h.update(threadID, func(t *threadRecord) bool {
		if t.Name == name {
			return false
		}
		t.Name = name
		return true
	})
}

func (h *Host) UpdateStarterMessage(ctx context.Context, threadID string, task model.Task) (bool, error) {
	return h.update(threadID, func(t *threadRecord) bool {
		if t.Starter == task.Description {
			return false
		}
		t.Starter = task.Description
		return true
	})
}

func (h *Host) UpdateTags(ctx context.Context, threadID string, tags []string) (bool, error) {
	want := append([]string(nil), tags...)
	sort.Strings(want)
	return h.update(threadID, func(t *threadRecord) bool {
		have := append([]string(nil), t.Tags...)
		sort.Strings(have)
		if equalStrings(have, want) {
			return false
		}
		t.Tags = want
		return true
	})
}

func (h *Host) ThreadName(ctx context.Context, threadID string) (string, error) {
	t, _, err := h.find(threadID)
	if err != nil {
		return "", err
	}
	return t.Name, nil
}

func (h *Host) AppliedTags(ctx context.Context, threadID string) ([]string, error) {
	t, _, err := h.find(threadID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.Tags...), nil
}

func (h *Host) PostMessage(ctx context.Context, threadID, content string) error {
	_, err := h.update(threadID, func(t *threadRecord) bool {
		t.Messages = append(t.Messages, content)
		return true
	})
	return err
}

func (h *Host) ActiveThreads(ctx context.Context, c *engine.Container) (map[string]engine.ThreadInfo, error) {
	return h.listing(false)
}

func (h *Host) ArchivedThreads(ctx context.Context, c *engine.Container) (map[string]engine.ThreadInfo, error) {
	return h.listing(true)
}

func (h *Host) listing(archived bool) (map[string]engine.ThreadInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := h.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]engine.ThreadInfo)
	for _, t := range f.Threads {
		if t.Archived == archived {
			out[t.ID] = engine.ThreadInfo{ID: t.ID, Name: t.Name, Archived: t.Archived}
		}
	}
	return out, nil
}

func (h *Host) find(threadID string) (threadRecord, hostFile, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := h.load()
	if err != nil {
		return threadRecord{}, f, err
	}
	for _, t := range f.Threads {
		if t.ID == threadID {
			return t, f, nil
		}
	}
	return threadRecord{}, f, fmt.Errorf("thread %s not found", threadID)
}

func (h *Host) setArchived(threadID string, archived bool) error {
	_, err := h.update(threadID, func(t *threadRecord) bool {
		if t.Archived == archived {
			return false
		}
		t.Archived = archived
		return true
	})
	return err
}

func (h *Host) update(threadID string, fn func(*threadRecord) bool) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := h.load()
	if err != nil {
		return false, err
	}
	for i := range f.Threads {
		if f.Threads[i].ID == threadID {
			if !fn(&f.Threads[i]) {
				return false, nil
			}
			return true, h.save(f)
		}
	}
	return false, fmt.Errorf("thread %s not found", threadID)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
