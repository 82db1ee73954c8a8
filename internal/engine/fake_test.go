package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/DiscoClaw/discoclaw/internal/model"
	"github.com/DiscoClaw/discoclaw/internal/threadname"
)

// fakeThread mirrors what the host tracks per thread.
type fakeThread struct {
	id       string
	name     string
	archived bool
	tags     []string
	starter  string
	messages []string
}

// fakeHost is an in-memory ThreadOps with per-operation error injection and
// call counting.
type fakeHost struct {
	mu        sync.Mutex
	container string
	threads   map[string]*fakeThread
	nextID    int

	resolveErr  error
	findErr     error
	createErr   error
	activeErr   error
	archivedErr error

	resolveCalls int
	findCalls    int
	createCalls  int
	archiveCalls int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		container: "forum",
		threads:   make(map[string]*fakeThread),
		nextID:    100,
	}
}

func (h *fakeHost) addThread(id, name string, archived bool, tags ...string) *fakeThread {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := &fakeThread{id: id, name: name, archived: archived, tags: tags}
	h.threads[id] = t
	return t
}

func (h *fakeHost) get(id string) (*fakeThread, error) {
	t, ok := h.threads[id]
	if !ok {
		return nil, fmt.Errorf("thread %s not found", id)
	}
	return t, nil
}

func (h *fakeHost) ResolveContainer(ctx context.Context, nameOrID string) (*Container, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resolveCalls++
	if h.resolveErr != nil {
		return nil, h.resolveErr
	}
	if nameOrID != h.container {
		return nil, nil
	}
	return &Container{ID: "c1", Name: h.container}, nil
}

func (h *fakeHost) CreateThread(ctx context.Context, c *Container, task model.Task, tags []string, mentionUser string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.createCalls++
	if h.createErr != nil {
		return "", h.createErr
	}
	id := strconv.Itoa(h.nextID)
	h.nextID++
	h.threads[id] = &fakeThread{
		id:      id,
		name:    threadname.Encode(task),
		tags:    append([]string(nil), tags...),
		starter: task.Description,
	}
	return id, nil
}

func (h *fakeHost) FindThreadForTask(ctx context.Context, c *Container, shortID string, archivedLimit int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.findCalls++
	if h.findErr != nil {
		return "", h.findErr
	}
	for _, t := range h.threads {
		if !t.archived && threadname.DecodeShortID(t.name) == shortID {
			return t.id, nil
		}
	}
	searched := 0
	for _, t := range h.threads {
		if !t.archived || searched >= archivedLimit {
			continue
		}
		searched++
		if threadname.DecodeShortID(t.name) == shortID {
			return t.id, nil
		}
	}
	return "", nil
}

func (h *fakeHost) IsArchived(ctx context.Context, threadID string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.get(threadID)
	if err != nil {
		return false, err
	}
	return t.archived, nil
}

func (h *fakeHost) EnsureUnarchived(ctx context.Context, threadID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.get(threadID)
	if err != nil {
		return err
	}
	t.archived = false
	return nil
}

func (h *fakeHost) Archive(ctx context.Context, threadID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.archiveCalls++
	t, err := h.get(threadID)
	if err != nil {
		return err
	}
	t.archived = true
	return nil
}

func (h *fakeHost) UpdateName(ctx context.Context, threadID, name string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.get(threadID)
	if err != nil {
		return false, err
	}
	if t.name == name {
		return false, nil
	}
	t.name = name
	return true, nil
}

func (h *fakeHost) UpdateStarterMessage(ctx context.Context, threadID string, task model.Task) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.get(threadID)
	if err != nil {
		return false, err
	}
	if t.starter == task.Description {
		return false, nil
	}
	t.starter = task.Description
	return true, nil
}

func (h *fakeHost) UpdateTags(ctx context.Context, threadID string, tags []string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.get(threadID)
	if err != nil {
		return false, err
	}
	if sameStringSet(t.tags, tags) {
		return false, nil
	}
	t.tags = append([]string(nil), tags...)
	return true, nil
}

func (h *fakeHost) ThreadName(ctx context.Context, threadID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.get(threadID)
	if err != nil {
		return "", err
	}
	return t.name, nil
}

func (h *fakeHost) AppliedTags(ctx context.Context, threadID string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.get(threadID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.tags...), nil
}

func (h *fakeHost) PostMessage(ctx context.Context, threadID, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.get(threadID)
	if err != nil {
		return err
	}
	t.messages = append(t.messages, content)
	return nil
}

func (h *fakeHost) ActiveThreads(ctx context.Context, c *Container) (map[string]ThreadInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeErr != nil {
		return nil, h.activeErr
	}
	return h.listing(false), nil
}

func (h *fakeHost) ArchivedThreads(ctx context.Context, c *Container) (map[string]ThreadInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.archivedErr != nil {
		return nil, h.archivedErr
	}
	return h.listing(true), nil
}

func (h *fakeHost) listing(archived bool) map[string]ThreadInfo {
	out := make(map[string]ThreadInfo)
	for id, t := range h.threads {
		if t.archived == archived {
			out[id] = ThreadInfo{ID: id, Name: t.name, Archived: t.archived}
		}
	}
	return out
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
		if seen[s] < 0 {
			return false
		}
	}
	return true
}

// fakeInFlight reports in-flight replies for a fixed set of thread IDs.
type fakeInFlight struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newFakeInFlight(ids ...string) *fakeInFlight {
	f := &fakeInFlight{ids: make(map[string]bool)}
	for _, id := range ids {
		f.ids[id] = true
	}
	return f
}

func (f *fakeInFlight) HasInFlight(threadID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[threadID]
}

func (f *fakeInFlight) clear(threadID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ids, threadID)
}
