package coordinator

import (
	"bytes"
	"context"
	"errors"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DiscoClaw/discoclaw/internal/directory"
	"github.com/DiscoClaw/discoclaw/internal/engine"
	"github.com/DiscoClaw/discoclaw/internal/filehost"
	"github.com/DiscoClaw/discoclaw/internal/lock"
	"github.com/DiscoClaw/discoclaw/internal/logging"
	"github.com/DiscoClaw/discoclaw/internal/model"
	"github.com/DiscoClaw/discoclaw/internal/store"
	"github.com/DiscoClaw/discoclaw/internal/tagmap"
)

// gateHost wraps a real host and lets tests block or fail container
// resolution, which is the first call of every sync run.
type gateHost struct {
	engine.ThreadOps

	mu           sync.Mutex
	gate         chan struct{}
	resolveErr   error
	resolveCalls int
}

func (g *gateHost) ResolveContainer(ctx context.Context, nameOrID string) (*engine.Container, error) {
	g.mu.Lock()
	g.resolveCalls++
	gate := g.gate
	err := g.resolveErr
	g.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return g.ThreadOps.ResolveContainer(ctx, nameOrID)
}

func (g *gateHost) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolveCalls
}

func (g *gateHost) setErr(err error) {
	g.mu.Lock()
	g.resolveErr = err
	g.mu.Unlock()
}

// recordingPoster collects the results it is handed.
type recordingPoster struct {
	mu      sync.Mutex
	results []*model.SyncResult
}

func (p *recordingPoster) OnSyncComplete(ctx context.Context, res *model.SyncResult) error {
	p.mu.Lock()
	p.results = append(p.results, res)
	p.mu.Unlock()
	return nil
}

func (p *recordingPoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}

type toggleInFlight struct {
	mu     sync.Mutex
	active bool
}

func (f *toggleInFlight) HasInFlight(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *toggleInFlight) set(active bool) {
	f.mu.Lock()
	f.active = active
	f.mu.Unlock()
}

type fixture struct {
	coord    *Coordinator
	host     *gateHost
	store    *store.MemoryStore
	cache    *directory.Cache
	inflight *toggleInFlight
}

func newFixture(t *testing.T, tasks ...model.Task) *fixture {
	t.Helper()

	host := &gateHost{
		ThreadOps: filehost.New(filepath.Join(t.TempDir(), "threads.yaml"), "forum"),
	}
	st := store.NewMemoryStore(nil)
	for _, task := range tasks {
		st.Put(task)
	}

	cfg := model.Config{
		Forum: model.ForumConfig{Container: "forum"},
		Sync: model.SyncConfig{
			ArchivedSearchLimit:   10,
			RetryDelaySec:         1,
			DeferredCloseDelaySec: 1,
		},
	}
	logger := log.New(&bytes.Buffer{}, "", 0)
	tags := tagmap.NewReloader(filepath.Join(t.TempDir(), "tags.yaml"), "", tagmap.Map{})
	inflight := &toggleInFlight{}
	eng := engine.New(st, host, inflight, lock.NewRegistry(), tags, cfg, logger, logging.LevelError)
	cache := directory.NewCache(host, "forum")
	coord := New(eng, tags, cache, cfg, logger, logging.LevelError)
	t.Cleanup(coord.Close)

	return &fixture{coord: coord, host: host, store: st, cache: cache, inflight: inflight}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestSyncRunsAndReports(t *testing.T) {
	fx := newFixture(t, model.Task{ID: "ws-001", Title: "Alpha", Status: model.StatusOpen})
	poster := &recordingPoster{}

	res, err := fx.coord.Sync(context.Background(), poster)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.ThreadsCreated)
	assert.Equal(t, 1, poster.count())
	assert.False(t, fx.coord.Running())
}

func TestSyncCoalescesConcurrentRequests(t *testing.T) {
	fx := newFixture(t)
	gate := make(chan struct{})
	fx.host.gate = gate

	posterA := &recordingPoster{}
	posterB := &recordingPoster{}
	posterC := &recordingPoster{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := fx.coord.Sync(context.Background(), posterA)
		assert.NoError(t, err)
		assert.NotNil(t, res)
	}()
	waitFor(t, 2*time.Second, fx.coord.Running)

	// Second request wins the single pending slot; the third is dropped.
	res, err := fx.coord.Sync(context.Background(), posterB)
	require.NoError(t, err)
	assert.Nil(t, res)
	res, err = fx.coord.Sync(context.Background(), posterC)
	require.NoError(t, err)
	assert.Nil(t, res)

	close(gate)
	<-done
	waitFor(t, 2*time.Second, func() bool { return posterB.count() == 1 })

	waitFor(t, 2*time.Second, func() bool { return !fx.coord.Running() })
	assert.Equal(t, 1, posterA.count())
	assert.Equal(t, 0, posterC.count(), "dropped request must not be reported")
	assert.Equal(t, 2, fx.host.calls(), "exactly one follow-up run")
}

func TestSyncFailureCountsAndRetries(t *testing.T) {
	fx := newFixture(t)
	fx.host.setErr(errors.New("socket timeout"))

	res, err := fx.coord.Sync(context.Background(), nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 1, fx.coord.ErrorCounts()[ErrClassOther])

	// The scheduled retry fires after the delay and succeeds.
	fx.host.setErr(nil)
	waitFor(t, 3*time.Second, func() bool { return fx.host.calls() >= 2 })
	assert.Equal(t, 1, fx.coord.ErrorCounts()[ErrClassOther])
}

func TestSyncClassifiesPermissionFailure(t *testing.T) {
	fx := newFixture(t)
	fx.host.setErr(errors.New("Missing Access"))

	_, err := fx.coord.Sync(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 1, fx.coord.ErrorCounts()[ErrClassPermission])
	assert.Equal(t, 0, fx.coord.ErrorCounts()[ErrClassOther])
}

func TestDeferredCloseRetriesAfterDelay(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, model.Task{ID: "ws-001", Title: "Alpha", Status: model.StatusClosed})
	fx.inflight.set(true)

	// Seed a live thread for the closed task.
	c, err := fx.host.ThreadOps.ResolveContainer(ctx, "forum")
	require.NoError(t, err)
	threadID, err := fx.host.ThreadOps.CreateThread(ctx, c, model.Task{ID: "ws-001", Title: "Alpha", Status: model.StatusOpen}, nil, "")
	require.NoError(t, err)
	fx.store.Put(model.Task{ID: "ws-001", Title: "Alpha", Status: model.StatusClosed, ExternalRef: model.ThreadRef(threadID)})

	res, err := fx.coord.Sync(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ClosesDeferred)
	archived, err := fx.host.ThreadOps.IsArchived(ctx, threadID)
	require.NoError(t, err)
	assert.False(t, archived)

	// Once the reply lands, the deferred-close retry archives without any
	// further external trigger.
	fx.inflight.set(false)
	waitFor(t, 3*time.Second, func() bool {
		archived, err := fx.host.ThreadOps.IsArchived(ctx, threadID)
		return err == nil && archived
	})
}

func TestSuccessfulRunInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	// Prime the cache on an empty forum.
	listing, err := fx.cache.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, listing)

	// A thread appears behind the cache's back.
	c, err := fx.host.ThreadOps.ResolveContainer(ctx, "forum")
	require.NoError(t, err)
	_, err = fx.host.ThreadOps.CreateThread(ctx, c, model.Task{ID: "ws-009", Title: "Niner", Status: model.StatusOpen}, nil, "")
	require.NoError(t, err)

	listing, err = fx.cache.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, listing, "cache must serve the memoized listing")

	_, err = fx.coord.Sync(ctx, nil)
	require.NoError(t, err)

	listing, err = fx.cache.Active(ctx)
	require.NoError(t, err)
	assert.Len(t, listing, 1, "successful run must invalidate the cache")
}

func TestCloseRejectsFurtherSyncs(t *testing.T) {
	fx := newFixture(t)
	fx.coord.Close()

	res, err := fx.coord.Sync(context.Background(), nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseCancelsScheduledRetry(t *testing.T) {
	fx := newFixture(t)
	fx.host.setErr(errors.New("socket timeout"))

	_, err := fx.coord.Sync(context.Background(), nil)
	require.Error(t, err)
	require.Equal(t, 1, fx.host.calls())

	fx.coord.Close()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, 1, fx.host.calls(), "retry must not fire after Close")
}
