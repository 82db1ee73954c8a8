// Package coordinator wraps the sync engine with single-flight coalescing,
// tag-map hot reload, failure retry, and deferred-close retry.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/DiscoClaw/discoclaw/internal/directory"
	"github.com/DiscoClaw/discoclaw/internal/engine"
	"github.com/DiscoClaw/discoclaw/internal/logging"
	"github.com/DiscoClaw/discoclaw/internal/model"
	"github.com/DiscoClaw/discoclaw/internal/tagmap"
)

// ErrClosed is returned by Sync after Close.
var ErrClosed = errors.New("coordinator closed")

// Coordinator serializes sync runs. While a run is active, at most one
// additional request is remembered as a pending follow-up; further requests
// are dropped. Failed runs schedule exactly one retry; successful runs that
// deferred closes schedule one deferred-close retry. Both timers are owned
// here and cancelled on Close, so shutdown is deterministic.
type Coordinator struct {
	engine   *engine.Engine
	tags     *tagmap.Reloader
	cache    *directory.Cache
	cfg      model.Config
	logger   *log.Logger
	logLevel logging.Level

	mu            sync.Mutex
	running       bool
	pending       bool
	pendingPoster engine.StatusPoster
	retryTimer    *time.Timer
	deferredTimer *time.Timer
	errCounts     map[string]int
	closed        bool

	wg sync.WaitGroup
}

// New creates a Coordinator. cache may be nil when no listing cache is wired.
func New(
	eng *engine.Engine,
	tags *tagmap.Reloader,
	cache *directory.Cache,
	cfg model.Config,
	logger *log.Logger,
	logLevel logging.Level,
) *Coordinator {
	return &Coordinator{
		engine:    eng,
		tags:      tags,
		cache:     cache,
		cfg:       cfg,
		logger:    logger,
		logLevel:  logLevel,
		errCounts: make(map[string]int),
	}
}

// Sync runs one full phase sequence, or coalesces into the in-flight run.
// It returns (nil, nil) when coalesced: the follow-up run, if this call won
// the pending slot, will report to this caller's poster instead.
func (c *Coordinator) Sync(ctx context.Context, poster engine.StatusPoster) (*model.SyncResult, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.running {
		if !c.pending {
			c.pending = true
			c.pendingPoster = poster
			c.log(logging.LevelDebug, "sync requested while running, follow-up queued")
		} else {
			c.log(logging.LevelDebug, "sync requested while running, follow-up already queued, dropped")
		}
		c.mu.Unlock()
		return nil, nil
	}
	c.running = true
	c.mu.Unlock()

	return c.run(ctx, poster)
}

// run executes one sync under the running slot and then hands the slot to the
// pending follow-up, if any.
func (c *Coordinator) run(ctx context.Context, poster engine.StatusPoster) (*model.SyncResult, error) {
	if err := c.tags.Reload(); err != nil {
		// Soft dependency: keep the previous map and proceed.
		c.log(logging.LevelWarn, "tag map reload failed, keeping previous map: %v", err)
	}

	res, err := c.engine.Sync(ctx)
	if err != nil {
		class := Classify(err)
		c.mu.Lock()
		c.errCounts[class]++
		c.mu.Unlock()
		c.log(logging.LevelError, "sync run failed class=%s error=%v", class, err)
		c.scheduleRetry()
		c.finishRun()
		return nil, err
	}

	if c.cache != nil {
		c.cache.Invalidate()
	}
	if res.ClosesDeferred > 0 {
		c.scheduleDeferredRetry(res.ClosesDeferred)
	}
	if poster != nil {
		if perr := poster.OnSyncComplete(ctx, res); perr != nil {
			c.log(logging.LevelWarn, "status poster error=%v", perr)
		}
	}

	c.finishRun()
	return res, nil
}

// finishRun releases the running slot, or keeps it and starts the pending
// follow-up carrying its caller's poster.
func (c *Coordinator) finishRun() {
	c.mu.Lock()
	if c.pending && !c.closed {
		c.pending = false
		poster := c.pendingPoster
		c.pendingPoster = nil
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			// The coalesced caller has already returned; errors here are
			// logged by run and scheduled for retry.
			_, _ = c.run(context.Background(), poster)
		}()
		c.mu.Unlock()
		return
	}
	c.pending = false
	c.pendingPoster = nil
	c.running = false
	c.mu.Unlock()
}

// scheduleRetry schedules exactly one retry after a failed run. An already
// pending retry is not duplicated.
func (c *Coordinator) scheduleRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.retryTimer != nil {
		return
	}
	delay := time.Duration(c.cfg.Sync.RetryDelaySec) * time.Second
	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.retryTimer = nil
		c.mu.Unlock()
		if _, err := c.Sync(context.Background(), nil); err != nil && !errors.Is(err, ErrClosed) {
			// Nobody is awaiting the retry; the failure is terminal for
			// this attempt.
			c.log(logging.LevelError, "retry sync failed: %v", err)
		}
	})
	c.log(logging.LevelInfo, "sync retry scheduled in %s", delay)
}

// scheduleDeferredRetry schedules one follow-up specifically to catch closes
// that were blocked by the in-flight guard. Coalesced like the failure retry
// but on a distinct timer.
func (c *Coordinator) scheduleDeferredRetry(deferred int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.deferredTimer != nil {
		return
	}
	delay := time.Duration(c.cfg.Sync.DeferredCloseDelaySec) * time.Second
	c.deferredTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.deferredTimer = nil
		c.mu.Unlock()
		if _, err := c.Sync(context.Background(), nil); err != nil && !errors.Is(err, ErrClosed) {
			c.log(logging.LevelError, "deferred-close retry failed: %v", err)
		}
	})
	c.log(logging.LevelInfo, "deferred-close retry scheduled in %s (%d deferred)", delay, deferred)
}

// ErrorCounts returns a copy of the per-class failure counters.
func (c *Coordinator) ErrorCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.errCounts))
	for k, v := range c.errCounts {
		out[k] = v
	}
	return out
}

// Running reports whether a run is currently active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Close cancels scheduled retries, rejects further Sync calls, and waits for
// any follow-up run to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.deferredTimer != nil {
		c.deferredTimer.Stop()
		c.deferredTimer = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) log(level logging.Level, format string, args ...any) {
	if level < c.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	c.logger.Printf("%s %s coordinator: %s", time.Now().Format(time.RFC3339), level, msg)
}
