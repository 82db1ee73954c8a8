// Package daemon runs the long-lived sync process: it owns the trigger
// sources (scan ticker, store-file changes, signals) and drives the
// coordinator.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/DiscoClaw/discoclaw/internal/coordinator"
	"github.com/DiscoClaw/discoclaw/internal/directory"
	"github.com/DiscoClaw/discoclaw/internal/engine"
	"github.com/DiscoClaw/discoclaw/internal/events"
	"github.com/DiscoClaw/discoclaw/internal/filehost"
	"github.com/DiscoClaw/discoclaw/internal/lock"
	"github.com/DiscoClaw/discoclaw/internal/logging"
	"github.com/DiscoClaw/discoclaw/internal/model"
	"github.com/DiscoClaw/discoclaw/internal/notify"
	"github.com/DiscoClaw/discoclaw/internal/status"
	"github.com/DiscoClaw/discoclaw/internal/store"
	"github.com/DiscoClaw/discoclaw/internal/tagmap"
)

// Daemon is the main discoclaw sync process.
type Daemon struct {
	baseDir  string
	cfg      model.Config
	logLevel logging.Level
	logger   *log.Logger
	logFile  io.Closer

	flock   *lock.ProcessLock
	watcher *fsnotify.Watcher
	ticker  *time.Ticker

	bus   *events.Bus
	tags  *tagmap.Reloader
	coord *coordinator.Coordinator
	cache *directory.Cache
	stat  *status.Writer

	storePath string
	tagsPath  string

	// lastEngineWrite suppresses the fsnotify echo of the engine's own
	// store writes, so a sync run does not re-trigger itself.
	lastEngineWrite atomic.Int64

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

// New creates a Daemon wiring the full stack over baseDir. threads may be
// nil, in which case the file-backed host is used.
func New(baseDir string, cfg model.Config, threads engine.ThreadOps, inflight engine.InFlightChecker) (*Daemon, error) {
	logPath := filepath.Join(baseDir, "logs", "discoclaw.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}
	return newDaemon(baseDir, cfg, threads, inflight, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(baseDir string, cfg model.Config, threads engine.ThreadOps, inflight engine.InFlightChecker, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(w, "", 0)
	logLevel := logging.ParseLevel(cfg.Logging.Level)

	storePath := resolvePath(baseDir, cfg.Store.Path)
	tagsPath := resolvePath(baseDir, cfg.Tags.Path)

	if threads == nil {
		threads = filehost.New(filepath.Join(baseDir, "threads.yaml"), cfg.Forum.Container)
	}

	bus := events.NewBus(0)
	taskStore := store.NewYAMLStore(storePath, bus)
	tags := tagmap.NewReloader(tagsPath, filepath.Join(baseDir, "quarantine"), nil)
	locks := lock.NewRegistry()

	eng := engine.New(taskStore, threads, inflight, locks, tags, cfg, logger, logLevel)
	cache := directory.NewCache(threads, cfg.Forum.Container)
	coord := coordinator.New(eng, tags, cache, cfg, logger, logLevel)

	d := &Daemon{
		baseDir:   baseDir,
		cfg:       cfg,
		logLevel:  logLevel,
		logger:    logger,
		logFile:   closer,
		flock:     lock.NewProcessLock(filepath.Join(baseDir, "locks", "daemon.lock")),
		ticker:    time.NewTicker(time.Duration(cfg.Daemon.ScanIntervalSec) * time.Second),
		bus:       bus,
		tags:      tags,
		coord:     coord,
		cache:     cache,
		stat:      status.NewWriter(filepath.Join(baseDir, "status.yaml")),
		storePath: storePath,
		tagsPath:  tagsPath,
		ctx:       ctx,
		cancel:    cancel,
	}
	return d, nil
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := os.MkdirAll(filepath.Join(d.baseDir, "locks"), 0755); err != nil {
		return fmt.Errorf("ensure locks dir: %w", err)
	}
	if err := d.flock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(logging.LevelInfo, "daemon starting pid=%d", os.Getpid())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher

	watched := map[string]bool{}
	for _, p := range []string{d.storePath, d.tagsPath} {
		dir := filepath.Dir(p)
		if watched[dir] {
			continue
		}
		watched[dir] = true
		if err := os.MkdirAll(dir, 0755); err != nil {
			d.cleanup()
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
		if err := watcher.Add(dir); err != nil {
			d.cleanup()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	// Record the engine's own store writes so their fsnotify echo can be
	// told apart from external edits.
	unsubscribe := d.bus.Subscribe(events.EventTaskUpdated, func(ev events.Event) {
		if ev.Origin == model.OriginSyncEngine {
			d.lastEngineWrite.Store(time.Now().UnixNano())
		}
	})
	defer unsubscribe()

	if err := d.tags.Reload(); err != nil {
		d.log(logging.LevelWarn, "initial tag map load failed: %v", err)
	}

	d.wg.Add(2)
	go d.fsnotifyLoop()
	go d.tickerLoop()

	d.triggerSync("startup")
	d.log(logging.LevelInfo, "daemon ready")

	d.waitSignals()
	return nil
}

// fsnotifyLoop reacts to store and tag map file changes.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			switch filepath.Clean(event.Name) {
			case d.storePath:
				if d.isEngineEcho() {
					d.log(logging.LevelDebug, "fsnotify store event from engine write, ignored")
					continue
				}
				d.log(logging.LevelDebug, "fsnotify store event=%s", event.Op)
				d.debounceSync()
			case d.tagsPath:
				d.log(logging.LevelDebug, "fsnotify tag map event=%s", event.Op)
				if err := d.tags.Reload(); err != nil {
					d.log(logging.LevelWarn, "tag map reload failed, keeping previous map: %v", err)
				}
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(logging.LevelError, "fsnotify error=%v", err)
		}
	}
}

// tickerLoop triggers periodic drift-repair scans.
func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.ticker.C:
			d.triggerSync("periodic")
		}
	}
}

// isEngineEcho reports whether a store-file event is attributable to the
// engine's own write rather than an external edit.
func (d *Daemon) isEngineEcho() bool {
	last := d.lastEngineWrite.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < 2*time.Second
}

// debounceSync coalesces bursts of store edits into one sync trigger.
func (d *Daemon) debounceSync() {
	delay := time.Duration(d.cfg.Daemon.DebounceSec * float64(time.Second))
	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()
	if d.debounceTimer != nil {
		d.debounceTimer.Stop()
	}
	d.debounceTimer = time.AfterFunc(delay, func() {
		d.triggerSync("store change")
	})
}

// triggerSync runs one coordinated sync and records the outcome.
func (d *Daemon) triggerSync(reason string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.log(logging.LevelInfo, "sync triggered by %s", reason)

		res, err := d.coord.Sync(d.ctx, d.stat)
		if err != nil {
			if errors.Is(err, coordinator.ErrClosed) {
				d.log(logging.LevelDebug, "sync skipped, coordinator closed")
				return
			}
			class := coordinator.Classify(err)
			if serr := d.stat.RecordFailure(err, class); serr != nil {
				d.log(logging.LevelWarn, "status write failed: %v", serr)
			}
			if d.cfg.Daemon.NotifyOnFailure {
				if nerr := notify.Send("discoclaw", fmt.Sprintf("sync failed: %v", err)); nerr != nil {
					d.log(logging.LevelDebug, "notification failed: %v", nerr)
				}
			}
			return
		}
		if res == nil {
			d.log(logging.LevelDebug, "sync coalesced into active run")
			return
		}

		if active, cerr := d.cache.Active(d.ctx); cerr == nil {
			if serr := d.stat.SetActiveThreads(len(active)); serr != nil {
				d.log(logging.LevelWarn, "status write failed: %v", serr)
			}
		}
		if serr := d.stat.Heartbeat(os.Getpid()); serr != nil {
			d.log(logging.LevelWarn, "status write failed: %v", serr)
		}
	}()
}

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	d.log(logging.LevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// Second signal → force exit
	go func() {
		<-sigCh
		d.log(logging.LevelWarn, "received second signal, forcing exit")
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(logging.LevelInfo, "shutdown started")

		d.cancel()
		d.ticker.Stop()
		if d.watcher != nil {
			d.watcher.Close()
		}
		d.debounceMu.Lock()
		if d.debounceTimer != nil {
			d.debounceTimer.Stop()
		}
		d.debounceMu.Unlock()

		d.coord.Close()

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		timeout := time.Duration(d.cfg.Daemon.ShutdownTimeoutSec) * time.Second
		select {
		case <-done:
			d.log(logging.LevelInfo, "all goroutines drained")
		case <-time.After(timeout):
			d.log(logging.LevelWarn, "shutdown timeout after %s, some operations may be incomplete", timeout)
		}

		d.cleanup()
		d.log(logging.LevelInfo, "daemon stopped")
	})
}

func (d *Daemon) cleanup() {
	d.bus.Close()
	d.flock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}

func (d *Daemon) log(level logging.Level, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), level, msg)
}
