package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/studysync/studysync/internal/logging"
	"github.com/studysync/studysync/internal/reconcile"
	"github.com/studysync/studysync/internal/schema"
)

// Engine is the part of the reconciliation engine the daemon drives.
// *reconcile.Engine satisfies it.
type Engine interface {
	Sync(ctx context.Context, userID string) (*reconcile.SyncReport, error)
	PushUnsynced(ctx context.Context, kind schema.Kind) (*reconcile.BatchReport, error)
	DrainRetries(ctx context.Context) (int, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// UserID is the account whose records are pulled.
	UserID string

	// SyncInterval is how often a full push and pull runs.
	SyncInterval time.Duration

	// RetryInterval is how often the retry queue is drained.
	RetryInterval time.Duration

	// DebounceInterval is how long database file changes must settle before
	// unsynced records are pushed. This batches rapid writes together.
	DebounceInterval time.Duration

	// WatchPath is the local database file. Empty disables watching.
	WatchPath string

	// Regained, when set, triggers a retry drain and a push whenever it
	// receives. Wire it to connectivity.Monitor.Regained.
	Regained <-chan struct{}

	// Logger for daemon activity
	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		RetryInterval:    10 * time.Second,
		DebounceInterval: 500 * time.Millisecond,
	}
}

// Stats counts what the daemon has done since it started.
type Stats struct {
	Syncs       int
	SyncErrors  int
	Pushes      int
	Drained     int
	FileChanges int
	LastSync    time.Time
}

// Daemon runs the reconciliation engine in the background.
type Daemon struct {
	engine Engine
	config *Config
	log    *logging.Logger

	watchMu       sync.Mutex
	watcher       *DBWatcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon. Use Start() to begin syncing.
func New(engine Engine, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.UserID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	def := DefaultConfig()
	if config.SyncInterval <= 0 {
		config.SyncInterval = def.SyncInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = def.RetryInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = def.DebounceInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:      engine,
		config:      config,
		log:         logging.OrNop(config.Logger).With("component", "daemon"),
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs an initial sync, then syncs periodically, drains retries,
// reacts to regained connectivity and pushes after writes to the database
// file by other processes.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.log.Info("starting daemon", "user", d.config.UserID,
		"sync_interval", d.config.SyncInterval, "retry_interval", d.config.RetryInterval)

	// An offline start is normal; the regained listener catches up later.
	d.SyncNow(ctx)

	if d.config.WatchPath != "" {
		w, err := WatchDatabase(d.config.WatchPath)
		if err != nil {
			return fmt.Errorf("failed to watch database: %w", err)
		}
		d.watchMu.Lock()
		d.watcher = w
		d.watchMu.Unlock()
		d.log.Info("watching database", "path", d.config.WatchPath)
		d.wg.Add(2)
		go d.watchFileEvents(w)
		go d.processChangeQueue()
	}

	d.wg.Add(2)
	go d.syncLoop()
	go d.retryLoop()
	if d.config.Regained != nil {
		d.wg.Add(1)
		go d.regainedLoop()
	}

	select {
	case <-ctx.Done():
		d.log.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. In-flight syncs are cancelled.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.log.Info("stopping daemon")
		d.cancel()
		d.watchMu.Lock()
		w := d.watcher
		d.watchMu.Unlock()
		if w != nil {
			if werr := w.Close(); werr != nil {
				d.log.Warn("error closing watcher", "error", werr)
				err = werr
			}
		}
		d.wg.Wait()
		d.log.Info("daemon stopped")
	})
	return err
}

// Stats returns a snapshot of the daemon counters.
func (d *Daemon) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// SyncNow runs one full sync. Failures are logged and counted.
func (d *Daemon) SyncNow(ctx context.Context) (*reconcile.SyncReport, error) {
	report, err := d.engine.Sync(ctx, d.config.UserID)

	d.statsMu.Lock()
	d.stats.Syncs++
	if err != nil {
		d.stats.SyncErrors++
	} else {
		d.stats.LastSync = time.Now()
	}
	d.statsMu.Unlock()

	switch {
	case errors.Is(err, reconcile.ErrOffline):
		d.log.Debug("sync skipped, offline")
	case err != nil:
		d.log.Warn("sync failed", "error", err)
	default:
		for kind, perr := range report.PullErrors {
			d.log.Warn("pull failed", "kind", kind, "error", perr)
		}
	}
	return report, err
}

func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.SyncNow(d.ctx)
		}
	}
}

func (d *Daemon) retryLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.drain()
		}
	}
}

func (d *Daemon) regainedLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case _, ok := <-d.config.Regained:
			if !ok {
				return
			}
			d.log.Info("connectivity regained, pushing pending records")
			d.drain()
			d.pushAll()
		}
	}
}

func (d *Daemon) drain() {
	n, err := d.engine.DrainRetries(d.ctx)
	if err != nil && !errors.Is(err, reconcile.ErrOffline) && d.ctx.Err() == nil {
		d.log.Warn("retry drain failed", "error", err)
	}
	if n > 0 {
		d.statsMu.Lock()
		d.stats.Drained += n
		d.statsMu.Unlock()
	}
}

// pushAll pushes every unsynced record of every kind.
func (d *Daemon) pushAll() {
	for _, kind := range schema.SyncedKinds {
		if d.ctx.Err() != nil {
			return
		}
		report, err := d.engine.PushUnsynced(d.ctx, kind)
		if errors.Is(err, reconcile.ErrOffline) {
			return
		}
		if err != nil {
			d.log.Warn("push failed", "kind", kind, "error", err)
			continue
		}
		if report != nil && report.Pushed > 0 {
			d.statsMu.Lock()
			d.stats.Pushes += report.Pushed
			d.statsMu.Unlock()
		}
	}
}

// ===== database file watching =====

// Watching reports whether the database watch is active.
func (d *Daemon) Watching() bool {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	return d.watcher != nil
}

// watchFileEvents monitors database file events and queues changes.
func (d *Daemon) watchFileEvents(w *DBWatcher) {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-w.Events():
			if !ok {
				return
			}
			d.log.Debug("database file event", "event", event.String())
			d.queueChange(event.Path)

		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			d.log.Warn("watcher error", "error", err)
		}
	}
}

// queueChange records a file change for debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges pushes once when any queued change has settled.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	settled := 0
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		settled++
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	if settled == 0 {
		return
	}

	d.statsMu.Lock()
	d.stats.FileChanges += settled
	d.statsMu.Unlock()

	d.pushAll()
}
