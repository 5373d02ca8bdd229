// Package daemon runs procsync in the background: a periodic sync pass
// against the catalog and an optional drop directory whose procedure files
// are imported as they appear.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sana-health/procsync/internal/catalog"
	"github.com/sana-health/procsync/internal/ingest"
)

// Runner is the sync engine the daemon drives.
type Runner interface {
	Run(ctx context.Context) (*ingest.Result, error)
	ImportFiles(ctx context.Context, paths []string) (*ingest.Result, error)
}

// PassKind tells a result callback where a result came from.
type PassKind string

const (
	PassSync   PassKind = "sync"
	PassImport PassKind = "import"
)

// Config holds configuration for the daemon.
type Config struct {
	// Interval between sync passes; 0 disables periodic sync.
	Interval time.Duration

	// SyncOnStart runs a pass immediately instead of after the first Interval.
	SyncOnStart bool

	// DropDir is watched for procedure files; empty disables watching.
	DropDir string

	// Debounce is how long a file must stay quiet before it is imported.
	// This batches the burst of events a single copy produces.
	Debounce time.Duration

	// OnResult, if set, is called after every pass and import batch.
	OnResult func(kind PassKind, res *ingest.Result, err error)

	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    15 * time.Minute,
		SyncOnStart: true,
		Debounce:    500 * time.Millisecond,
		Logger:      zerolog.Nop(),
	}
}

// Daemon runs sync passes and drop-directory imports until stopped.
type Daemon struct {
	runner Runner
	config Config
	log    zerolog.Logger

	watcher       *FileWatcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	passMu sync.Mutex // held while a sync pass runs

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
}

// New creates a daemon. Use Start to begin.
func New(runner Runner, config Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if config.Interval < 0 {
		return nil, fmt.Errorf("interval cannot be negative")
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}

	return &Daemon{
		runner:      runner,
		config:      config,
		log:         config.Logger.With().Str("component", "daemon").Logger(),
		changeQueue: make(map[string]time.Time),
		done:        make(chan struct{}),
	}, nil
}

// Start launches the daemon's goroutines and returns. It stops on its own
// when ctx is canceled; Done reports when it has fully stopped.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("daemon already started")
	}

	if d.config.DropDir != "" {
		if err := os.MkdirAll(d.config.DropDir, 0o755); err != nil {
			return fmt.Errorf("failed to create drop directory: %w", err)
		}
		watcher, err := NewFileWatcher()
		if err != nil {
			return err
		}
		if err := watcher.Start(d.config.DropDir); err != nil {
			_ = watcher.Stop()
			return err
		}
		d.watcher = watcher
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.started = true

	d.log.Info().
		Dur("interval", d.config.Interval).
		Str("drop_dir", d.config.DropDir).
		Msg("daemon started")

	if d.config.Interval > 0 || d.config.SyncOnStart {
		d.wg.Add(1)
		go d.syncLoop()
	}
	if d.watcher != nil {
		d.queueExisting()
		d.wg.Add(2)
		go d.watchFileEvents()
		go d.processChangeQueue()
	}

	go func() {
		<-d.ctx.Done()
		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				d.log.Warn().Err(err).Msg("error closing watcher")
			}
		}
		d.wg.Wait()
		d.log.Info().Msg("daemon stopped")
		close(d.done)
	}()

	return nil
}

// Stop cancels the daemon and waits for it to finish. A sync pass in
// progress skips its remaining items; items already in flight complete.
func (d *Daemon) Stop() {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return
	}
	d.cancel()
	<-d.done
}

// Done is closed once the daemon has fully stopped.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// SyncNow runs a pass unless one is already running, in which case it
// reports false.
func (d *Daemon) SyncNow(ctx context.Context) bool {
	if !d.passMu.TryLock() {
		d.log.Debug().Msg("sync pass already running, skipping")
		return false
	}
	defer d.passMu.Unlock()

	res, err := d.runner.Run(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("sync pass failed")
	}
	d.report(PassSync, res, err)
	return true
}

func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	if d.config.SyncOnStart {
		d.SyncNow(d.ctx)
	}
	if d.config.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			// A tick that finds a pass still running is skipped.
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.SyncNow(d.ctx)
			}()
		}
	}
}

func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			if event.Op == OpDelete {
				// Removing a dropped file never removes the stored procedure.
				d.dequeue(event.Path)
				continue
			}
			d.log.Debug().Str("op", event.Op.String()).Str("path", event.Path).Msg("file event")
			d.queueChange(event.Path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

// queueExisting queues procedure files already present in the drop dir.
func (d *Daemon) queueExisting() {
	entries, err := os.ReadDir(d.config.DropDir)
	if err != nil {
		d.log.Warn().Err(err).Msg("failed to scan drop directory")
		return
	}
	for _, e := range entries {
		if !e.IsDir() && catalog.IsProcedureFile(e.Name()) {
			abs, err := filepath.Abs(filepath.Join(d.config.DropDir, e.Name()))
			if err == nil {
				d.queueChange(abs)
			}
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

func (d *Daemon) dequeue(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	delete(d.changeQueue, path)
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Debounce / 2)
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

// processPendingChanges imports files that have been quiet for at least
// the debounce interval.
func (d *Daemon) processPendingChanges() {
	now := time.Now()

	d.changeQueueMu.Lock()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.Debounce {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	if len(ready) == 0 {
		return
	}
	sort.Strings(ready)

	d.log.Info().Int("files", len(ready)).Msg("importing dropped files")
	res, err := d.runner.ImportFiles(d.ctx, ready)
	if err != nil {
		d.log.Warn().Err(err).Msg("import batch interrupted")
	}
	d.report(PassImport, res, err)
}

func (d *Daemon) report(kind PassKind, res *ingest.Result, err error) {
	if d.config.OnResult != nil {
		d.config.OnResult(kind, res, err)
	}
}
