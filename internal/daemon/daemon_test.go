package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sana-health/procsync/internal/ingest"
)

// fakeRunner records calls. Run blocks on gate when it is non-nil.
type fakeRunner struct {
	runs    atomic.Int32
	gate    chan struct{}
	mu      sync.Mutex
	imports [][]string
}

func (r *fakeRunner) Run(ctx context.Context) (*ingest.Result, error) {
	r.runs.Add(1)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
		}
	}
	return &ingest.Result{State: ingest.StateCompletedAll}, nil
}

func (r *fakeRunner) ImportFiles(_ context.Context, paths []string) (*ingest.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imports = append(r.imports, append([]string(nil), paths...))
	return &ingest.Result{State: ingest.StateCompletedAll, Total: len(paths), Inserted: len(paths)}, nil
}

func (r *fakeRunner) imported() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, batch := range r.imports {
		out = append(out, batch...)
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		runner  Runner
		config  Config
		wantErr bool
	}{
		{"valid", &fakeRunner{}, DefaultConfig(), false},
		{"nil runner", nil, DefaultConfig(), true},
		{"negative interval", &fakeRunner{}, Config{Interval: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.runner, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && d == nil {
				t.Fatal("New() returned nil daemon")
			}
		})
	}
}

func TestDaemon_PeriodicSync(t *testing.T) {
	runner := &fakeRunner{}
	var results atomic.Int32
	d, err := New(runner, Config{
		Interval:    20 * time.Millisecond,
		SyncOnStart: true,
		Logger:      zerolog.Nop(),
		OnResult: func(kind PassKind, res *ingest.Result, err error) {
			if kind == PassSync && err == nil && res != nil {
				results.Add(1)
			}
		},
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return runner.runs.Load() >= 3 })
	d.Stop()

	select {
	case <-d.Done():
	default:
		t.Fatal("Done() not closed after Stop()")
	}
	if results.Load() < 3 {
		t.Errorf("OnResult called %d times, want >= 3", results.Load())
	}
}

func TestDaemon_SkipsTickWhilePassRuns(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{})}
	d, err := New(runner, Config{Interval: 10 * time.Millisecond, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return runner.runs.Load() == 1 })

	// Several ticks elapse while the first pass is blocked.
	time.Sleep(100 * time.Millisecond)
	if got := runner.runs.Load(); got != 1 {
		t.Errorf("runs while blocked = %d, want 1", got)
	}
	if d.SyncNow(context.Background()) {
		t.Error("SyncNow() ran while a pass was in progress")
	}

	close(runner.gate)
	waitFor(t, 2*time.Second, func() bool { return runner.runs.Load() >= 2 })
	d.Stop()
}

func TestDaemon_StopsWithContext(t *testing.T) {
	d, err := New(&fakeRunner{}, Config{Interval: time.Hour, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}

	cancel()
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after context cancel")
	}
	d.Stop()
}

func TestDaemon_StopBeforeStart(t *testing.T) {
	d, err := New(&fakeRunner{}, DefaultConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	d.Stop()
}

func TestDaemon_ImportsDroppedFiles(t *testing.T) {
	dropDir := filepath.Join(t.TempDir(), "drop")
	if err := os.MkdirAll(dropDir, 0o755); err != nil {
		t.Fatal(err)
	}
	existing := filepath.Join(dropDir, "existing.xml")
	if err := os.WriteFile(existing, []byte(`<Procedure title="E"/>`), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	d, err := New(runner, Config{DropDir: dropDir, Debounce: 30 * time.Millisecond, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	waitFor(t, 2*time.Second, func() bool { return len(runner.imported()) >= 1 })

	dropped := filepath.Join(dropDir, "hiv.xml")
	if err := os.WriteFile(dropped, []byte(`<Procedure title="HIV"/>`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dropDir, "readme.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(runner.imported()) >= 2 })
	time.Sleep(100 * time.Millisecond)

	got := runner.imported()
	if runner.runs.Load() != 0 {
		t.Errorf("sync passes = %d, want 0 with interval disabled", runner.runs.Load())
	}
	seen := map[string]int{}
	for _, p := range got {
		seen[filepath.Base(p)]++
	}
	if seen["existing.xml"] != 1 {
		t.Errorf("existing.xml imported %d times, want 1", seen["existing.xml"])
	}
	if seen["hiv.xml"] < 1 {
		t.Errorf("hiv.xml not imported: %v", got)
	}
	if seen["readme.txt"] != 0 {
		t.Errorf("readme.txt should not be imported")
	}
}
