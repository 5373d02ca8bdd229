package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileWatcher_EmitsProcedureFiles(t *testing.T) {
	dir := t.TempDir()

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer fw.Stop()

	if !fw.IsRunning() {
		t.Fatal("IsRunning() = false after Start()")
	}
	if err := fw.Start(dir); err == nil {
		t.Error("second Start() should fail")
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "anc.xml")
	if err := os.WriteFile(path, []byte(`<Procedure title="ANC"/>`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-fw.Events():
		if filepath.Base(ev.Path) != "anc.xml" {
			t.Errorf("event path = %s, want anc.xml", ev.Path)
		}
		if ev.Op != OpCreate && ev.Op != OpModify {
			t.Errorf("event op = %s, want create or modify", ev.Op)
		}
	case err := <-fw.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("no event for anc.xml")
	}
}

func TestFileWatcher_StopClosesChannels(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(t.TempDir()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
	if _, ok := <-fw.Events(); ok {
		t.Error("Events() not closed")
	}
	if _, ok := <-fw.Errors(); ok {
		t.Error("Errors() not closed")
	}
}

func TestFileWatcher_MissingDir(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Start() on missing dir should fail")
	}
}

func TestEventOp_String(t *testing.T) {
	cases := map[EventOp]string{OpCreate: "create", OpModify: "modify", OpDelete: "delete", EventOp(9): "unknown"}
	for op, want := range cases {
		if got := op.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", op, got, want)
		}
	}
}
