package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// setupWorkspace writes a config pointing at a fresh store and returns its
// path along with the workspace directory.
func setupWorkspace(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "procsync.yaml")
	content := "store:\n  path: " + filepath.Join(dir, "procedures.db") + "\nlog:\n  level: error\n  format: json\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return cfgPath, dir
}

// run executes procsync with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--no-color"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeProcedure(t *testing.T, dir, name, title, author string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	body := `<Procedure title="` + title + `" author="` + author + `"><Page><Element type="ENTRY" id="q1" question="Q"/></Page></Procedure>`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

type listEntry struct {
	Ref    int64  `json:"ref"`
	GUID   string `json:"guid"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

func listJSON(t *testing.T, cfgPath string) []listEntry {
	t.Helper()
	out, err := run(t, "--config", cfgPath, "list", "--json")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var entries []listEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("list output is not JSON: %v\n%s", err, out)
	}
	return entries
}

func TestCLI_ImportListShowExportRestore(t *testing.T) {
	cfgPath, dir := setupWorkspace(t)
	a := writeProcedure(t, dir, "malaria.xml", "Malaria", "Clinic")
	b := writeProcedure(t, dir, "anc.xml", "ANC", "Clinic")

	out, err := run(t, "--config", cfgPath, "import", a, b)
	if err != nil {
		t.Fatalf("import failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Inserted: 2") {
		t.Errorf("import output missing insert count:\n%s", out)
	}

	entries := listJSON(t, cfgPath)
	if len(entries) != 2 {
		t.Fatalf("list returned %d entries, want 2", len(entries))
	}

	out, err = run(t, "--config", cfgPath, "show", entries[0].GUID)
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if !strings.Contains(out, "<Procedure") {
		t.Errorf("show output is not the procedure XML:\n%s", out)
	}

	bundlePath := filepath.Join(dir, "bundle.jsonl")
	if _, err := run(t, "--config", cfgPath, "export", bundlePath); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	if _, err := run(t, "--config", cfgPath, "clear", "--yes"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if n := len(listJSON(t, cfgPath)); n != 0 {
		t.Fatalf("list after clear returned %d entries", n)
	}

	out, err = run(t, "--config", cfgPath, "restore", bundlePath)
	if err != nil {
		t.Fatalf("restore failed: %v\n%s", err, out)
	}
	if n := len(listJSON(t, cfgPath)); n != 2 {
		t.Errorf("list after restore returned %d entries, want 2", n)
	}
}

func TestCLI_ReimportUpdates(t *testing.T) {
	cfgPath, dir := setupWorkspace(t)
	a := writeProcedure(t, dir, "malaria.xml", "Malaria", "Clinic")

	if _, err := run(t, "--config", cfgPath, "import", a); err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	out, err := run(t, "--config", cfgPath, "import", a)
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if !strings.Contains(out, "Updated: 1") {
		t.Errorf("second import did not update:\n%s", out)
	}
	if n := len(listJSON(t, cfgPath)); n != 1 {
		t.Errorf("list returned %d entries, want 1", n)
	}
}

func TestCLI_ImportReportsFailures(t *testing.T) {
	cfgPath, dir := setupWorkspace(t)
	bad := filepath.Join(dir, "bad.xml")
	if err := os.WriteFile(bad, []byte("<Procedure"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--config", cfgPath, "import", bad)
	if err == nil {
		t.Fatal("import of a malformed file succeeded")
	}
	if !strings.Contains(out, "parse_error") {
		t.Errorf("failure kind not reported:\n%s", out)
	}
}

func TestCLI_SyncFromDir(t *testing.T) {
	cfgPath, dir := setupWorkspace(t)
	catDir := filepath.Join(dir, "catalog")
	if err := os.MkdirAll(catDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeProcedure(t, catDir, "one.xml", "One", "")
	writeProcedure(t, catDir, "two.xml", "Two", "")

	out, err := run(t, "--config", cfgPath, "sync", "--dir", catDir)
	if err != nil {
		t.Fatalf("sync failed: %v\n%s", err, out)
	}
	if n := len(listJSON(t, cfgPath)); n != 2 {
		t.Errorf("list returned %d entries, want 2", n)
	}

	if _, err := run(t, "--config", cfgPath, "sync", "--dir", ""); err == nil {
		t.Error("sync without a catalog succeeded")
	}
}

func TestCLI_ConfigShowMasksSecrets(t *testing.T) {
	cfgPath, _ := setupWorkspace(t)
	t.Setenv("PROCSYNC_SERVER_JWT_SECRET", "hunter2")

	out, err := run(t, "--config", cfgPath, "config", "show", "--format", "toml")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if strings.Contains(out, "hunter2") {
		t.Errorf("secret leaked:\n%s", out)
	}
	if !strings.Contains(out, "[store]") {
		t.Errorf("output is not TOML:\n%s", out)
	}
}

func TestCLI_Token(t *testing.T) {
	cfgPath, _ := setupWorkspace(t)
	t.Setenv("PROCSYNC_SERVER_JWT_SECRET", "s3cret")

	out, err := run(t, "--config", cfgPath, "token", "--device", "tablet-1")
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Errorf("token output is not a JWT: %q", out)
	}
}
