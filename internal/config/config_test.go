package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// chdirTemp moves into an empty directory so no stray procsync.yaml is found.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, ".procsync/procedures.db", cfg.Store.Path)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Sync.ItemTimeout)
	assert.Equal(t, "title_author", cfg.Sync.DedupPolicy)
	assert.Equal(t, 15*time.Minute, cfg.Daemon.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.File)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PROCSYNC_REMOTE_BASE_URL", "https://mds.example.org")
	t.Setenv("PROCSYNC_SYNC_CONCURRENCY", "9")
	t.Setenv("PROCSYNC_SYNC_ITEM_TIMEOUT", "5s")
	t.Setenv("PROCSYNC_SYNC_DEDUP_POLICY", "title")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://mds.example.org", cfg.Remote.BaseURL)
	assert.Equal(t, 9, cfg.Sync.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Sync.ItemTimeout)
	assert.Equal(t, "title", cfg.Sync.DedupPolicy)
}

func TestLoad_File(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "custom.yaml")
	content := `
store:
  path: /var/lib/procsync/p.db
remote:
  base_url: http://10.0.0.2:8088
  rate_limit: 2.5
daemon:
  drop_dir: /sdcard/procedures
  interval: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "/var/lib/procsync/p.db", cfg.Store.Path)
	assert.Equal(t, 2.5, cfg.Remote.RateLimit)
	assert.Equal(t, "/sdcard/procedures", cfg.Daemon.DropDir)
	assert.Equal(t, time.Minute, cfg.Daemon.Interval)
}

func TestLoad_DiscoversFileInWorkingDir(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "procsync.toml"), []byte("[sync]\nconcurrency = 2\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Sync.Concurrency)
	assert.NotEmpty(t, cfg.File)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	chdirTemp(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }},
		{"bad base url", func(c *Config) { c.Remote.BaseURL = "mds.example.org" }},
		{"token and secret", func(c *Config) { c.Remote.Token = "a"; c.Remote.JWTSecret = "b" }},
		{"zero concurrency", func(c *Config) { c.Sync.Concurrency = 0 }},
		{"zero timeout", func(c *Config) { c.Sync.ItemTimeout = 0 }},
		{"bad policy", func(c *Config) { c.Sync.DedupPolicy = "fuzzy" }},
		{"bad port", func(c *Config) { c.Dashboard.Port = 70000 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, base.Validate())
}

func TestRedacted(t *testing.T) {
	cfg := &Config{
		Store:  StoreConfig{DSN: "postgres://sana:hunter2@db:5432/procs"},
		Remote: RemoteConfig{Token: "tok"},
		Server: ServerConfig{JWTSecret: "sec"},
	}
	r := cfg.Redacted()
	assert.Equal(t, "********", r.Remote.Token)
	assert.Equal(t, "", r.Remote.JWTSecret)
	assert.Equal(t, "********", r.Server.JWTSecret)
	assert.NotContains(t, r.Store.DSN, "hunter2")
	assert.Equal(t, "tok", cfg.Remote.Token, "original is untouched")
}

func TestWrite(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, cfg, "yaml"))
	var asYAML map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &asYAML))
	assert.Contains(t, asYAML, "store")
	assert.Contains(t, buf.String(), "dedup_policy: title_author")

	buf.Reset()
	require.NoError(t, Write(&buf, cfg, "toml"))
	var asTOML map[string]interface{}
	_, err = toml.Decode(buf.String(), &asTOML)
	require.NoError(t, err)
	assert.Contains(t, asTOML, "sync")

	assert.Error(t, Write(&buf, cfg, "ini"))
}
