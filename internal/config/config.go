// Package config loads procsync settings from defaults, an optional config
// file and PROCSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PROCSYNC_REMOTE_BASE_URL.
const EnvPrefix = "PROCSYNC"

type Config struct {
	Store     StoreConfig     `mapstructure:"store" yaml:"store" toml:"store"`
	Remote    RemoteConfig    `mapstructure:"remote" yaml:"remote" toml:"remote"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync" toml:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon" yaml:"daemon" toml:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard" toml:"dashboard"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server" toml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log" toml:"log"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-" toml:"-"`
}

type StoreConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver" toml:"driver"`
	Path     string `mapstructure:"path" yaml:"path" toml:"path"`
	DSN      string `mapstructure:"dsn" yaml:"dsn" toml:"dsn"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns" toml:"max_conns"`
}

type RemoteConfig struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url" toml:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" toml:"timeout"`
	Token     string        `mapstructure:"token" yaml:"token" toml:"token"`
	JWTSecret string        `mapstructure:"jwt_secret" yaml:"jwt_secret" toml:"jwt_secret"`
	DeviceID  string        `mapstructure:"device_id" yaml:"device_id" toml:"device_id"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
	Burst     int           `mapstructure:"burst" yaml:"burst" toml:"burst"`
}

type SyncConfig struct {
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency" toml:"concurrency"`
	ItemTimeout  time.Duration `mapstructure:"item_timeout" yaml:"item_timeout" toml:"item_timeout"`
	DedupPolicy  string        `mapstructure:"dedup_policy" yaml:"dedup_policy" toml:"dedup_policy"`
	PreamblePath string        `mapstructure:"preamble_path" yaml:"preamble_path" toml:"preamble_path"`
}

type DaemonConfig struct {
	// Interval between sync passes; 0 disables periodic sync.
	Interval time.Duration `mapstructure:"interval" yaml:"interval" toml:"interval"`
	// DropDir is watched for procedure files to import; empty disables it.
	DropDir  string        `mapstructure:"drop_dir" yaml:"drop_dir" toml:"drop_dir"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" toml:"debounce"`
}

type DashboardConfig struct {
	// Port for the live dashboard; 0 disables it.
	Port int `mapstructure:"port" yaml:"port" toml:"port"`
}

type ServerConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr" toml:"addr"`
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret" toml:"jwt_secret"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" toml:"level"`
	Format     string `mapstructure:"format" yaml:"format" toml:"format"` // auto, console or json
	File       string `mapstructure:"file" yaml:"file" toml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" toml:"max_backups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", ".procsync/procedures.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 4)

	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.jwt_secret", "")
	v.SetDefault("remote.device_id", "")
	v.SetDefault("remote.rate_limit", 0)
	v.SetDefault("remote.burst", 1)

	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.item_timeout", 30*time.Second)
	v.SetDefault("sync.dedup_policy", "title_author")
	v.SetDefault("sync.preamble_path", "")

	v.SetDefault("daemon.interval", 15*time.Minute)
	v.SetDefault("daemon.drop_dir", "")
	v.SetDefault("daemon.debounce", 500*time.Millisecond)

	v.SetDefault("dashboard.port", 0)

	v.SetDefault("server.addr", ":8088")
	v.SetDefault("server.jwt_secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
}

// Load builds the configuration. An explicit path must exist; otherwise a
// procsync.{yaml,toml,json} in the working directory or ~/.procsync is
// used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("procsync")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.procsync")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later and less clearly.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be \"sqlite\" or \"postgres\", got %q", c.Store.Driver)
	}

	if c.Remote.BaseURL != "" {
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("remote.base_url must be an http(s) URL, got %q", c.Remote.BaseURL)
		}
	}
	if c.Remote.Token != "" && c.Remote.JWTSecret != "" {
		return fmt.Errorf("remote.token and remote.jwt_secret are mutually exclusive")
	}
	if c.Remote.RateLimit < 0 {
		return fmt.Errorf("remote.rate_limit must not be negative")
	}

	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}
	if c.Sync.ItemTimeout <= 0 {
		return fmt.Errorf("sync.item_timeout must be positive")
	}
	switch c.Sync.DedupPolicy {
	case "title_author", "title":
	default:
		return fmt.Errorf("sync.dedup_policy must be \"title_author\" or \"title\", got %q", c.Sync.DedupPolicy)
	}

	if c.Daemon.Interval < 0 || c.Daemon.Debounce < 0 {
		return fmt.Errorf("daemon.interval and daemon.debounce must not be negative")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}

	switch c.Log.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("log.format must be \"auto\", \"console\" or \"json\", got %q", c.Log.Format)
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Remote.Token = mask(c.Remote.Token)
	out.Remote.JWTSecret = mask(c.Remote.JWTSecret)
	out.Server.JWTSecret = mask(c.Server.JWTSecret)
	if c.Store.DSN != "" {
		if u, err := url.Parse(c.Store.DSN); err == nil && u.User != nil {
			u.User = url.User(u.User.Username())
			out.Store.DSN = u.String()
		}
	}
	return &out
}
