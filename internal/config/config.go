// Package config loads the racquetmetrics configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Remote store kinds.
const (
	RemoteNone     = "none"
	RemoteHTTP     = "http"
	RemoteDynamoDB = "dynamodb"
)

// Config represents the application configuration.
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Profile  ProfileConfig  `toml:"profile"`
	Sync     SyncConfig     `toml:"sync"`
	DynamoDB DynamoDBConfig `toml:"dynamodb"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Backup   BackupConfig   `toml:"backup"`
	Server   ServerConfig   `toml:"server"`
}

type StoreConfig struct {
	DBPath string `toml:"db_path"`
}

// ProfileConfig identifies the device owner.
type ProfileConfig struct {
	UserID        string `toml:"user_id"`
	Timezone      string `toml:"timezone"` // IANA name; empty uses the system zone
	Authenticated bool   `toml:"authenticated"`
}

// SyncConfig controls the remote store and refresh behaviour.
type SyncConfig struct {
	Remote            string  `toml:"remote"` // none, http or dynamodb
	Endpoint          string  `toml:"endpoint"`
	APIKey            string  `toml:"api_key"`
	Freshness         string  `toml:"freshness"` // e.g. "15m"
	PageSize          int     `toml:"page_size"`
	MaxPages          int     `toml:"max_pages"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	AutoInterval      string  `toml:"auto_interval"` // period of sync --watch and serve
}

type DynamoDBConfig struct {
	Table  string `toml:"table"`
	Region string `toml:"region"`
}

type CatalogConfig struct {
	Path string `toml:"path"` // empty uses the builtin catalog
}

type BackupConfig struct {
	Bucket string `toml:"bucket"`
	Region string `toml:"region"`
	Prefix string `toml:"prefix"`
}

type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Dir is the per-user data directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".racquetmetrics"), nil
}

// DefaultPath returns ~/.racquetmetrics/config.toml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dbPath := "metrics.db"
	if dir, err := Dir(); err == nil {
		dbPath = filepath.Join(dir, "metrics.db")
	}
	return &Config{
		Store: StoreConfig{DBPath: dbPath},
		Sync: SyncConfig{
			Remote:            RemoteNone,
			Freshness:         "15m",
			PageSize:          100,
			MaxPages:          50,
			RequestsPerSecond: 5,
			AutoInterval:      "5m",
		},
		DynamoDB: DynamoDBConfig{Table: "racquet_matches"},
		Backup:   BackupConfig{Prefix: "racquetmetrics/"},
		Server:   ServerConfig{Addr: "127.0.0.1:8787"},
	}
}

// Load reads path, or the default path when empty. A missing file yields the defaults. A .env
// file next to the config, and one in the working directory, are loaded first; environment
// variables override secrets and identity.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// loadDotEnv loads each existing file. godotenv never overrides variables already set.
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RACQUET_API_KEY"); v != "" {
		c.Sync.APIKey = v
	}
	if v := os.Getenv("RACQUET_USER_ID"); v != "" {
		c.Profile.UserID = v
		c.Profile.Authenticated = true
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		if c.DynamoDB.Region == "" {
			c.DynamoDB.Region = v
		}
		if c.Backup.Region == "" {
			c.Backup.Region = v
		}
	}
}

// Save writes the configuration to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration values.
func (c *Config) Validate() error {
	if _, err := c.GetFreshness(); err != nil {
		return fmt.Errorf("invalid freshness %q: %w", c.Sync.Freshness, err)
	}
	if _, err := c.GetAutoInterval(); err != nil {
		return fmt.Errorf("invalid auto interval %q: %w", c.Sync.AutoInterval, err)
	}
	if _, err := c.GetLocation(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Profile.Timezone, err)
	}
	if c.Sync.PageSize < 0 || c.Sync.MaxPages < 0 {
		return fmt.Errorf("page size and max pages cannot be negative")
	}
	if c.Sync.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative: %g", c.Sync.RequestsPerSecond)
	}

	switch c.Sync.Remote {
	case "", RemoteNone:
	case RemoteHTTP:
		if c.Sync.Endpoint == "" {
			return fmt.Errorf("sync.remote = %q needs sync.endpoint", c.Sync.Remote)
		}
	case RemoteDynamoDB:
		if c.DynamoDB.Table == "" || c.DynamoDB.Region == "" {
			return fmt.Errorf("sync.remote = %q needs dynamodb.table and dynamodb.region", c.Sync.Remote)
		}
	default:
		return fmt.Errorf("unknown sync.remote %q (want none, http or dynamodb)", c.Sync.Remote)
	}
	if c.Sync.Remote != "" && c.Sync.Remote != RemoteNone && c.Profile.UserID == "" {
		return fmt.Errorf("remote sync needs profile.user_id")
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// GetFreshness returns the refresh freshness window.
func (c *Config) GetFreshness() (time.Duration, error) { return parseDuration(c.Sync.Freshness) }

// GetAutoInterval returns the period of scheduled refreshes.
func (c *Config) GetAutoInterval() (time.Duration, error) {
	return parseDuration(c.Sync.AutoInterval)
}

// GetLocation returns the zone calendar-day windows are computed in.
func (c *Config) GetLocation() (*time.Location, error) {
	if c.Profile.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Profile.Timezone)
}
