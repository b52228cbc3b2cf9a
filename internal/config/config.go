// Package config loads the server configuration and the guild level table.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`

	Storage StorageConfig `yaml:"storage"`
	Flush   FlushConfig   `yaml:"flush"`
	Backup  BackupConfig  `yaml:"backup"`
}

type StorageConfig struct {
	// Backend selects the durable store: "file" or "sqlite". Both carry
	// identical record semantics, so switching loses nothing.
	Backend string       `yaml:"backend"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

type SQLiteConfig struct {
	Path          string `yaml:"path"`
	PoolSize      int    `yaml:"pool_size"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

type FlushConfig struct {
	IntervalSecs int `yaml:"interval_secs"`
}

type BackupConfig struct {
	Enabled      bool `yaml:"enabled"`
	IntervalMins int  `yaml:"interval_mins"`
	KeepMin      int  `yaml:"keep_min"`
	MaxAgeDays   int  `yaml:"max_age_days"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config.yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddr: ":8787",
		DataDir:    "data",
		Storage: StorageConfig{
			Backend: "file",
			SQLite: SQLiteConfig{
				Path:          "data/guilds.db",
				PoolSize:      4,
				BusyTimeoutMS: 5000,
			},
		},
		Flush: FlushConfig{
			IntervalSecs: 30,
		},
		Backup: BackupConfig{
			Enabled:      true,
			IntervalMins: 30,
			KeepMin:      3,
			MaxAgeDays:   14,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be file or sqlite, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "sqlite" {
		if strings.TrimSpace(c.Storage.SQLite.Path) == "" {
			return fmt.Errorf("storage.sqlite.path must not be empty")
		}
		if c.Storage.SQLite.PoolSize < 1 {
			return fmt.Errorf("storage.sqlite.pool_size must be >= 1")
		}
		if c.Storage.SQLite.BusyTimeoutMS < 0 {
			return fmt.Errorf("storage.sqlite.busy_timeout_ms must be >= 0")
		}
	}
	if c.Flush.IntervalSecs <= 0 {
		return fmt.Errorf("flush.interval_secs must be > 0")
	}
	if c.Backup.Enabled {
		if c.Backup.IntervalMins <= 0 {
			return fmt.Errorf("backup.interval_mins must be > 0")
		}
		if c.Backup.KeepMin < 1 {
			return fmt.Errorf("backup.keep_min must be >= 1")
		}
		if c.Backup.MaxAgeDays < 0 {
			return fmt.Errorf("backup.max_age_days must be >= 0")
		}
	}
	return nil
}
