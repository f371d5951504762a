// Package config loads application configuration from file, environment,
// and defaults, in that order of increasing precedence for the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved application configuration.
type Config struct {
	// DataDir holds the local database, logs, and backups.
	DataDir string `mapstructure:"data_dir"`

	// LocalDBPath overrides the local database location. Empty means
	// DataDir/loveyou.db.
	LocalDBPath string `mapstructure:"local_db_path"`

	// RemoteURL is the libsql URL of the shared remote database.
	// Empty disables the remote backend entirely.
	RemoteURL string `mapstructure:"remote_url"`

	// RemoteAuthToken authenticates against the remote database.
	RemoteAuthToken string `mapstructure:"remote_auth_token"`

	// GatewayAddr is the interception server listen address.
	GatewayAddr string `mapstructure:"gateway_addr"`

	// UpstreamURL is the application origin the gateway fronts.
	UpstreamURL string `mapstructure:"upstream_url"`

	// CacheVersion selects the active cache partitions.
	CacheVersion int `mapstructure:"cache_version"`

	// CacheMaxBytes caps cached response bytes. Zero disables the cap.
	CacheMaxBytes int64 `mapstructure:"cache_max_bytes"`

	// CacheRetention is the eviction window used when the cap is hit.
	CacheRetention time.Duration `mapstructure:"cache_retention"`

	// PrecacheManifest points at the YAML asset manifest. Empty skips
	// precaching.
	PrecacheManifest string `mapstructure:"precache_manifest"`

	// DrainInterval is the periodic queue drain cadence.
	DrainInterval time.Duration `mapstructure:"drain_interval"`

	// ProbeInterval is the connectivity probe cadence.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// ProbeURL is polled to detect connectivity. Empty derives it from
	// RemoteURL's host.
	ProbeURL string `mapstructure:"probe_url"`

	// LogFile receives rotated daemon logs. Empty logs to stderr only.
	LogFile string `mapstructure:"log_file"`
}

// Load reads configuration. path may be empty, in which case the default
// locations ($LOVEYOU_CONFIG, ./loveyou.yaml, ~/.config/loveyou/) are
// tried and missing files are not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("gateway_addr", ":8787")
	v.SetDefault("upstream_url", "http://localhost:3000")
	v.SetDefault("cache_version", 1)
	v.SetDefault("cache_max_bytes", int64(64<<20))
	v.SetDefault("cache_retention", 7*24*time.Hour)
	v.SetDefault("drain_interval", 30*time.Second)
	v.SetDefault("probe_interval", 15*time.Second)

	v.SetEnvPrefix("LOVEYOU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("loveyou")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "loveyou"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.LocalDBPath == "" {
		cfg.LocalDBPath = filepath.Join(cfg.DataDir, "loveyou.db")
	}
	return &cfg, nil
}

// EnsureDataDir creates the data directory when missing.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", c.DataDir, err)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".loveyou"
	}
	return filepath.Join(home, ".loveyou")
}
