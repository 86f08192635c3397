package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, loaded from TOML.
type Config struct {
	API    APIConfig    `toml:"api"`
	Store  StoreConfig  `toml:"store"`
	Guard  GuardConfig  `toml:"guard"`
	Payout PayoutConfig `toml:"payout"`
	Log    LogConfig    `toml:"log"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// Addr returns the host:port listen address.
func (a APIConfig) Addr() string { return fmt.Sprintf("%s:%d", a.Host, a.Port) }

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	Path string `toml:"path"`
}

// GuardConfig configures the credit guard.
type GuardConfig struct {
	// LockTTL bounds how long an account operation lock may be held before
	// the next caller force-releases it.
	LockTTL string `toml:"lock_ttl"`
}

// LockTTLDuration parses LockTTL, falling back to 30s.
func (g GuardConfig) LockTTLDuration() time.Duration {
	return parseDuration(g.LockTTL, 30*time.Second)
}

// PayoutConfig configures the payout reconciler.
type PayoutConfig struct {
	// ReconcileSchedule is a cron spec for the stale-pending sweep.
	ReconcileSchedule string `toml:"reconcile_schedule"`
	// StaleAfter is how old a pending request must be before the
	// reconciler considers it stale.
	StaleAfter string `toml:"stale_after"`
}

// StaleAfterDuration parses StaleAfter, falling back to 1h.
func (p PayoutConfig) StaleAfterDuration() time.Duration {
	return parseDuration(p.StaleAfter, time.Hour)
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8542,
			Metrics: true,
		},
		Store: StoreConfig{
			Path: filepath.Join(homeDir(), "verdict.db"),
		},
		Guard: GuardConfig{
			LockTTL: "30s",
		},
		Payout: PayoutConfig{
			ReconcileSchedule: "@every 10m",
			StaleAfter:        "1h",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config at path, layered over defaults. An empty path tries
// the default locations; a missing file just yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = defaultConfigPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// homeDir returns the verdict data directory, VERDICT_HOME or ~/.verdict.
func homeDir() string {
	if dir := os.Getenv("VERDICT_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".verdict"
	}
	return filepath.Join(home, ".verdict")
}

func defaultConfigPath() string {
	return filepath.Join(homeDir(), "config.toml")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
