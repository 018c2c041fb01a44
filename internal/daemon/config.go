// Package daemon holds the TOML-backed process configuration for the
// auctiond binary: server bind address, calendar transition hour, credit
// settings, and the telemetry bearer token.
package daemon

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// CalendarConfig seeds the mutable domain.Config.TransitionHour on first
// boot; once the state file exists, the admin-editable value there wins.
type CalendarConfig struct {
	TransitionHour int `toml:"transition_hour"`
}

// CreditConfig holds per-user credit defaults plus the flat per-slot stipend
// paid out by a bulk release. Only BulkReleaseRefund is applied (by serve,
// via engine.SetBulkReleaseRefund); DefaultDailyBudget and DefaultBalance
// are loaded but not read by user creation, which takes its values from the
// admin API request body or the `admin user add` flags.
type CreditConfig struct {
	DefaultDailyBudget int     `toml:"default_daily_budget"`
	DefaultBalance     float64 `toml:"default_balance"`
	BulkReleaseRefund  float64 `toml:"bulk_release_refund"`
}

// TelemetryConfig controls the monitoring-daemon ingestion endpoint.
type TelemetryConfig struct {
	// TokenEnv names the environment variable holding the bearer token
	// compared against incoming /api/gpu-status requests.
	TokenEnv string `toml:"token_env"`
}

// StoreConfig controls the durable JSON snapshot location.
type StoreConfig struct {
	Path string `toml:"path"`
}

// Config is the full process configuration, loaded from a TOML file and
// overridden by environment variables at the call sites that read PORT,
// GPU_MONITOR_TOKEN, and FORCE_RESET directly.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Calendar  CalendarConfig  `toml:"calendar"`
	Credit    CreditConfig    `toml:"credit"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Store     StoreConfig     `toml:"store"`
}

// DefaultConfig returns the configuration used when no TOML file is present.
func DefaultConfig() Config {
	return Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8000},
		Calendar:  CalendarConfig{TransitionHour: 0},
		Credit:    CreditConfig{DefaultDailyBudget: 100, DefaultBalance: 100, BulkReleaseRefund: 0.34},
		Telemetry: TelemetryConfig{TokenEnv: "GPU_MONITOR_TOKEN"},
		Store:     StoreConfig{Path: "auctiond-state.json"},
	}
}

// Load reads path as TOML into a Config seeded with DefaultConfig's values,
// so a file that sets only a few keys leaves the rest at their defaults. A
// missing file is not an error — callers run on defaults in that case.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("daemon: decode config %s: %w", path, err)
	}
	return cfg, nil
}

// PortFromEnv returns the PORT environment variable's value, falling back to
// cfg.Server.Port when unset or invalid.
func PortFromEnv(cfg Config) int {
	raw := os.Getenv("PORT")
	if raw == "" {
		return cfg.Server.Port
	}
	port := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			return cfg.Server.Port
		}
		port = port*10 + int(c-'0')
	}
	if port <= 0 || port > 65535 {
		return cfg.Server.Port
	}
	return port
}

// ForceReset reports whether the FORCE_RESET environment variable requests
// wiping all days on boot ("1", "true", or "yes", case-insensitively).
func ForceReset() bool {
	switch strings.ToLower(os.Getenv("FORCE_RESET")) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
