package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tuya-ble-cloud/internal/platform/errors"
)

const (
	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "TUYA_BLE_CONFIG"
	envPrefix     = "TUYA_BLE_"
)

var defaultPaths = []string{".config.yaml", "config.yaml", "data/config.yaml"}

// Loader reads YAML configuration layered over DefaultConfig, then applies
// TUYA_BLE_* environment overrides.
type Loader struct {
	useDotEnv bool
	pinned    bool
	paths     []string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader searching the default config locations.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		paths:     defaultPaths,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath pins the loader to a single config file, ignoring TUYA_BLE_CONFIG.
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.paths = []string{path}
		l.pinned = true
	}
	return l
}

// WithEnv overrides environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load resolves the configuration. A missing file is not an error; defaults apply.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// .env is optional
		_ = godotenv.Load()
	}

	paths := l.paths
	if p, ok := l.lookupEnv(EnvConfigPath); ok && p != "" && !l.pinned {
		paths = []string{p}
	}

	cfg := DefaultConfig()
	var used string
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrap(errors.KindConfig, "config.load", "read "+p, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrap(errors.KindConfig, "config.load", "parse "+p, err)
		}
		used = p
		break
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: used}, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v, ok := l.lookupEnv(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_DIR", &cfg.Log.Dir)
	str("SERVER_IP", &cfg.Server.IP)
	str("DEFAULT_REGION", &cfg.Cloud.DefaultRegion)
	str("AUTH_SECRET", &cfg.Auth.Secret)
	str("ENTRIES_DRIVER", &cfg.Entries.Driver)
	str("ENTRIES_SQLITE_DSN", &cfg.Entries.SQLite.DSN)
	str("ENTRIES_REDIS_ADDR", &cfg.Entries.Redis.Addr)
	str("ENTRIES_REDIS_PASSWORD", &cfg.Entries.Redis.Password)

	if v, ok := l.lookupEnv(envPrefix + "SERVER_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(errors.KindConfig, "config.env", envPrefix+"SERVER_PORT", err)
		}
		cfg.Server.Port = port
	}
	if v, ok := l.lookupEnv(envPrefix + "REQUEST_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(errors.KindConfig, "config.env", envPrefix+"REQUEST_TIMEOUT", err)
		}
		cfg.Cloud.RequestTimeout = d
	}
	if v, ok := l.lookupEnv(envPrefix + "AUTH_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(errors.KindConfig, "config.env", envPrefix+"AUTH_ENABLED", err)
		}
		cfg.Auth.Enabled = enabled
	}
	if v, ok := l.lookupEnv(envPrefix + "OBS_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(errors.KindConfig, "config.env", envPrefix+"OBS_ENABLED", err)
		}
		cfg.Obs.Enabled = enabled
	}
	return nil
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New(errors.KindConfig, "config.validate", fmt.Sprintf("invalid server port %d", cfg.Server.Port))
	}
	if cfg.Cloud.RequestTimeout <= 0 {
		return errors.New(errors.KindConfig, "config.validate", "cloud.request_timeout must be positive")
	}
	if cfg.Cloud.RateLimit < 0 || cfg.Cloud.Burst < 0 {
		return errors.New(errors.KindConfig, "config.validate", "cloud rate limit must not be negative")
	}
	switch strings.ToLower(cfg.Entries.Driver) {
	case "", "memory", "sqlite", "redis":
	default:
		return errors.New(errors.KindConfig, "config.validate", "unsupported entries driver: "+cfg.Entries.Driver)
	}
	if strings.EqualFold(cfg.Entries.Driver, "redis") && cfg.Entries.Redis.Addr == "" {
		return errors.New(errors.KindConfig, "config.validate", "entries.redis.addr required for redis driver")
	}
	if cfg.Auth.Enabled && cfg.Auth.Secret == "" {
		return errors.New(errors.KindConfig, "config.validate", "auth.secret required when auth is enabled")
	}
	return nil
}
