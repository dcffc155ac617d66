package config

import "time"

// DefaultConfig returns the configuration used when no file overrides a value.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8123,
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "tuya-ble-credd.log",
		},
		Cloud: CloudConfig{
			DefaultRegion:  "eu",
			RequestTimeout: 10 * time.Second,
			RateLimit:      10,
			Burst:          5,
			MaxIdleConns:   4,
		},
		Auth: AuthConfig{
			Enabled:  false,
			TokenTTL: 24 * time.Hour,
		},
		Entries: EntriesConfig{
			Driver: "memory",
			SQLite: EntriesSQLiteStore{DSN: "data/entries.db"},
			Redis:  EntriesRedisStore{Prefix: "tuya_ble:entry:"},
		},
		Events: EventsConfig{
			Workers: 2,
		},
	}
}
