package config

import (
	"time"
)

type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Cloud   CloudConfig   `yaml:"cloud" mapstructure:"cloud"`
	Auth    AuthConfig    `yaml:"auth" mapstructure:"auth"`
	Entries EntriesConfig `yaml:"entries" mapstructure:"entries"`
	Events  EventsConfig  `yaml:"events" mapstructure:"events"`
	Obs     ObsConfig     `yaml:"observability" mapstructure:"observability"`
}

type ServerConfig struct {
	IP   string `yaml:"ip" mapstructure:"ip"`
	Port int    `yaml:"port" mapstructure:"port"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

// CloudConfig tunes the outbound Tuya cloud client.
type CloudConfig struct {
	DefaultRegion  string        `yaml:"default_region" mapstructure:"default_region"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst          int           `yaml:"burst" mapstructure:"burst"`
	MaxIdleConns   int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	// CacheTTL expires filled cache entries; zero keeps them for the process lifetime.
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// AuthConfig protects the HTTP API with operator bearer tokens.
type AuthConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Secret   string        `yaml:"secret" mapstructure:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
}

// EntriesConfig selects the config-entry registry backend.
type EntriesConfig struct {
	Driver string             `yaml:"driver" mapstructure:"driver"`
	SQLite EntriesSQLiteStore `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Redis  EntriesRedisStore  `yaml:"redis,omitempty" mapstructure:"redis"`
}

type EntriesSQLiteStore struct {
	DSN string `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

type EntriesRedisStore struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
	Prefix   string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

type EventsConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// ObsConfig enables span and metric logging at debug level.
type ObsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}
