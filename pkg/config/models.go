package config

import "time"

type Config struct {
	LogLevel    string            `mapstructure:"logLevel"`
	Server      ServerConfig      `mapstructure:"server"`
	Transport   TransportConfig   `mapstructure:"transport"`
	Health      HealthConfig      `mapstructure:"health"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

type ServerConfig struct {
	Address         string                `mapstructure:"address"`
	ShutdownTimeout time.Duration         `mapstructure:"shutdownTimeout"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type ConnectionLimitConfig struct {
	// MaxPerIP caps concurrent connections per client IP; 0 disables the cap.
	MaxPerIP int `mapstructure:"maxPerIP"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	SendBuffer  int           `mapstructure:"sendBuffer"`
}

type HealthConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	PingTimeout time.Duration `mapstructure:"pingTimeout"`
}

type PersistenceConfig struct {
	// DSN is the Postgres connection string; empty selects the in-memory store.
	DSN         string        `mapstructure:"dsn"`
	OpTimeout   time.Duration `mapstructure:"opTimeout"`
	RecentLimit int           `mapstructure:"recentLimit"`
}
