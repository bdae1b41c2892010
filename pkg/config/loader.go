package config

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.connectionLimit.maxPerIP", 0)
	// 0 disables the read deadline; idle connections are culled by the
	// health monitor's ping sweep, not by the transport.
	v.SetDefault("transport.readTimeout", "0s")
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.pingTimeout", "10s")
	v.SetDefault("persistence.dsn", "")
	v.SetDefault("persistence.opTimeout", "5s")
	v.SetDefault("persistence.recentLimit", 50)

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("GRIDRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
