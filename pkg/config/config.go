// Package config loads the flagsdkd CLI's settings, layered the way
// the rest of this module's components expect: flags override
// environment variables, which override a config file, which overrides
// these defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is every setting the flagsdkd process needs to wire up its
// store, cache, data source, housekeeper, and status server.
type Config struct {
	LogLevel string

	DataSourceMode string // "sse" or "file"
	StreamBaseURL  string
	StreamAuthKey  string
	FilePath       string

	CacheMode string // "uncached", "finite", "infinite"
	CacheTTL  time.Duration

	RedisURL       string
	RedisKeyPrefix string

	HousekeeperCron string
	StatusAddr      string
}

func defaults() Config {
	return Config{
		LogLevel:        "info",
		DataSourceMode:  "file",
		FilePath:        "flags.json",
		CacheMode:       "finite",
		CacheTTL:        30 * time.Second,
		RedisKeyPrefix:  "flagkit",
		HousekeeperCron: "@every 1m",
		StatusAddr:      ":8013",
	}
}

// RegisterFlags adds every config field as a CLI flag on fs, so callers
// can do config.Load(cmd.Flags(), configFilePath).
func RegisterFlags(fs *pflag.FlagSet) {
	d := defaults()
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.String("data-source-mode", d.DataSourceMode, "data source: sse or file")
	fs.String("stream-base-url", "", "base URL for the SSE data source (without /all)")
	fs.String("stream-auth-key", "", "bearer token sent with the SSE connection")
	fs.String("file-path", d.FilePath, "path to the local dataset file for the file data source")
	fs.String("cache-mode", d.CacheMode, "cache mode: uncached, finite, or infinite")
	fs.Duration("cache-ttl", d.CacheTTL, "cache TTL in finite mode")
	fs.String("redis-url", "", "Redis connection URL; empty disables the persistent core")
	fs.String("redis-key-prefix", d.RedisKeyPrefix, "key prefix for all Redis keys this process touches")
	fs.String("housekeeper-cron", d.HousekeeperCron, "cron spec for the housekeeper's periodic report")
	fs.String("status-addr", d.StatusAddr, "address for the liveness/readiness HTTP server")
}

// Load builds a Config from, in increasing priority: built-in defaults,
// an optional config file, environment variables (FLAGSDKD_ prefixed),
// then flags already parsed into fs.
func Load(fs *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("flagsdkd")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("config: binding flags: %w", err)
	}

	cfg := defaults()
	cfg.LogLevel = v.GetString("log-level")
	cfg.DataSourceMode = v.GetString("data-source-mode")
	cfg.StreamBaseURL = v.GetString("stream-base-url")
	cfg.StreamAuthKey = v.GetString("stream-auth-key")
	cfg.FilePath = v.GetString("file-path")
	cfg.CacheMode = v.GetString("cache-mode")
	cfg.CacheTTL = v.GetDuration("cache-ttl")
	cfg.RedisURL = v.GetString("redis-url")
	cfg.RedisKeyPrefix = v.GetString("redis-key-prefix")
	cfg.HousekeeperCron = v.GetString("housekeeper-cron")
	cfg.StatusAddr = v.GetString("status-addr")
	return cfg, nil
}
