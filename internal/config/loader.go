package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load builds the Running Configuration, starting from the built-in
// defaults, then overriding with an optional TOML file, then
// environment variables, then parsed flags — each layer only
// overriding a field it explicitly sets, per spec.md §6.
func Load(applicationName string, arguments []string) (*Config, error) {
	c := NewDefault()

	flags, err := ParseFlags(applicationName, arguments)
	if err != nil {
		return nil, err
	}

	path := flags.ConfigPath
	if path == "" {
		path = os.Getenv("GATEKEEPER_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, err
		}
	}

	loadEnvVars(c)
	applyFlags(c, flags)

	return c, nil
}

// loadEnvVars overrides c with any GATEKEEPER_* environment variables
// that are set, per spec.md §6's "env vars override file" layering.
func loadEnvVars(c *Config) {
	if v, ok := os.LookupEnv("GATEKEEPER_HOST"); ok {
		c.Listen.Host = v
	}
	if v, ok := os.LookupEnv("GATEKEEPER_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Listen.Port = n
		}
	}
	if v, ok := os.LookupEnv("GATEKEEPER_IDLE_TIMEOUT_SECS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Listen.IdleTimeoutSecs = n
		}
	}
	if v, ok := os.LookupEnv("GATEKEEPER_BLOCKLIST"); ok {
		c.Policy.BlocklistPath = v
	}
	if v, ok := os.LookupEnv("GATEKEEPER_CACHE_MAX_ENTRIES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.MaxEntries = n
		}
	}
	if v, ok := os.LookupEnv("GATEKEEPER_CACHE_MAX_BYTES"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Cache.MaxBytes = n
		}
	}
	if v, ok := os.LookupEnv("GATEKEEPER_CACHE_TTL_SECS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.TTLSecs = n
		}
	}
	if v, ok := os.LookupEnv("GATEKEEPER_CACHE_COMPRESSION"); ok {
		c.Cache.Compression = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := os.LookupEnv("GATEKEEPER_LOG_FILE"); ok {
		c.Logging.File = v
	}
	if v, ok := os.LookupEnv("GATEKEEPER_LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := os.LookupEnv("GATEKEEPER_METRICS_HOST"); ok {
		c.Metrics.Host = v
	}
	if v, ok := os.LookupEnv("GATEKEEPER_METRICS_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Metrics.Port = n
		}
	}
}

// applyFlags overrides c with any flags the caller explicitly
// supplied, winning over both the file and the environment.
func applyFlags(c *Config, f *Flags) {
	if f.was("host") {
		c.Listen.Host = f.Host
	}
	if f.was("port") || f.was("p") {
		c.Listen.Port = f.Port
	}
	if f.was("blocklist") {
		c.Policy.BlocklistPath = f.BlocklistPath
	}
	if f.was("cache-max-entries") {
		c.Cache.MaxEntries = f.CacheMaxEntries
	}
	if f.was("cache-max-bytes") {
		c.Cache.MaxBytes = f.CacheMaxBytes
	}
	if f.was("cache-ttl-secs") {
		c.Cache.TTLSecs = f.CacheTTLSecs
	}
	if f.was("log-file") {
		c.Logging.File = f.LogFile
	}
	if f.was("log-level") {
		c.Logging.Level = f.LogLevel
	}
	if f.was("metrics-host") {
		c.Metrics.Host = f.MetricsHost
	}
	if f.was("metrics-port") {
		c.Metrics.Port = f.MetricsPort
	}
}
