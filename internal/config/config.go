// Package config implements the layered configuration loader (C8):
// built-in defaults, overridden by an optional TOML file, overridden by
// environment variables, overridden by command-line flags.
package config

import "time"

// Config is the fully resolved Running Configuration.
type Config struct {
	Listen  ListenConfig  `toml:"listen"`
	Policy  PolicyConfig  `toml:"policy"`
	Cache   CacheConfig   `toml:"cache"`
	Logging LoggingConfig `toml:"logging"`
	Metrics MetricsConfig `toml:"metrics"`
}

// ListenConfig describes the proxy's own accept address and the
// per-connection idle budget shared by the parser, forwarder, and
// tunnel relay.
type ListenConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	IdleTimeoutSecs int    `toml:"idle_timeout_secs"`
}

// PolicyConfig points at the on-disk blocklist.
type PolicyConfig struct {
	BlocklistPath string `toml:"blocklist_path"`
}

// CacheConfig tunes the response cache (C3).
type CacheConfig struct {
	MaxEntries  int   `toml:"max_entries"`
	MaxBytes    int64 `toml:"max_bytes"`
	TTLSecs     int   `toml:"ttl_secs"`
	Compression bool  `toml:"compression"`
}

// LoggingConfig selects the log sink (C9).
type LoggingConfig struct {
	File  string `toml:"file"`
	Level string `toml:"level"`
}

// MetricsConfig selects the metrics HTTP surface (C10).
type MetricsConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// IdleTimeout is ListenConfig.IdleTimeoutSecs as a time.Duration,
// shared across the parser's read deadline, the forwarder's capture
// loop, and the tunnel's dial budget.
func (l ListenConfig) IdleTimeout() time.Duration {
	return time.Duration(l.IdleTimeoutSecs) * time.Second
}

// CacheTTL is CacheConfig.TTLSecs as a time.Duration.
func (c CacheConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// NewDefault returns a Config populated with the built-in defaults
// (spec.md §6 / SPEC_FULL.md §6).
func NewDefault() *Config {
	return &Config{
		Listen: ListenConfig{
			Host:            defaultListenHost,
			Port:            defaultListenPort,
			IdleTimeoutSecs: defaultIdleTimeoutSecs,
		},
		Policy: PolicyConfig{
			BlocklistPath: defaultBlocklistPath,
		},
		Cache: CacheConfig{
			MaxEntries:  defaultCacheMaxEntries,
			MaxBytes:    defaultCacheMaxBytes,
			TTLSecs:     defaultCacheTTLSecs,
			Compression: defaultCacheCompression,
		},
		Logging: LoggingConfig{
			File:  defaultLogFile,
			Level: defaultLogLevel,
		},
		Metrics: MetricsConfig{
			Host: defaultMetricsHost,
			Port: defaultMetricsPort,
		},
	}
}
