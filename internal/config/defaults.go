package config

const (
	defaultListenHost      = "127.0.0.1"
	defaultListenPort      = 8080
	defaultIdleTimeoutSecs = 45

	defaultBlocklistPath = "blocklist.txt"

	defaultCacheMaxEntries  = 10000
	defaultCacheMaxBytes    = 64 << 20
	defaultCacheTTLSecs     = 300
	defaultCacheCompression = true

	defaultLogFile  = ""
	defaultLogLevel = "INFO"

	defaultMetricsHost = "127.0.0.1"
	defaultMetricsPort = 8081
)
