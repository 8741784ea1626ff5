package config

import "flag"

// Flags is the set of command-line overrides recognized by the proxy's
// entry point (C11), mirroring the teacher's own "parse once, apply
// last" flag convention. A flag only overrides a value already set by
// defaults, file, or environment when it was explicitly provided on
// the command line (Visit, not VisitAll).
type Flags struct {
	ConfigPath string

	Host string
	Port int

	BlocklistPath string

	CacheMaxEntries int
	CacheMaxBytes   int64
	CacheTTLSecs    int

	LogFile  string
	LogLevel string

	MetricsHost string
	MetricsPort int

	set map[string]bool
}

// ParseFlags parses arguments (normally os.Args[1:]) into a Flags
// value, tracking which flags the caller actually supplied.
func ParseFlags(applicationName string, arguments []string) (*Flags, error) {
	fs := flag.NewFlagSet(applicationName, flag.ContinueOnError)
	f := &Flags{}

	fs.StringVar(&f.ConfigPath, "config", "", "path to a TOML configuration file")
	fs.StringVar(&f.Host, "host", "", "bind address for the proxy listener")
	fs.IntVar(&f.Port, "port", 0, "TCP port for the proxy listener")
	fs.IntVar(&f.Port, "p", 0, "shorthand for -port")
	fs.StringVar(&f.BlocklistPath, "blocklist", "", "path to the blocklist file")
	fs.IntVar(&f.CacheMaxEntries, "cache-max-entries", 0, "maximum number of cached entries")
	fs.Int64Var(&f.CacheMaxBytes, "cache-max-bytes", 0, "maximum total bytes held in the cache")
	fs.IntVar(&f.CacheTTLSecs, "cache-ttl-secs", 0, "cache entry freshness window, in seconds")
	fs.StringVar(&f.LogFile, "log-file", "", "path to the request/diagnostic log file (empty for stderr)")
	fs.StringVar(&f.LogLevel, "log-level", "", "minimum log level: debug, info, warn, error")
	fs.StringVar(&f.MetricsHost, "metrics-host", "", "bind address for the metrics HTTP surface")
	fs.IntVar(&f.MetricsPort, "metrics-port", 0, "TCP port for the metrics HTTP surface")

	if err := fs.Parse(arguments); err != nil {
		return nil, err
	}

	f.set = make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	return f, nil
}

func (f *Flags) was(name string) bool {
	return f.set != nil && f.set[name]
}
