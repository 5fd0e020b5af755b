// Package config holds the plain struct loadctl and embedding applications
// build a Loader from: a flat struct with a String() pretty-printer for
// diagnostics, populated by the cmd tree via viper rather than parsed here.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config holds every tunable the loadctl CLI and the loader package care
// about. It has no knowledge of viper/cobra; cmd/ is responsible for
// populating one of these from flags, env vars and .env files.
type Config struct {
	// CacheName is the target cache this loader instance loads into.
	CacheName string

	// Seeds is the comma-separated memberlist seed list used to join the
	// grid's gossip ring.
	Seeds []string
	// BindAddr/BindPort is this process's own memberlist bind address.
	BindAddr string
	BindPort int

	// ListenAddr is the local TCP address the load-request transport
	// listens on.
	ListenAddr string

	// BufSize is the per-node batch size before a buffer auto-flushes.
	BufSize int
	// ParallelOps bounds concurrent in-flight batches per destination node.
	ParallelOps int64
	// AutoFlushFreqMillis is the scheduled flush interval; 0 disables it.
	AutoFlushFreqMillis int64
	// SkipStore mirrors CacheWriteSynchronizationMode bypass of the
	// underlying store on the updater side.
	SkipStore bool
	// MaxRemaps bounds load0's remap recursion before giving up.
	MaxRemaps int

	// PublicPoolSize/SystemPoolSize size the worker pool's two semaphores.
	PublicPoolSize int
	SystemPoolSize int

	// LogLevel is one of debug/info/warn/error.
	LogLevel string

	// MetricsAddr, if non-empty, is the address an HTTP /metrics endpoint
	// is served on for Prometheus scraping.
	MetricsAddr string
}

// HasSeeds reports whether any memberlist seed was configured, the loadctl
// equivalent of ServerConfig.HasRemoteShard: a loader can run against a
// single, self-hosting node with no seeds at all.
func (c *Config) HasSeeds() bool {
	return len(c.Seeds) > 0
}

// String returns a formatted representation of the configuration for
// startup diagnostics, in the same section/field layout the RPC layer's
// ServerConfig.String uses.
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Cache")
	addField("Cache Name", c.CacheName)
	addField("Skip Store", strconv.FormatBool(c.SkipStore))

	addSection("Membership")
	addField("Bind Address", fmt.Sprintf("%s:%d", c.BindAddr, c.BindPort))
	if c.HasSeeds() {
		addField("Seeds", strings.Join(c.Seeds, ", "))
	} else {
		addField("Seeds", "(none, self-hosting)")
	}

	addSection("Transport")
	addField("Listen Address", c.ListenAddr)

	addSection("Buffering")
	addField("Per-Node Buffer Size", strconv.Itoa(c.BufSize))
	addField("Per-Node Parallel Ops", strconv.FormatInt(c.ParallelOps, 10))
	addField("Auto Flush (ms)", strconv.FormatInt(c.AutoFlushFreqMillis, 10))
	addField("Max Remaps", strconv.Itoa(c.MaxRemaps))

	addSection("Worker Pool")
	addField("Public Pool Size", strconv.Itoa(c.PublicPoolSize))
	addField("System Pool Size", strconv.Itoa(c.SystemPoolSize))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	if c.MetricsAddr != "" {
		addSection("Metrics")
		addField("Listen Address", c.MetricsAddr)
	}

	return sb.String()
}

// Default returns a Config with the same tuning defaults the original
// source's GridDataLoaderImpl constructor applies (bufSize=512,
// parallelOps=16, autoFlushFreq disabled).
func Default() *Config {
	return &Config{
		BufSize:             512,
		ParallelOps:         16,
		AutoFlushFreqMillis: 0,
		MaxRemaps:           32,
		PublicPoolSize:      16,
		SystemPoolSize:      4,
		LogLevel:            "info",
		BindAddr:            "0.0.0.0",
		BindPort:            7946,
		ListenAddr:          "0.0.0.0:7950",
	}
}
