// Package util holds shared flag wiring and configuration helpers used by
// every loadctl subcommand.
package util

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/griddata/loader/config"
)

const (
	// Wrap is the number of characters to wrap help text at.
	Wrap int = 50
)

// WrapString wraps text at Wrap characters, for use in cobra flag usage
// strings.
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupLoaderFlags adds the flags every subcommand that builds a Loader
// needs.
func SetupLoaderFlags(cmd *cobra.Command) {
	key := "cache"
	cmd.PersistentFlags().String(key, "default", WrapString("Name of the cache to load into"))

	key = "seeds"
	cmd.PersistentFlags().String(key, "", WrapString("Comma-separated list of memberlist seed addresses to join (empty starts a self-hosting single node)"))

	key = "bind-addr"
	cmd.PersistentFlags().String(key, "0.0.0.0", WrapString("Local address the memberlist gossip agent binds to"))

	key = "bind-port"
	cmd.PersistentFlags().Int(key, 7946, WrapString("Local port the memberlist gossip agent binds to"))

	key = "listen-addr"
	cmd.PersistentFlags().String(key, "0.0.0.0:7950", WrapString("Local address the load-request TCP transport listens on"))

	key = "buf-size"
	cmd.PersistentFlags().Int(key, 512, WrapString("Per-node batch size before a buffer auto-flushes"))

	key = "parallel-ops"
	cmd.PersistentFlags().Int64(key, 16, WrapString("Max in-flight batches per destination node"))

	key = "auto-flush-ms"
	cmd.PersistentFlags().Int64(key, 0, WrapString("Scheduled flush interval in milliseconds (0 disables)"))

	key = "skip-store"
	cmd.PersistentFlags().Bool(key, false, WrapString("Bypass the underlying store on the updater side"))

	key = "max-remaps"
	cmd.PersistentFlags().Int(key, 32, WrapString("Remap budget before load0 gives up and fails a batch"))

	key = "public-pool-size"
	cmd.PersistentFlags().Int(key, 16, WrapString("Concurrent slots in the data-path worker pool"))

	key = "system-pool-size"
	cmd.PersistentFlags().Int(key, 4, WrapString("Concurrent slots in the control-plane worker pool"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("Log level (debug, info, warn, error)"))

	key = "metrics-addr"
	cmd.PersistentFlags().String(key, "", WrapString("Address to serve a Prometheus /metrics endpoint on (empty disables)"))
}

// InitConfig loads .env/.env.local and wires viper's environment binding.
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("griddata")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper.
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetConfig builds a config.Config from whatever flags/env/files viper has
// bound so far.
func GetConfig() *config.Config {
	cfg := config.Default()

	cfg.CacheName = viper.GetString("cache")
	if seeds := viper.GetString("seeds"); seeds != "" {
		cfg.Seeds = strings.Split(seeds, ",")
	}
	cfg.BindAddr = viper.GetString("bind-addr")
	cfg.BindPort = viper.GetInt("bind-port")
	cfg.ListenAddr = viper.GetString("listen-addr")
	cfg.BufSize = viper.GetInt("buf-size")
	cfg.ParallelOps = viper.GetInt64("parallel-ops")
	cfg.AutoFlushFreqMillis = viper.GetInt64("auto-flush-ms")
	cfg.SkipStore = viper.GetBool("skip-store")
	cfg.MaxRemaps = viper.GetInt("max-remaps")
	cfg.PublicPoolSize = viper.GetInt("public-pool-size")
	cfg.SystemPoolSize = viper.GetInt("system-pool-size")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.MetricsAddr = viper.GetString("metrics-addr")

	return cfg
}
