// Package cmd implements the loadctl command-line interface for the data
// loader module. It provides a hierarchical command structure for streaming
// data into a running grid and for benchmarking the loader's throughput.
//
// The package is organized into subpackages:
//
//   - load: streams NDJSON key/value pairs from stdin through a loader
//   - bench: runs a parallel throughput microbenchmark against a loader
//   - util: shared flag wiring and configuration helpers (internal use)
//
// See loadctl -help for a list of all commands.
package cmd
