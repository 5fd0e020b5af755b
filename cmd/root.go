package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/griddata/loader/cmd/bench"
	"github.com/griddata/loader/cmd/load"
)

const (
	Version = "0.1.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "loadctl",
		Short: "client-side bulk data loader for a partitioned, in-memory data grid",
		Long: fmt.Sprintf(`loadctl (v%s)

A command-line client for the data loader: streams key/value batches into
a running grid with automatic partitioning, per-node buffering and
at-least-once delivery on node departure.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of loadctl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("loadctl v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(load.LoadCmd)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
