// Package load implements loadctl's "load" subcommand: stream NDJSON
// key/value pairs from stdin through a Loader into a running grid, the CLI
// entry point to the same addData/flush cycle the loader package exposes
// as a library.
package load

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/griddata/loader/cmd/util"
	"github.com/griddata/loader/config"
	"github.com/griddata/loader/internal/wiring"
)

var (
	loadCfg *config.Config

	// LoadCmd represents the load command
	LoadCmd = &cobra.Command{
		Use:     "load",
		Short:   "Stream NDJSON key/value pairs from stdin into a cache",
		Long:    `Reads one JSON object per line from stdin, each shaped {"key": ..., "value": ...} ("value" omitted or null removes the key), and streams it through a Loader into the target cache. Configuration can be set via flags or environment variables in the form GRIDDATA_<flag> (e.g. GRIDDATA_CACHE=orders).`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupLoaderFlags(LoadCmd)

	key := "report-every"
	LoadCmd.Flags().Int(key, 10000, util.WrapString("Print a progress line every N ingested entries (0 disables)"))
}

// processConfig reads the configuration from the command line flags and
// environment variables.
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	loadCfg = util.GetConfig()
	return nil
}

// record is one line of NDJSON input.
type record struct {
	Key   string           `json:"key"`
	Value *json.RawMessage `json:"value"`
}

func run(cmd *cobra.Command, _ []string) error {
	fmt.Println(loadCfg.String())

	grid, err := wiring.Build(loadCfg, nil)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	ctx := context.Background()
	defer func() {
		if err := grid.Close(ctx, false); err != nil {
			log.Printf("load: close: %v\n", err)
		}
	}()

	reportEvery := viper.GetInt("report-every")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var count int
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("load: decode line %d: %w", count+1, err)
		}

		var value *any
		if rec.Value != nil {
			var v any
			if err := json.Unmarshal(*rec.Value, &v); err != nil {
				return fmt.Errorf("load: decode value for key %q: %w", rec.Key, err)
			}
			value = &v
		}

		if err := grid.Loader.AddOne(ctx, rec.Key, value).Wait(ctx); err != nil {
			log.Printf("load: key %q: %v\n", rec.Key, err)
		}

		count++
		if reportEvery > 0 && count%reportEvery == 0 {
			fmt.Printf("loaded %d entries\n", count)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("load: reading stdin: %w", err)
	}

	if err := grid.Loader.Flush(ctx); err != nil {
		return fmt.Errorf("load: final flush: %w", err)
	}

	fmt.Printf("done: %d entries loaded\n", count)
	return nil
}
