package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/feldspar-dev/embrun/internal/config"
	"github.com/feldspar-dev/embrun/internal/discovery"
	"github.com/feldspar-dev/embrun/internal/logging"
	"github.com/feldspar-dev/embrun/internal/version"
)

var flagScanTimeout time.Duration

var probesCmd = &cobra.Command{
	Use:   "probes",
	Short: "List embrun bridges on the local network",
	Long: `Scans the local network for embrun bridge daemons via mDNS
(_embrun-bridge._tcp) and lists what it finds. Use a bridge's name with
'embrun --bridge <name>' to run firmware on it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.InitializeFromEnv(); err != nil {
			return err
		}
		defer logging.Sync()

		scanner := discovery.NewScanner()
		scanner.Timeout = flagScanTimeout

		ctx, cancel := context.WithTimeout(cmd.Context(), flagScanTimeout+time.Second)
		defer cancel()

		fmt.Printf("Scanning for bridges (%s)...\n", flagScanTimeout)
		bridges, err := scanner.Scan(ctx)
		if err != nil {
			return err
		}
		if len(bridges) == 0 {
			fmt.Println("No bridges found.")
			return nil
		}
		for _, b := range bridges {
			fmt.Printf("  %s\n", b)
		}
		return nil
	},
}

var chipsCmd = &cobra.Command{
	Use:   "chips",
	Short: "List known chip profiles",
	Long: `Lists the chip profiles available to --chip: the built-in targets plus
any user-defined entries from the chips.yaml config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := config.LoadRegistry()
		if err != nil {
			return err
		}
		for _, name := range registry.Names() {
			fmt.Println(name)
		}
		if path, err := config.GetConfigPath(); err == nil {
			fmt.Printf("\nUser chips are read from %s\n", path)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("embrun %s\n", version.Full())
	},
}

func init() {
	probesCmd.Flags().DurationVar(&flagScanTimeout, "scan-timeout", discovery.DefaultScanTimeout, "how long to browse for bridges")
}
