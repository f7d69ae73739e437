// Embrun flashes firmware onto a microcontroller, streams its log output,
// and turns crashes into readable backtraces.
//
// It drives the target through a debug probe (a local GDB remote stub such
// as OpenOCD, or a networked embrun bridge) and behaves like a native test
// runner: the process exit status mirrors the firmware's outcome, so
// `embrun firmware.elf` slots directly into scripts and CI.
//
//   - firmware returns normally: embrun exits with the firmware's exit code
//   - firmware panics: exit 101, with a symbolized backtrace
//   - firmware hits a hardware fault: exit 102
//   - interrupted while the firmware still runs: exit 130
//
// See 'embrun --help' for flags and 'embrun probes' for bridge discovery.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/feldspar-dev/embrun/internal/config"
	"github.com/feldspar-dev/embrun/internal/debuginfo"
	"github.com/feldspar-dev/embrun/internal/discovery"
	"github.com/feldspar-dev/embrun/internal/logging"
	"github.com/feldspar-dev/embrun/internal/outcome"
	"github.com/feldspar-dev/embrun/internal/probe"
	"github.com/feldspar-dev/embrun/internal/probe/gdbremote"
	"github.com/feldspar-dev/embrun/internal/probe/wsbridge"
	"github.com/feldspar-dev/embrun/internal/session"
	"github.com/feldspar-dev/embrun/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.Sync()
		os.Exit(outcome.ExitToolFailure)
	}
}

var (
	flagChip      string
	flagProbe     string
	flagBridge    string
	flagTimeout   time.Duration
	flagMaxFrames int
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "embrun [flags] firmware.elf",
	Short: "Flash, run and diagnose embedded firmware",
	Long: `Embrun flashes an ELF image onto a microcontroller, streams its log
output, and reports how the run ended. When the firmware panics or
faults, embrun reconstructs the call stack from the halted target and
prints a symbolized backtrace.

The process exit status mirrors the firmware: its own exit code on a
normal return, 101 for a panic, 102 for a hardware fault, 130 when
interrupted while still running.

The target is reached through either a local GDB remote stub (--probe,
e.g. OpenOCD on localhost:3333) or a networked embrun bridge (--bridge,
discovered over mDNS or given as a ws:// URL).

Diagnostics from embrun itself are controlled by the EMBRUN_LOG_LEVEL
environment variable and go to stderr, never mixed into the firmware's
log stream.`,
	Version: version.Version,
	Args:    cobra.ExactArgs(1),
	Example: `  # Run against OpenOCD on the default port
  embrun firmware.elf

  # Pick the chip profile and bound the run to 30 seconds
  embrun --chip nrf52840 --timeout 30s firmware.elf

  # Run on a networked bridge found via mDNS
  embrun --bridge nrf52-bench-3 firmware.elf`,
	SilenceUsage: true,
	RunE:         runFirmware,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().StringVar(&flagChip, "chip", "generic-armv7m", "chip profile from the registry (see 'embrun chips')")
	rootCmd.Flags().StringVar(&flagProbe, "probe", "localhost:3333", "GDB remote stub address")
	rootCmd.Flags().StringVar(&flagBridge, "bridge", "", "embrun bridge name or ws:// URL (overrides --probe)")
	rootCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "halt the target after this long (0 = run until halt)")
	rootCmd.Flags().IntVar(&flagMaxFrames, "max-frames", 0, "backtrace frame limit (0 = default)")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "dump raw telemetry frames alongside decoded records")

	rootCmd.AddCommand(probesCmd)
	rootCmd.AddCommand(chipsCmd)
	rootCmd.AddCommand(versionCmd)
}

func runFirmware(cmd *cobra.Command, args []string) error {
	if err := logging.InitializeFromEnv(); err != nil {
		return err
	}
	defer logging.Sync()

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("cannot read firmware: %w", err)
	}

	img, err := debuginfo.Build(image)
	if err != nil {
		return err
	}

	registry, err := config.LoadRegistry()
	if err != nil {
		return err
	}
	chip, err := registry.Lookup(flagChip)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prb, err := attachProbe(ctx)
	if err != nil {
		return err
	}

	ctrl, err := session.New(prb, img, session.Options{
		Chip:      chip,
		Timeout:   flagTimeout,
		MaxFrames: flagMaxFrames,
		Verbose:   flagVerbose,
		Out:       os.Stdout,
	}, logging.GetLogger())
	if err != nil {
		return err
	}

	status, err := ctrl.Run(ctx, image)
	if err != nil {
		return err
	}

	logging.Sync()
	os.Exit(status)
	return nil
}

// attachProbe picks the transport: a bridge when --bridge is set (by URL or
// by mDNS name), a GDB remote stub otherwise.
func attachProbe(ctx context.Context) (probe.Probe, error) {
	if flagBridge == "" {
		cfg := gdbremote.DefaultConfig()
		cfg.Addr = flagProbe
		return gdbremote.Dial(ctx, cfg, logging.GetLogger())
	}

	url := flagBridge
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		bridge, err := discovery.NewScanner().Find(ctx, flagBridge)
		if err != nil {
			return nil, err
		}
		url = bridge.URL()
	}
	return wsbridge.Dial(ctx, url, logging.GetLogger())
}
