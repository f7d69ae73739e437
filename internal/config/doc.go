// Package config provides the chip catalog for embrun.
//
// A chip entry ties a --chip name to the target-specific facts the
// diagnostic engine needs: the SRAM address range and the symbol names that
// delimit the firmware lifecycle (reset/entry, normal exit, panic handler).
// A built-in catalog covers common cortex-m parts; users can add or override
// entries through a YAML file.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/embrun/chips.yaml or $HOME/.config/embrun/chips.yaml
//   - macOS: $HOME/.config/embrun/chips.yaml
//   - Windows: %LOCALAPPDATA%\embrun\chips.yaml
//
// # File Format
//
//	chips:
//	  my-board:
//	    ram: {start: 0x20000000, end: 0x20010000}
//	    entry_symbols: [Reset]
//	    exit_symbols: [__embrun_exit]
//	    panic_symbols: [__embrun_panic, rust_begin_unwind]
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across
// goroutines and is read-only after load.
package config
