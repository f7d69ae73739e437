// Package logging provides structured diagnostic logging for embrun.
//
// This package wraps zap logger with convenience functions for the logging
// patterns used throughout the tool. Diagnostic logging is strictly separate
// from the target's own log stream: target log records are session output and
// are printed to stdout by the session report, while zap output goes to stderr
// and is silent unless explicitly enabled.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (hex dumps, frame carving, RSP packets)
//   - Info: Normal operations (attach, flash, halt detection)
//   - Warn: Non-fatal issues (transient telemetry read failures, retries)
//   - Error: Fatal issues (attach failures, malformed binaries)
//
// # Configuration
//
// Logging is silent by default. Set EMBRUN_LOG_LEVEL=debug (or pass --verbose
// on the command line) to see diagnostic output:
//
//	if err := logging.InitializeFromEnv(); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("target halted",
//	    zap.String("reason", "breakpoint"),
//	    zap.Uint32("pc", pc),
//	)
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap logger
// handles synchronization automatically.
package logging
