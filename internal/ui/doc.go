// Package ui provides the terminal styling for embrun's run output.
//
// embrun streams device logs and, when the target halts, prints a
// symbolized backtrace followed by a one-line outcome. This package holds
// the lipgloss styles those three surfaces share: per-level log record
// styles, backtrace frame styles, and the outcome line styles. The session
// package does the actual rendering.
//
// Logging is controlled separately via the EMBRUN_LOG_LEVEL environment
// variable. When unset, zap logging is silent so the styled run output
// stays clean.
package ui
