// Package session orchestrates one firmware run from flash to exit status.
//
// The Controller owns the probe for the whole session. Its run loop is a
// single goroutine that alternates telemetry pulls with halt polls, because
// the probe transport can only serve one request at a time. When the target
// halts (breakpoint, fault, timeout or host interrupt), the controller takes
// an immediate register snapshot, walks the stack, classifies the outcome
// and renders the report, then resets and detaches so the firmware keeps
// running standalone.
//
// The returned exit status mirrors the firmware: its own exit code on a
// normal return, 101 for a panic, 102 for a fault, 130 when interrupted
// while still running.
package session
