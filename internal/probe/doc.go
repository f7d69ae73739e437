// Package probe defines the hardware transport boundary.
//
// The Probe interface covers everything a session needs from a debug probe:
// flashing, execution control, halt polling, register and memory reads, and
// the telemetry channel. Implementations live in the subpackages: gdbremote
// speaks the GDB remote serial protocol to a local stub, wsbridge talks to a
// networked bridge daemon over a websocket.
//
// A probe is exclusively owned. The transports cannot serve concurrent
// requests, so all calls on a Probe must come from one goroutine.
package probe
