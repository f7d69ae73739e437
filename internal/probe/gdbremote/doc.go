// Package gdbremote implements the probe.Probe interface over the GDB remote
// serial protocol, the wire protocol spoken by OpenOCD, pyOCD and
// JLinkGDBServer.
//
// The protocol frames each command as $payload#checksum with a one-byte ack.
// Flashing uses the vFlashErase/vFlashWrite/vFlashDone packets with binary
// payload escaping; target log output arrives as console-output ('O')
// packets interleaved with replies and is buffered for PullTelemetry.
//
// Status polling is non-blocking: a short read deadline bounds each poll, so
// the session controller can interleave halt checks with telemetry pulls on
// the single shared connection.
package gdbremote
