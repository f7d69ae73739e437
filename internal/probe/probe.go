package probe

import (
	"context"

	"github.com/feldspar-dev/embrun/internal/unwind"
)

// HaltReason classifies why the target stopped executing, as reported by the
// probe layer.
type HaltReason int

const (
	// HaltNone: the target is still running
	HaltNone HaltReason = iota
	// HaltBreakpoint: a breakpoint or explicit bkpt instruction
	HaltBreakpoint
	// HaltFault: a hardware fault vector fired
	HaltFault
	// HaltRequest: the host asked for the halt
	HaltRequest
)

func (r HaltReason) String() string {
	switch r {
	case HaltNone:
		return "running"
	case HaltBreakpoint:
		return "breakpoint"
	case HaltFault:
		return "fault"
	case HaltRequest:
		return "request"
	default:
		return "unknown"
	}
}

// FaultKind names the fault vector for a HaltFault.
type FaultKind int

const (
	FaultUnknown FaultKind = iota
	FaultHard
	FaultBus
	FaultUsage
	FaultMemManage
)

func (k FaultKind) String() string {
	switch k {
	case FaultHard:
		return "HardFault"
	case FaultBus:
		return "BusFault"
	case FaultUsage:
		return "UsageFault"
	case FaultMemManage:
		return "MemManage"
	default:
		return "UnknownFault"
	}
}

// Status is one non-blocking halt poll result.
type Status struct {
	Halted bool
	Reason HaltReason
	Fault  FaultKind
}

// Probe is the hardware transport boundary: everything embrun needs from a
// debug probe attached to a target.
//
// A Probe is an exclusively-owned resource. The transport beneath it cannot
// serve two concurrent requests, so all methods must be called from a single
// goroutine (the session controller's polling loop); implementations are not
// required to be safe for concurrent use.
type Probe interface {
	// Flash programs the firmware image onto the target. Fatal on failure.
	Flash(ctx context.Context, binary []byte) error

	// Start resets the target and lets it run.
	Start(ctx context.Context) error

	// Status polls, without blocking, whether the target has halted and why.
	Status(ctx context.Context) (Status, error)

	// ReadRegisters captures the core register snapshot of a halted target.
	ReadRegisters(ctx context.Context) (unwind.RegisterSet, error)

	// ReadMemory reads n bytes of target memory at addr.
	ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error)

	// PullTelemetry returns whatever log bytes the target has produced since
	// the last pull. An empty slice without error is normal.
	PullTelemetry(ctx context.Context) ([]byte, error)

	// Halt stops the target (used by the session timeout path).
	Halt(ctx context.Context) error

	// ResetAndDetach resets the target and releases the probe.
	ResetAndDetach(ctx context.Context) error
}
