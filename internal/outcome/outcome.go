package outcome

import (
	"fmt"

	"github.com/feldspar-dev/embrun/internal/probe"
	"github.com/feldspar-dev/embrun/internal/unwind"
)

// Kind is the tagged variant of a session outcome.
type Kind int

const (
	// KindStillRunning: the halt was host-requested, the target did not
	// terminate on its own
	KindStillRunning Kind = iota
	// KindReturned: the firmware returned normally from its entry point
	KindReturned
	// KindPanicked: the firmware reached its panic handler
	KindPanicked
	// KindFaulted: a hardware fault vector fired
	KindFaulted
)

// Exit statuses for the host process. Distinct nonzero codes let scripts
// tell panic from fault from interruption, and ExitToolFailure is distinct
// from all of them so "tool failed" and "target failed" never collide.
const (
	ExitPanicked    = 101
	ExitFaulted     = 102
	ExitInterrupted = 130
	ExitToolFailure = 70
)

// panicWindow is how many frames from the top of the stack may hide the
// panic handler symbol. Inlining can wrap the handler in one or two
// synthetic frames, so matching only the innermost frame misses real
// panics; two levels has been enough in practice.
const panicWindow = 2

// Outcome is the classified result of one halt event. Computed once,
// immutable thereafter.
type Outcome struct {
	Kind Kind
	// Code is the firmware's exit code, for KindReturned
	Code int
	// Fault names the fault vector, for KindFaulted
	Fault probe.FaultKind
	// Frames is the backtrace that led to the classification
	Frames []unwind.Frame
}

// SymbolPolicy names the designated symbols the classifier matches against.
// It comes from the chip configuration.
type SymbolPolicy struct {
	// ExitSymbols mark a normal return from the firmware entry point
	ExitSymbols []string
	// PanicSymbols mark the panic handler
	PanicSymbols []string
}

// DefaultSymbolPolicy covers cortex-m rust runtimes.
func DefaultSymbolPolicy() SymbolPolicy {
	return SymbolPolicy{
		ExitSymbols:  []string{"__embrun_exit", "__bkpt"},
		PanicSymbols: []string{"__embrun_panic", "rust_begin_unwind", "core::panicking::panic"},
	}
}

// Classify decides the outcome of a halt from the probe-reported reason, the
// unwound frames, and the register snapshot (the exit code convention is
// "r0 at the exit breakpoint").
//
// Decision order: normal return, then panic symbol within the top window,
// then probe-reported fault, then still-running.
func Classify(status probe.Status, frames []unwind.Frame, regs unwind.RegisterSet, policy SymbolPolicy) Outcome {
	if status.Reason == probe.HaltBreakpoint && matchesWithin(frames, policy.ExitSymbols, 2) {
		code, _ := regs.Get(unwind.RegR0)
		return Outcome{Kind: KindReturned, Code: int(int32(code)), Frames: frames}
	}

	if matchesWithin(frames, policy.PanicSymbols, panicWindow) {
		return Outcome{Kind: KindPanicked, Frames: frames}
	}

	if status.Reason == probe.HaltFault {
		return Outcome{Kind: KindFaulted, Fault: status.Fault, Frames: frames}
	}

	return Outcome{Kind: KindStillRunning, Frames: frames}
}

// matchesWithin reports whether any of the first window resolved frames
// (inline frames included) matches one of the designated names. Unresolved
// frames count against the window but never match.
func matchesWithin(frames []unwind.Frame, names []string, window int) bool {
	for i := 0; i < len(frames) && i < window; i++ {
		if frames[i].Loc == nil {
			continue
		}
		fn := frames[i].Loc.Function
		for _, name := range names {
			if fn == name {
				return true
			}
		}
	}
	return false
}

// ExitStatus maps the outcome to the host process exit status. The mapping
// is exhaustive over Kind.
func (o Outcome) ExitStatus() int {
	switch o.Kind {
	case KindReturned:
		return o.Code
	case KindPanicked:
		return ExitPanicked
	case KindFaulted:
		return ExitFaulted
	case KindStillRunning:
		return ExitInterrupted
	default:
		return ExitToolFailure
	}
}

// String renders the final outcome line of the report.
func (o Outcome) String() string {
	switch o.Kind {
	case KindReturned:
		return fmt.Sprintf("firmware returned with code %d", o.Code)
	case KindPanicked:
		return "firmware panicked"
	case KindFaulted:
		return fmt.Sprintf("firmware faulted: %s", o.Fault)
	case KindStillRunning:
		return "interrupted; firmware was still running"
	default:
		return "unknown outcome"
	}
}
