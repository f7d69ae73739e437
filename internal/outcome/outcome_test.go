package outcome

import (
	"testing"

	"github.com/feldspar-dev/embrun/internal/debuginfo"
	"github.com/feldspar-dev/embrun/internal/probe"
	"github.com/feldspar-dev/embrun/internal/unwind"
)

func frame(fn string, flags unwind.Flags) unwind.Frame {
	if fn == "" {
		return unwind.Frame{PC: 0x1000, Flags: flags}
	}
	return unwind.Frame{PC: 0x1000, Loc: &debuginfo.Location{Function: fn}, Flags: flags}
}

func stack(fns ...string) []unwind.Frame {
	frames := make([]unwind.Frame, len(fns))
	for i, fn := range fns {
		frames[i] = frame(fn, 0)
	}
	return frames
}

func TestClassify(t *testing.T) {
	policy := DefaultSymbolPolicy()
	breakpoint := probe.Status{Halted: true, Reason: probe.HaltBreakpoint}
	fault := probe.Status{Halted: true, Reason: probe.HaltFault, Fault: probe.FaultHard}
	requested := probe.Status{Halted: true, Reason: probe.HaltRequest}

	regsWithR0 := func(v uint32) unwind.RegisterSet {
		return unwind.RegisterSet{}.With(unwind.RegR0, v)
	}

	tests := []struct {
		name     string
		status   probe.Status
		frames   []unwind.Frame
		regs     unwind.RegisterSet
		wantKind Kind
		wantCode int
	}{
		{
			name:     "clean exit code zero",
			status:   breakpoint,
			frames:   stack("__embrun_exit", "main", "Reset"),
			regs:     regsWithR0(0),
			wantKind: KindReturned,
			wantCode: 0,
		},
		{
			name:     "exit code passes through",
			status:   breakpoint,
			frames:   stack("__embrun_exit", "main", "Reset"),
			regs:     regsWithR0(42),
			wantKind: KindReturned,
			wantCode: 42,
		},
		{
			name:     "negative exit code from r0",
			status:   breakpoint,
			frames:   stack("__embrun_exit", "main", "Reset"),
			regs:     regsWithR0(0xffffffff),
			wantKind: KindReturned,
			wantCode: -1,
		},
		{
			name:     "exit symbol one frame down",
			status:   breakpoint,
			frames:   stack("__bkpt", "__embrun_exit", "main"),
			regs:     regsWithR0(0),
			wantKind: KindReturned,
		},
		{
			name:     "panic handler innermost",
			status:   breakpoint,
			frames:   stack("__embrun_panic", "do_work", "main"),
			wantKind: KindPanicked,
		},
		{
			name:     "panic handler behind one inline frame",
			status:   breakpoint,
			frames:   stack("core::panicking::panic", "rust_begin_unwind", "main"),
			wantKind: KindPanicked,
		},
		{
			name:     "panic symbol too deep is not a panic",
			status:   requested,
			frames:   stack("spin_loop", "delay", "__embrun_panic"),
			wantKind: KindStillRunning,
		},
		{
			name:     "panic beats fault when handler is on top",
			status:   fault,
			frames:   stack("__embrun_panic", "main"),
			wantKind: KindPanicked,
		},
		{
			name:     "fault",
			status:   fault,
			frames:   stack("do_work", "main", "Reset"),
			wantKind: KindFaulted,
		},
		{
			name:     "breakpoint without designated symbol is still running",
			status:   breakpoint,
			frames:   stack("some_bkpt_user", "main"),
			wantKind: KindStillRunning,
		},
		{
			name:     "unresolved frames never match",
			status:   breakpoint,
			frames:   []unwind.Frame{frame("", 0), frame("", 0)},
			wantKind: KindStillRunning,
		},
		{
			name:     "host-requested halt",
			status:   requested,
			frames:   stack("busy_loop", "main"),
			wantKind: KindStillRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.status, tt.frames, tt.regs, policy)
			if got.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if tt.wantKind == KindReturned && got.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", got.Code, tt.wantCode)
			}
		})
	}
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name string
		o    Outcome
		want int
	}{
		{"returned zero", Outcome{Kind: KindReturned, Code: 0}, 0},
		{"returned nonzero", Outcome{Kind: KindReturned, Code: 3}, 3},
		{"panicked", Outcome{Kind: KindPanicked}, ExitPanicked},
		{"faulted", Outcome{Kind: KindFaulted, Fault: probe.FaultBus}, ExitFaulted},
		{"still running", Outcome{Kind: KindStillRunning}, ExitInterrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.o.ExitStatus(); got != tt.want {
				t.Errorf("ExitStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOutcomeString(t *testing.T) {
	o := Outcome{Kind: KindFaulted, Fault: probe.FaultHard}
	if got := o.String(); got != "firmware faulted: HardFault" {
		t.Errorf("String() = %q", got)
	}
	o = Outcome{Kind: KindReturned, Code: 7}
	if got := o.String(); got != "firmware returned with code 7" {
		t.Errorf("String() = %q", got)
	}
}
