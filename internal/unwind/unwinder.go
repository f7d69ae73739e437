package unwind

import (
	"encoding/binary"
	"errors"

	"github.com/feldspar-dev/embrun/internal/debuginfo"
)

// Memory is the capability the unwinder uses to read target memory. It is a
// contract, not owned data: reads go straight to the probe transport and the
// unwinder never keeps a copy across steps.
type Memory interface {
	ReadMemory(addr uint32, n int) ([]byte, error)
}

// MemoryFunc adapts a plain function to the Memory interface.
type MemoryFunc func(addr uint32, n int) ([]byte, error)

func (f MemoryFunc) ReadMemory(addr uint32, n int) ([]byte, error) {
	return f(addr, n)
}

// Image is what the unwinder needs from the debug information: symbol
// resolution, inline expansion, and unwind rules. *debuginfo.Image
// implements it.
type Image interface {
	Resolve(addr uint32) (debuginfo.Location, bool)
	InlinedAt(addr uint32) []debuginfo.Location
	RuleAt(addr uint32) (debuginfo.UnwindRule, bool)
}

// Flags annotates a reconstructed frame. Annotations are data, never errors:
// a partial backtrace with flags is strictly more useful than no backtrace.
type Flags uint8

const (
	// FlagInline marks a synthetic frame expanded from inlining metadata
	FlagInline Flags = 1 << iota
	// FlagInexact marks a frame reached via frame pointer chasing because no
	// unwind rule covered the address
	FlagInexact
	// FlagCorrupted marks the final frame when the stack pointer stopped
	// growing monotonically (bad rule or corrupted memory)
	FlagCorrupted
	// FlagTruncated marks the final frame when unwinding stopped early: a
	// memory read failed or the frame limit was reached
	FlagTruncated
)

// Has reports whether all bits of flag are set.
func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// Frame is one reconstructed stack level, innermost first in the slice
// Unwind returns.
type Frame struct {
	// PC is the program counter (innermost frame) or return address
	PC uint32
	// Loc is the resolved symbol, nil for addresses outside every known
	// range (stripped or generated code); such frames report address only
	Loc *debuginfo.Location
	// Flags carries the frame annotations
	Flags Flags
}

// DefaultMaxFrames bounds the walk against cyclic or corrupt frame chains
// that pass the SP-monotonicity check.
const DefaultMaxFrames = 50

// Options tunes one unwind walk.
type Options struct {
	// MaxFrames caps the number of real (non-inline) frames; 0 means
	// DefaultMaxFrames
	MaxFrames int
	// EntrySymbols are the demangled names that terminate the walk as a
	// normal stack bottom (reset handler / program entry)
	EntrySymbols []string
}

// defaultEntrySymbols covers the reset/entry names emitted by cortex-m
// runtimes when no chip configuration says otherwise.
var defaultEntrySymbols = []string{"Reset", "Reset_Handler", "_start"}

// EXC_RETURN values live in the top of the address space; a recovered return
// address up there means the caller is a hardware-pushed exception frame,
// not a normal call frame.
const excReturnMask = 0xf0000000

// Unwind walks the call stack from a halted target's register snapshot.
//
// It never fails outright: every abnormal condition (no unwind rule, memory
// read failure, non-monotonic stack pointer, frame limit) terminates the
// walk with an annotation on the last frame, and the result always contains
// at least the initial frame.
func Unwind(regs RegisterSet, mem Memory, img Image, opts Options) []Frame {
	maxFrames := opts.MaxFrames
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	entry := opts.EntrySymbols
	if entry == nil {
		entry = defaultEntrySymbols
	}

	var frames []Frame
	steps := 0
	inexact := false

	for {
		pc := regs.PC()
		addr := pc &^ 1
		resolveAddr := addr
		if steps > 0 && addr >= 2 {
			// A return address points after the call; step back into the
			// call site so resolution names the calling line
			resolveAddr = addr - 2
		}

		var flags Flags
		if inexact {
			flags |= FlagInexact
		}
		for _, loc := range img.InlinedAt(resolveAddr) {
			l := loc
			frames = append(frames, Frame{PC: pc, Loc: &l, Flags: flags | FlagInline})
		}

		var locp *debuginfo.Location
		if loc, ok := img.Resolve(resolveAddr); ok {
			locp = &loc
		}
		frames = append(frames, Frame{PC: pc, Loc: locp, Flags: flags})
		inexact = false

		if locp != nil && contains(entry, locp.Function) {
			// Normal stack bottom
			return frames
		}

		steps++
		if steps >= maxFrames {
			frames[len(frames)-1].Flags |= FlagTruncated
			return frames
		}

		sp, ok := regs.Get(RegSP)
		if !ok {
			frames[len(frames)-1].Flags |= FlagCorrupted
			return frames
		}

		caller, stop, flag := callerRegisters(regs, mem, img, addr)
		if stop {
			frames[len(frames)-1].Flags |= flag
			return frames
		}
		inexact = flag.Has(FlagInexact)

		ra := caller.PC()
		if ra&excReturnMask == excReturnMask {
			// Crossing an exception boundary: the real caller state is the
			// hardware-stacked exception frame
			popped, err := popExceptionFrame(caller, mem)
			if err != nil {
				frames[len(frames)-1].Flags |= FlagTruncated
				return frames
			}
			caller = popped
			inexact = false
		} else if ra == 0 {
			// A zeroed return address is the runtime's stack seed; treat it
			// as the bottom rather than chasing into the vector table
			return frames
		}

		if caller.SP() <= sp {
			// Stack must grow in one direction only; anything else means a
			// bad rule or corrupted memory, and following it risks a loop
			frames[len(frames)-1].Flags |= FlagCorrupted
			return frames
		}

		regs = caller
	}
}

// callerRegisters computes the caller's register set from the callee's.
// stop=true means the walk must end with flag on the last emitted frame;
// otherwise flag may carry FlagInexact for the frame about to be emitted.
func callerRegisters(regs RegisterSet, mem Memory, img Image, addr uint32) (RegisterSet, bool, Flags) {
	rule, ok := img.RuleAt(addr)
	if !ok {
		caller, err := framePointerStep(regs, mem)
		if err != nil {
			return RegisterSet{}, true, FlagTruncated
		}
		return caller, false, FlagInexact
	}

	cfaBase, ok := regs.Get(int(rule.CFAReg))
	if !ok {
		return RegisterSet{}, true, FlagCorrupted
	}
	cfa := uint32(int64(cfaBase) + rule.CFAOffset)

	// Registers without an explicit rule keep their value: on ARM the
	// callee-saved set is unchanged by convention, and the rest are dead by
	// the time they'd be read
	caller := regs
	for reg, rr := range rule.Regs {
		if reg >= NumRegs {
			continue
		}
		switch rr.Kind {
		case debuginfo.RuleOffset:
			raw, err := mem.ReadMemory(uint32(int64(cfa)+rr.Offset), 4)
			if err != nil || len(raw) < 4 {
				return RegisterSet{}, true, FlagTruncated
			}
			caller = caller.With(int(reg), binary.LittleEndian.Uint32(raw))
		case debuginfo.RuleRegister:
			if v, ok := regs.Get(int(rr.Reg)); ok {
				caller = caller.With(int(reg), v)
			} else {
				caller = caller.Without(int(reg))
			}
		case debuginfo.RuleSameValue:
			// Already carried over
		case debuginfo.RuleUndefined:
			caller = caller.Without(int(reg))
		}
	}
	caller = caller.With(RegSP, cfa)

	ra, ok := caller.Get(int(rule.RetAddrReg))
	if !ok {
		// The return address register is explicitly unrecoverable: this is
		// how the outermost function's descriptor marks the stack bottom.
		// Signal a clean stop by reporting a zero return address.
		ra = 0
	}
	caller = caller.With(RegPC, ra)
	return caller, false, 0
}

// framePointerStep is the conservative fallback when no unwind rule covers
// the address: Thumb prologues that maintain a frame pointer push {r7, lr}
// and point r7 at the pair.
func framePointerStep(regs RegisterSet, mem Memory) (RegisterSet, error) {
	fp, ok := regs.Get(RegFP)
	if !ok {
		return RegisterSet{}, errShortFrame
	}
	raw, err := mem.ReadMemory(fp, 8)
	if err != nil || len(raw) < 8 {
		return RegisterSet{}, errShortFrame
	}
	callerFP := binary.LittleEndian.Uint32(raw[0:4])
	ra := binary.LittleEndian.Uint32(raw[4:8])

	caller := regs.
		With(RegFP, callerFP).
		With(RegSP, fp+8).
		With(RegPC, ra).
		With(RegLR, ra)
	return caller, nil
}

// popExceptionFrame decodes the register frame the hardware pushed on
// exception entry: r0-r3, r12, lr, pc, xPSR at the stack pointer, plus FPU
// state for an extended frame, plus an alignment word when xPSR bit 9 is
// set.
func popExceptionFrame(regs RegisterSet, mem Memory) (RegisterSet, error) {
	excReturn := regs.PC()
	sp, ok := regs.Get(RegSP)
	if !ok {
		return RegisterSet{}, errShortFrame
	}

	raw, err := mem.ReadMemory(sp, 32)
	if err != nil || len(raw) < 32 {
		return RegisterSet{}, errShortFrame
	}
	word := func(i int) uint32 {
		return binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}

	// Basic frame is 8 words; EXC_RETURN bit 4 clear means the FPU pushed an
	// extended frame (18 more words)
	size := uint32(32)
	if excReturn&0x10 == 0 {
		size += 72
	}
	xpsr := word(7)
	if xpsr&(1<<9) != 0 {
		// The hardware inserted one alignment word
		size += 4
	}

	caller := regs.
		With(RegR0, word(0)).
		With(RegR1, word(1)).
		With(RegR2, word(2)).
		With(RegR3, word(3)).
		With(RegR12, word(4)).
		With(RegLR, word(5)).
		With(RegPC, word(6)).
		With(RegSP, sp+size)
	return caller, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

var errShortFrame = errors.New("frame memory not accessible")
