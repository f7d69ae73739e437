package unwind

// ARMv7-M core register numbers, matching the DWARF register numbering used
// by .debug_frame rules.
const (
	RegR0 = iota
	RegR1
	RegR2
	RegR3
	RegR4
	RegR5
	RegR6
	RegR7
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegSP
	RegLR
	RegPC

	// NumRegs is the size of the core register file
	NumRegs = 16

	// RegFP is the Thumb frame pointer convention (r7)
	RegFP = RegR7
)

// RegisterSet is a snapshot of the core register file. It has value
// semantics: every unwind step derives a new set for the caller instead of
// mutating the callee's, so a captured snapshot is never changed in place.
type RegisterSet struct {
	regs  [NumRegs]uint32
	valid uint16
}

// Get returns register reg, and whether its value is known.
func (r RegisterSet) Get(reg int) (uint32, bool) {
	if reg < 0 || reg >= NumRegs {
		return 0, false
	}
	return r.regs[reg], r.valid&(1<<reg) != 0
}

// With returns a copy of the set with register reg set to value. The
// receiver is unchanged.
func (r RegisterSet) With(reg int, value uint32) RegisterSet {
	if reg < 0 || reg >= NumRegs {
		return r
	}
	r.regs[reg] = value
	r.valid |= 1 << reg
	return r
}

// Without returns a copy of the set with register reg marked unknown.
func (r RegisterSet) Without(reg int) RegisterSet {
	if reg < 0 || reg >= NumRegs {
		return r
	}
	r.valid &^= 1 << reg
	return r
}

// PC returns the program counter, or 0 if unknown.
func (r RegisterSet) PC() uint32 {
	v, _ := r.Get(RegPC)
	return v
}

// SP returns the stack pointer, or 0 if unknown.
func (r RegisterSet) SP() uint32 {
	v, _ := r.Get(RegSP)
	return v
}

// LR returns the link register, or 0 if unknown.
func (r RegisterSet) LR() uint32 {
	v, _ := r.Get(RegLR)
	return v
}
