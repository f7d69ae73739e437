// Package unwind reconstructs ARMv7-M call stacks from a halted target.
//
// The walk starts from a register snapshot and applies .debug_frame rules to
// step from callee to caller, reading saved registers out of target memory
// on demand. Where no rule covers an address it falls back to frame-pointer
// chasing, and when a recovered return address is an EXC_RETURN value it
// decodes the hardware-stacked exception frame and keeps going across the
// boundary.
//
// Unwinding never fails outright. Anything abnormal (unreadable memory, a
// non-monotonic stack pointer, the frame cap) ends the walk with a flag on
// the last frame, so a crash report always shows as much of the stack as
// could be recovered.
package unwind
