// Package debuginfo parses a firmware ELF into the indexed, immutable debug
// image the rest of embrun queries.
//
// Build extracts four things from the binary: the symbol table (with Rust
// legacy mangling undone), the DWARF line table, the inlined-subroutine
// ranges, and the .debug_frame unwind rules. The same ELF bytes that get
// flashed are the source of truth; nothing is re-read from the target.
//
// Lookups answer three questions about a program counter: which function and
// source line is this (Resolve), which inlined calls are folded into it
// (InlinedAt), and how do I step to the caller from here (RuleAt). The unwind
// package consumes all three.
//
// The firmware address space is 32-bit; Thumb bit 0 is cleared before any
// lookup.
package debuginfo
