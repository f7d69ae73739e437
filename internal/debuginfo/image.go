package debuginfo

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sort"
)

// LogSectionName is the ELF section carrying the structured-log decoding
// table (a JSON document, see the telemetry package for the wire format).
const LogSectionName = ".embrun.log"

// Location is a resolved code address: demangled function name and, when the
// line table knows the address, the source position.
type Location struct {
	Function string
	File     string
	Line     int
}

// Image is the indexed, immutable representation of a firmware binary's
// debug information. It is built once at session start from the same ELF
// that gets flashed, and is never mutated afterwards, so all lookups are
// safe for concurrent use.
type Image struct {
	symbols []Symbol
	lines   lineTable
	inlines inlineTable
	frames  *FrameTable
	logData []byte
}

// Build parses an ELF binary into a debug image.
//
// It extracts the symbol table (demangled), the DWARF line table, the
// inlined-subroutine ranges, and the .debug_frame unwind table. A missing
// symbol table or missing DWARF info yields a MalformedBinaryError; a
// missing .debug_frame section does not (the unwinder falls back to frame
// pointer chasing for every address instead).
func Build(binary []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(binary))
	if err != nil {
		return nil, &MalformedBinaryError{Reason: "not a valid ELF file", Err: err}
	}
	defer f.Close()

	img := &Image{}

	img.symbols, err = loadSymbols(f)
	if err != nil {
		return nil, err
	}

	dw, err := f.DWARF()
	if err != nil {
		return nil, &MalformedBinaryError{Section: ".debug_info", Reason: "no DWARF debug info", Err: err}
	}

	img.lines, err = loadLineTable(dw)
	if err != nil {
		return nil, err
	}

	img.inlines, err = loadInlineTable(dw)
	if err != nil {
		return nil, err
	}

	if sec := f.Section(".debug_frame"); sec != nil {
		data, err := sec.Data()
		if err != nil {
			return nil, &MalformedBinaryError{Section: ".debug_frame", Reason: "unreadable section", Err: err}
		}
		img.frames, err = parseFrameTable(data)
		if err != nil {
			return nil, err
		}
	}

	if sec := f.Section(LogSectionName); sec != nil {
		data, err := sec.Data()
		if err != nil {
			return nil, &MalformedBinaryError{Section: LogSectionName, Reason: "unreadable section", Err: err}
		}
		img.logData = data
	}

	return img, nil
}

// Resolve maps a code address to a demangled function name and source
// position. The boolean result is false for addresses outside every known
// symbol range; this is a normal outcome (stripped or generated code), not
// an error, and callers report such frames by address only.
func (img *Image) Resolve(addr uint32) (Location, bool) {
	sym, ok := img.symbolAt(addr)
	if !ok {
		return Location{}, false
	}

	loc := Location{Function: sym.Name}
	if file, line, ok := img.lines.lookup(addr); ok {
		loc.File = file
		loc.Line = line
	}
	return loc, true
}

// InlinedAt returns the synthetic inline frames logically present at addr,
// innermost first. The slice is empty for addresses with no inlining.
func (img *Image) InlinedAt(addr uint32) []Location {
	return img.inlines.at(addr)
}

// RuleAt returns the call-frame unwinding rule applicable at addr, or false
// if no rule covers the address (no .debug_frame section, or a gap in it).
func (img *Image) RuleAt(addr uint32) (UnwindRule, bool) {
	if img.frames == nil {
		return UnwindRule{}, false
	}
	return img.frames.ruleAt(addr)
}

// Symbols returns the ordered symbol table. The returned slice must not be
// modified.
func (img *Image) Symbols() []Symbol {
	return img.symbols
}

// LogSection returns the raw contents of the structured-log table section,
// or nil if the binary does not carry one.
func (img *Image) LogSection() []byte {
	return img.logData
}

// symbolAt finds the symbol whose range covers addr via binary search over
// the sorted table.
func (img *Image) symbolAt(addr uint32) (Symbol, bool) {
	a := uint64(addr)
	i := sort.Search(len(img.symbols), func(i int) bool {
		return img.symbols[i].Addr > a
	})
	if i == 0 {
		return Symbol{}, false
	}
	sym := img.symbols[i-1]
	if a >= sym.Addr+sym.Size {
		return Symbol{}, false
	}
	return sym, true
}

// loadSymbols reads FUNC symbols from the ELF symbol table, normalizes Thumb
// addresses (bit 0 is an instruction-set marker, not part of the address),
// demangles names, and verifies the ranges are non-overlapping.
func loadSymbols(f *elf.File) ([]Symbol, error) {
	elfSyms, err := f.Symbols()
	if err != nil {
		return nil, &MalformedBinaryError{Section: ".symtab", Reason: "no symbol table", Err: err}
	}

	var syms []Symbol
	for _, s := range elfSyms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Size == 0 {
			continue
		}
		syms = append(syms, Symbol{
			Name: Demangle(s.Name),
			Raw:  s.Name,
			Addr: s.Value &^ 1,
			Size: s.Size,
		})
	}
	if len(syms) == 0 {
		return nil, &MalformedBinaryError{Section: ".symtab", Reason: "no function symbols"}
	}

	sort.Slice(syms, func(i, j int) bool { return syms[i].Addr < syms[j].Addr })

	for i := 1; i < len(syms); i++ {
		prev, cur := syms[i-1], syms[i]
		if cur.Addr < prev.Addr+prev.Size {
			// Aliased symbols at the same address are common (e.g. default
			// exception handlers); identical ranges collapse to one entry
			if cur.Addr == prev.Addr && cur.Size == prev.Size {
				syms = append(syms[:i], syms[i+1:]...)
				i--
				continue
			}
			return nil, &MalformedBinaryError{
				Section: ".symtab",
				Reason: fmt.Sprintf("overlapping symbols %q [0x%x..0x%x) and %q [0x%x..0x%x)",
					prev.Name, prev.Addr, prev.Addr+prev.Size,
					cur.Name, cur.Addr, cur.Addr+cur.Size),
			}
		}
	}

	return syms, nil
}

// Symbol is one entry of the ordered symbol table.
type Symbol struct {
	// Name is the demangled function name
	Name string
	// Raw is the name exactly as it appears in the symbol table
	Raw string
	// Addr is the start of the symbol's address range (Thumb bit cleared)
	Addr uint64
	// Size is the length of the range in bytes
	Size uint64
}

// dwarfHighPC normalizes the two encodings of DW_AT_high_pc: an absolute
// address, or an offset from DW_AT_low_pc.
func dwarfHighPC(entry *dwarf.Entry, low uint64) (uint64, bool) {
	v := entry.Val(dwarf.AttrHighpc)
	switch hi := v.(type) {
	case uint64:
		return hi, true
	case int64:
		return low + uint64(hi), true
	default:
		return 0, false
	}
}
