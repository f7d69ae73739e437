package debuginfo

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// RegRuleKind says how one caller register is recovered from the callee's
// state.
type RegRuleKind uint8

const (
	// RuleUndefined: the register is not recoverable at this point
	RuleUndefined RegRuleKind = iota
	// RuleSameValue: the callee did not touch the register
	RuleSameValue
	// RuleOffset: the value was saved at memory address CFA + Offset
	RuleOffset
	// RuleRegister: the value lives in another register
	RuleRegister
)

// RegRule is one register-recovery recipe within an UnwindRule.
type RegRule struct {
	Kind   RegRuleKind
	Offset int64
	Reg    uint64
}

// UnwindRule is the call-frame recovery recipe in effect at one program
// counter: how to compute the canonical frame address (the caller's stack
// pointer) and how to recover each saved register.
type UnwindRule struct {
	// CFAReg and CFAOffset define the canonical frame address:
	// CFA = value(CFAReg) + CFAOffset
	CFAReg    uint64
	CFAOffset int64
	// Regs maps DWARF register numbers to recovery rules. Registers with no
	// entry follow the architecture default (callee-saved: unchanged).
	Regs map[uint64]RegRule
	// RetAddrReg is the register holding the return address once restored
	RetAddrReg uint64
}

// DWARF call frame instruction opcodes. The top two bits select the three
// packed forms; everything else is an extended opcode in the low six bits.
const (
	cfaAdvanceLoc = 0x40
	cfaOffset     = 0x80
	cfaRestore    = 0xc0

	cfaNop             = 0x00
	cfaSetLoc          = 0x01
	cfaAdvanceLoc1     = 0x02
	cfaAdvanceLoc2     = 0x03
	cfaAdvanceLoc4     = 0x04
	cfaOffsetExtended  = 0x05
	cfaRestoreExtended = 0x06
	cfaUndefined       = 0x07
	cfaSameValue       = 0x08
	cfaRegister        = 0x09
	cfaRememberState   = 0x0a
	cfaRestoreState    = 0x0b
	cfaDefCFA          = 0x0c
	cfaDefCFARegister  = 0x0d
	cfaDefCFAOffset    = 0x0e
	cfaDefCFAExpr      = 0x0f
	cfaExpression      = 0x10
	cfaOffsetExtSF     = 0x11
	cfaDefCFASF        = 0x12
	cfaDefCFAOffsetSF  = 0x13
	cfaValOffset       = 0x14
	cfaValOffsetSF     = 0x15
	cfaValExpression   = 0x16
)

// commonInfo is a parsed Common Information Entry: the prologue shared by
// all frame descriptors that reference it.
type commonInfo struct {
	codeAlign  uint64
	dataAlign  int64
	retAddrReg uint64
	initial    []byte
}

// frameDesc is a parsed Frame Description Entry: one function's PC range and
// its call-frame instruction stream.
type frameDesc struct {
	begin        uint64
	end          uint64
	cie          *commonInfo
	instructions []byte
}

// FrameTable indexes the .debug_frame section: frame descriptors sorted by
// start address, non-overlapping. Rules are computed on demand by running
// the descriptor's instruction stream up to the requested address.
type FrameTable struct {
	fdes []frameDesc
}

// parseFrameTable parses a raw .debug_frame section.
func parseFrameTable(data []byte) (*FrameTable, error) {
	cies := make(map[uint32]*commonInfo)
	var fdes []frameDesc

	r := leReader{data: data}
	for r.pos < len(data) {
		entryStart := uint32(r.pos)
		length, err := r.u32()
		if err != nil {
			return nil, frameErr("truncated entry length", err)
		}
		if length == 0 {
			break
		}
		if length == 0xffffffff {
			return nil, frameErr("64-bit DWARF frame entries are not supported", nil)
		}
		body, err := r.bytes(int(length))
		if err != nil {
			return nil, frameErr("truncated entry body", err)
		}

		br := leReader{data: body}
		id, err := br.u32()
		if err != nil {
			return nil, frameErr("truncated entry id", err)
		}

		if id == 0xffffffff {
			cie, err := parseCIE(&br)
			if err != nil {
				return nil, err
			}
			cies[entryStart] = cie
			continue
		}

		cie, ok := cies[id]
		if !ok {
			return nil, frameErr(fmt.Sprintf("FDE at 0x%x references unknown CIE 0x%x", entryStart, id), nil)
		}
		begin, err := br.u32()
		if err != nil {
			return nil, frameErr("truncated FDE location", err)
		}
		rng, err := br.u32()
		if err != nil {
			return nil, frameErr("truncated FDE range", err)
		}
		low := uint64(begin) &^ 1
		fdes = append(fdes, frameDesc{
			begin:        low,
			end:          low + uint64(rng),
			cie:          cie,
			instructions: br.rest(),
		})
	}

	sort.Slice(fdes, func(i, j int) bool { return fdes[i].begin < fdes[j].begin })
	for i := 1; i < len(fdes); i++ {
		if fdes[i].begin < fdes[i-1].end {
			return nil, frameErr(fmt.Sprintf("overlapping frame descriptors at 0x%x and 0x%x",
				fdes[i-1].begin, fdes[i].begin), nil)
		}
	}

	return &FrameTable{fdes: fdes}, nil
}

func parseCIE(r *leReader) (*commonInfo, error) {
	version, err := r.u8()
	if err != nil {
		return nil, frameErr("truncated CIE", err)
	}
	if version != 1 && version != 3 && version != 4 {
		return nil, frameErr(fmt.Sprintf("unsupported CIE version %d", version), nil)
	}

	aug, err := r.cstring()
	if err != nil {
		return nil, frameErr("truncated CIE augmentation", err)
	}
	if aug != "" {
		return nil, frameErr(fmt.Sprintf("unsupported CIE augmentation %q", aug), nil)
	}

	if version == 4 {
		addrSize, err := r.u8()
		if err != nil {
			return nil, frameErr("truncated CIE", err)
		}
		segSize, err := r.u8()
		if err != nil {
			return nil, frameErr("truncated CIE", err)
		}
		if addrSize != 4 || segSize != 0 {
			return nil, frameErr(fmt.Sprintf("unsupported address size %d / segment size %d", addrSize, segSize), nil)
		}
	}

	cie := &commonInfo{}
	if cie.codeAlign, err = r.uleb(); err != nil {
		return nil, frameErr("truncated CIE", err)
	}
	if cie.dataAlign, err = r.sleb(); err != nil {
		return nil, frameErr("truncated CIE", err)
	}
	if version == 1 {
		ra, err := r.u8()
		if err != nil {
			return nil, frameErr("truncated CIE", err)
		}
		cie.retAddrReg = uint64(ra)
	} else {
		if cie.retAddrReg, err = r.uleb(); err != nil {
			return nil, frameErr("truncated CIE", err)
		}
	}
	cie.initial = r.rest()
	return cie, nil
}

// ruleAt computes the unwind rule in effect at addr, or false if no frame
// descriptor covers the address or its instruction stream cannot be
// interpreted (e.g. it needs a DWARF expression). Callers fall back to frame
// pointer chasing in that case.
func (t *FrameTable) ruleAt(addr uint32) (UnwindRule, bool) {
	a := uint64(addr) &^ 1
	i := sort.Search(len(t.fdes), func(i int) bool {
		return t.fdes[i].begin > a
	})
	if i == 0 {
		return UnwindRule{}, false
	}
	fde := t.fdes[i-1]
	if a >= fde.end {
		return UnwindRule{}, false
	}
	return execFrameProgram(fde, a)
}

// cfaState is the mutable row of the virtual unwind table during program
// execution.
type cfaState struct {
	cfaReg   uint64
	cfaOff   int64
	cfaValid bool
	regs     map[uint64]RegRule
}

func (s cfaState) clone() cfaState {
	c := s
	c.regs = make(map[uint64]RegRule, len(s.regs))
	for k, v := range s.regs {
		c.regs[k] = v
	}
	return c
}

// execFrameProgram interprets the CIE initial instructions followed by the
// FDE instructions, stopping at the row covering pc.
func execFrameProgram(fde frameDesc, pc uint64) (UnwindRule, bool) {
	state := cfaState{regs: make(map[uint64]RegRule)}

	// Initial instructions establish the state at function entry; location
	// tracking only matters for the FDE body
	var cieStack []cfaState
	if !runCFA(&state, fde.cie, fde.cie.initial, fde.begin, ^uint64(0), nil, &cieStack) {
		return UnwindRule{}, false
	}
	initial := state.clone()

	var stack []cfaState
	if !runCFA(&state, fde.cie, fde.instructions, fde.begin, pc, &initial, &stack) {
		return UnwindRule{}, false
	}
	if !state.cfaValid {
		return UnwindRule{}, false
	}

	return UnwindRule{
		CFAReg:     state.cfaReg,
		CFAOffset:  state.cfaOff,
		Regs:       state.regs,
		RetAddrReg: fde.cie.retAddrReg,
	}, true
}

// runCFA executes one call-frame instruction stream. Execution stops once
// the current location advances past pc. Returns false on a malformed or
// uninterpretable stream.
func runCFA(state *cfaState, cie *commonInfo, prog []byte, loc, pc uint64, initial *cfaState, stack *[]cfaState) bool {
	r := leReader{data: prog}

	advance := func(delta uint64) bool {
		loc += delta * cie.codeAlign
		return loc <= pc
	}

	for r.pos < len(prog) {
		op, err := r.u8()
		if err != nil {
			return false
		}

		switch {
		case op&0xc0 == cfaAdvanceLoc:
			if !advance(uint64(op & 0x3f)) {
				return true
			}
			continue
		case op&0xc0 == cfaOffset:
			off, err := r.uleb()
			if err != nil {
				return false
			}
			state.regs[uint64(op&0x3f)] = RegRule{Kind: RuleOffset, Offset: int64(off) * cie.dataAlign}
			continue
		case op&0xc0 == cfaRestore:
			if initial == nil {
				return false
			}
			restoreReg(state, initial, uint64(op&0x3f))
			continue
		}

		switch op {
		case cfaNop:

		case cfaSetLoc:
			addr, err := r.u32()
			if err != nil {
				return false
			}
			loc = uint64(addr)
			if loc > pc {
				return true
			}

		case cfaAdvanceLoc1:
			d, err := r.u8()
			if err != nil {
				return false
			}
			if !advance(uint64(d)) {
				return true
			}

		case cfaAdvanceLoc2:
			d, err := r.u16()
			if err != nil {
				return false
			}
			if !advance(uint64(d)) {
				return true
			}

		case cfaAdvanceLoc4:
			d, err := r.u32()
			if err != nil {
				return false
			}
			if !advance(uint64(d)) {
				return true
			}

		case cfaOffsetExtended:
			reg, err1 := r.uleb()
			off, err2 := r.uleb()
			if err1 != nil || err2 != nil {
				return false
			}
			state.regs[reg] = RegRule{Kind: RuleOffset, Offset: int64(off) * cie.dataAlign}

		case cfaOffsetExtSF:
			reg, err1 := r.uleb()
			off, err2 := r.sleb()
			if err1 != nil || err2 != nil {
				return false
			}
			state.regs[reg] = RegRule{Kind: RuleOffset, Offset: off * cie.dataAlign}

		case cfaRestoreExtended:
			reg, err := r.uleb()
			if err != nil || initial == nil {
				return false
			}
			restoreReg(state, initial, reg)

		case cfaUndefined:
			reg, err := r.uleb()
			if err != nil {
				return false
			}
			state.regs[reg] = RegRule{Kind: RuleUndefined}

		case cfaSameValue:
			reg, err := r.uleb()
			if err != nil {
				return false
			}
			state.regs[reg] = RegRule{Kind: RuleSameValue}

		case cfaRegister:
			reg, err1 := r.uleb()
			src, err2 := r.uleb()
			if err1 != nil || err2 != nil {
				return false
			}
			state.regs[reg] = RegRule{Kind: RuleRegister, Reg: src}

		case cfaRememberState:
			if stack == nil {
				return false
			}
			*stack = append(*stack, state.clone())

		case cfaRestoreState:
			if stack == nil || len(*stack) == 0 {
				return false
			}
			*state = (*stack)[len(*stack)-1]
			*stack = (*stack)[:len(*stack)-1]

		case cfaDefCFA:
			reg, err1 := r.uleb()
			off, err2 := r.uleb()
			if err1 != nil || err2 != nil {
				return false
			}
			state.cfaReg, state.cfaOff, state.cfaValid = reg, int64(off), true

		case cfaDefCFASF:
			reg, err1 := r.uleb()
			off, err2 := r.sleb()
			if err1 != nil || err2 != nil {
				return false
			}
			state.cfaReg, state.cfaOff, state.cfaValid = reg, off*cie.dataAlign, true

		case cfaDefCFARegister:
			reg, err := r.uleb()
			if err != nil || !state.cfaValid {
				return false
			}
			state.cfaReg = reg

		case cfaDefCFAOffset:
			off, err := r.uleb()
			if err != nil {
				return false
			}
			state.cfaOff, state.cfaValid = int64(off), true

		case cfaDefCFAOffsetSF:
			off, err := r.sleb()
			if err != nil {
				return false
			}
			state.cfaOff, state.cfaValid = off*cie.dataAlign, true

		case cfaDefCFAExpr:
			// CFA expressions need a DWARF expression evaluator; give up on
			// this range and let the unwinder use its fallback rule
			return false

		case cfaExpression, cfaValExpression:
			reg, err := r.uleb()
			if err != nil {
				return false
			}
			n, err := r.uleb()
			if err != nil {
				return false
			}
			if _, err := r.bytes(int(n)); err != nil {
				return false
			}
			// Expression-valued registers are beyond the recipe model; treat
			// the register as unrecoverable rather than failing the range
			state.regs[reg] = RegRule{Kind: RuleUndefined}

		case cfaValOffset, cfaValOffsetSF:
			if _, err := r.uleb(); err != nil {
				return false
			}
			if op == cfaValOffset {
				if _, err := r.uleb(); err != nil {
					return false
				}
			} else {
				if _, err := r.sleb(); err != nil {
					return false
				}
			}

		default:
			return false
		}
	}
	return true
}

func restoreReg(state, initial *cfaState, reg uint64) {
	if rule, ok := initial.regs[reg]; ok {
		state.regs[reg] = rule
	} else {
		delete(state.regs, reg)
	}
}

func frameErr(reason string, err error) error {
	return &MalformedBinaryError{Section: ".debug_frame", Reason: reason, Err: err}
}

// leReader is a little-endian cursor over a byte slice with the integer and
// LEB128 primitives the frame section needs.
type leReader struct {
	data []byte
	pos  int
}

func (r *leReader) u8() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, errShortRead
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *leReader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *leReader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *leReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, errShortRead
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *leReader) rest() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}

func (r *leReader) cstring() (string, error) {
	start := r.pos
	for r.pos < len(r.data) {
		if r.data[r.pos] == 0 {
			s := string(r.data[start:r.pos])
			r.pos++
			return s, nil
		}
		r.pos++
	}
	return "", errShortRead
}

func (r *leReader) uleb() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
		if shift > 63 {
			return 0, errShortRead
		}
	}
}

func (r *leReader) sleb() (int64, error) {
	var v int64
	var shift uint
	for {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		v |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				v |= -1 << shift
			}
			return v, nil
		}
		if shift > 63 {
			return 0, errShortRead
		}
	}
}

var errShortRead = fmt.Errorf("unexpected end of data")
