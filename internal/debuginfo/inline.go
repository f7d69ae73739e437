package debuginfo

import (
	"debug/dwarf"
	"sort"
)

// inlineEntry is one inlined-subroutine PC range: within [Low, High) the
// function Name is logically on the stack even though no call frame exists
// for it. Depth is the DIE nesting depth, used to order nested inlines
// innermost-first. CallFile/CallLine point at the call site.
type inlineEntry struct {
	Low      uint64
	High     uint64
	Depth    int
	Name     string
	CallFile string
	CallLine int
}

// inlineTable holds inline ranges sorted by Low with an augmented running
// maximum of High, so containment queries can stop scanning early. Ranges
// nest (an inline inside an inline), so unlike the symbol and line tables
// they legitimately overlap across depths.
type inlineTable struct {
	entries []inlineEntry
	maxHigh []uint64
}

// loadInlineTable walks the DIE tree collecting DW_TAG_inlined_subroutine
// ranges inside each subprogram, resolving names through the abstract origin
// chain.
func loadInlineTable(dw *dwarf.Data) (inlineTable, error) {
	var entries []inlineEntry

	r := dw.Reader()
	depth := 0
	// -1 = outside a subprogram DIE
	subprogramDepth := -1
	var cu *dwarf.Entry

	for {
		entry, err := r.Next()
		if err != nil {
			return inlineTable{}, &MalformedBinaryError{Section: ".debug_info", Reason: "broken DIE tree", Err: err}
		}
		if entry == nil {
			break
		}
		if entry.Tag == 0 {
			depth--
			if subprogramDepth >= 0 && depth <= subprogramDepth {
				subprogramDepth = -1
			}
			continue
		}

		switch entry.Tag {
		case dwarf.TagCompileUnit:
			cu = entry

		case dwarf.TagSubprogram:
			// Only subprograms with a PC span matter; abstract (inlined-only)
			// subprograms are referenced via the origin chain instead
			if subprogramDepth < 0 {
				if _, hasLow := entry.Val(dwarf.AttrLowpc).(uint64); hasLow {
					subprogramDepth = depth
				}
			}

		case dwarf.TagInlinedSubroutine:
			if subprogramDepth >= 0 {
				ie, err := inlineFromDIE(dw, cu, entry, depth)
				if err != nil {
					return inlineTable{}, err
				}
				entries = append(entries, ie...)
			}
		}

		if entry.Children {
			depth++
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Low < entries[j].Low })

	maxHigh := make([]uint64, len(entries))
	var running uint64
	for i, e := range entries {
		if e.High > running {
			running = e.High
		}
		maxHigh[i] = running
	}

	return inlineTable{entries: entries, maxHigh: maxHigh}, nil
}

// inlineFromDIE builds the entries for one DW_TAG_inlined_subroutine, which
// may span several discontiguous PC ranges.
func inlineFromDIE(dw *dwarf.Data, cu, entry *dwarf.Entry, depth int) ([]inlineEntry, error) {
	name := originName(dw, entry)
	if name == "" {
		// Nameless inline: nothing useful to report, skip it
		return nil, nil
	}

	ranges, err := dw.Ranges(entry)
	if err != nil {
		return nil, &MalformedBinaryError{Section: ".debug_info", Reason: "broken range list", Err: err}
	}

	var callFile string
	var callLine int
	if idx, ok := entry.Val(dwarf.AttrCallFile).(int64); ok && cu != nil {
		if lr, err := dw.LineReader(cu); err == nil && lr != nil {
			files := lr.Files()
			if idx >= 0 && int(idx) < len(files) && files[idx] != nil {
				callFile = files[idx].Name
			}
		}
	}
	if line, ok := entry.Val(dwarf.AttrCallLine).(int64); ok {
		callLine = int(line)
	}

	var out []inlineEntry
	for _, r := range ranges {
		if r[1] <= r[0] {
			continue
		}
		out = append(out, inlineEntry{
			Low:      r[0],
			High:     r[1],
			Depth:    depth,
			Name:     Demangle(name),
			CallFile: callFile,
			CallLine: callLine,
		})
	}
	return out, nil
}

// originName resolves a DIE's name through DW_AT_abstract_origin and
// DW_AT_specification chains (bounded, in case of cyclic references).
func originName(dw *dwarf.Data, entry *dwarf.Entry) string {
	r := dw.Reader()
	cur := entry
	for hop := 0; hop < 4; hop++ {
		if name, ok := cur.Val(dwarf.AttrLinkageName).(string); ok {
			return name
		}
		if name, ok := cur.Val(dwarf.AttrName).(string); ok {
			return name
		}

		ref, ok := cur.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
		if !ok {
			ref, ok = cur.Val(dwarf.AttrSpecification).(dwarf.Offset)
			if !ok {
				return ""
			}
		}
		r.Seek(ref)
		next, err := r.Next()
		if err != nil || next == nil {
			return ""
		}
		cur = next
	}
	return ""
}

// at returns the inline frames covering addr, innermost (deepest) first.
func (t inlineTable) at(addr uint32) []Location {
	a := uint64(addr)
	// First entry with Low > addr; everything at or after it starts too late
	hi := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Low > a
	})

	var hits []inlineEntry
	for i := hi - 1; i >= 0; i-- {
		if t.maxHigh[i] <= a {
			// No earlier entry can reach addr
			break
		}
		e := t.entries[i]
		if a >= e.Low && a < e.High {
			hits = append(hits, e)
		}
	}
	if len(hits) == 0 {
		return nil
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Depth > hits[j].Depth })

	locs := make([]Location, len(hits))
	for i, h := range hits {
		locs[i] = Location{Function: h.Name, File: h.CallFile, Line: h.CallLine}
	}
	return locs
}
