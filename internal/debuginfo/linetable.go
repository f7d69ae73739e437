package debuginfo

import (
	"debug/dwarf"
	"io"
	"sort"
)

// lineEntry maps the addresses in [Addr, next entry) to one source line.
// End-of-sequence entries carry File == "" and act as range terminators.
type lineEntry struct {
	Addr uint64
	File string
	Line int
}

// lineTable is the flattened, sorted DWARF line program output. Entries are
// strictly increasing by address, so lookup is a binary search.
type lineTable struct {
	entries []lineEntry
}

// loadLineTable runs the line program of every compile unit and flattens the
// rows into one sorted table.
func loadLineTable(dw *dwarf.Data) (lineTable, error) {
	var entries []lineEntry

	r := dw.Reader()
	for {
		cu, err := r.Next()
		if err != nil {
			return lineTable{}, &MalformedBinaryError{Section: ".debug_info", Reason: "broken DIE tree", Err: err}
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}

		lr, err := dw.LineReader(cu)
		if err != nil {
			return lineTable{}, &MalformedBinaryError{Section: ".debug_line", Reason: "broken line program", Err: err}
		}
		if lr == nil {
			continue
		}

		var row dwarf.LineEntry
		for {
			err := lr.Next(&row)
			if err == io.EOF {
				break
			}
			if err != nil {
				return lineTable{}, &MalformedBinaryError{Section: ".debug_line", Reason: "broken line program", Err: err}
			}

			e := lineEntry{Addr: row.Address}
			if !row.EndSequence && row.File != nil {
				e.File = row.File.Name
				e.Line = row.Line
			}
			entries = append(entries, e)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Addr < entries[j].Addr })

	// Collapse duplicate addresses, keeping the last row emitted for an
	// address (matches line program semantics)
	dedup := entries[:0]
	for i, e := range entries {
		if i+1 < len(entries) && entries[i+1].Addr == e.Addr {
			continue
		}
		dedup = append(dedup, e)
	}

	return lineTable{entries: dedup}, nil
}

// lookup returns the source position covering addr, or ok == false when addr
// falls outside every line sequence.
func (t lineTable) lookup(addr uint32) (file string, line int, ok bool) {
	a := uint64(addr)
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Addr > a
	})
	if i == 0 {
		return "", 0, false
	}
	e := t.entries[i-1]
	if e.File == "" {
		// End-of-sequence marker: addr is in a gap between functions
		return "", 0, false
	}
	return e.File, e.Line, true
}
