package debuginfo

import (
	"reflect"
	"testing"
)

// buildInlineTable mirrors what loadInlineTable produces: entries sorted by
// Low with the running-max High augmentation.
func buildInlineTable(entries []inlineEntry) inlineTable {
	maxHigh := make([]uint64, len(entries))
	var running uint64
	for i, e := range entries {
		if e.High > running {
			running = e.High
		}
		maxHigh[i] = running
	}
	return inlineTable{entries: entries, maxHigh: maxHigh}
}

func TestInlineTableAt(t *testing.T) {
	// outer inline covers [0x100, 0x140); a deeper inline nests inside it at
	// [0x110, 0x120). A separate inline lives at [0x200, 0x210).
	tbl := buildInlineTable([]inlineEntry{
		{Low: 0x08000100, High: 0x08000140, Depth: 2, Name: "outer_inline", CallFile: "src/main.rs", CallLine: 20},
		{Low: 0x08000110, High: 0x08000120, Depth: 3, Name: "inner_inline", CallFile: "src/lib.rs", CallLine: 5},
		{Low: 0x08000200, High: 0x08000210, Depth: 2, Name: "lone_inline", CallFile: "src/main.rs", CallLine: 40},
	})

	tests := []struct {
		name string
		addr uint32
		want []Location
	}{
		{
			"nested returns innermost first",
			0x08000114,
			[]Location{
				{Function: "inner_inline", File: "src/lib.rs", Line: 5},
				{Function: "outer_inline", File: "src/main.rs", Line: 20},
			},
		},
		{
			"outer only before nest",
			0x08000104,
			[]Location{{Function: "outer_inline", File: "src/main.rs", Line: 20}},
		},
		{
			"outer only after nest ends",
			0x08000120,
			[]Location{{Function: "outer_inline", File: "src/main.rs", Line: 20}},
		},
		{
			"separate range",
			0x08000208,
			[]Location{{Function: "lone_inline", File: "src/main.rs", Line: 40}},
		},
		{"before all ranges", 0x080000ff, nil},
		{"gap between ranges", 0x08000180, nil},
		{"high bound is exclusive", 0x08000140, nil},
		{"past all ranges", 0x08000300, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tbl.at(tt.addr)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("at(%#x) = %+v, want %+v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestInlineTableAtEmpty(t *testing.T) {
	var tbl inlineTable
	if got := tbl.at(0x08000100); got != nil {
		t.Errorf("at on empty table = %+v, want nil", got)
	}
}
