package debuginfo

import "testing"

func TestLineTableLookup(t *testing.T) {
	tbl := lineTable{entries: []lineEntry{
		{Addr: 0x08000100, File: "src/main.rs", Line: 10},
		{Addr: 0x08000108, File: "src/main.rs", Line: 12},
		{Addr: 0x08000110, File: "src/util.rs", Line: 3},
		{Addr: 0x08000120}, // end of sequence
		{Addr: 0x08000200, File: "src/boot.rs", Line: 1},
		{Addr: 0x08000210}, // end of sequence
	}}

	tests := []struct {
		name     string
		addr     uint32
		wantFile string
		wantLine int
		wantOK   bool
	}{
		{"first entry exact", 0x08000100, "src/main.rs", 10, true},
		{"inside first range", 0x08000106, "src/main.rs", 10, true},
		{"second entry exact", 0x08000108, "src/main.rs", 12, true},
		{"last byte of range", 0x0800010f, "src/main.rs", 12, true},
		{"different file", 0x08000114, "src/util.rs", 3, true},
		{"before first entry", 0x080000ff, "", 0, false},
		{"gap between sequences", 0x08000180, "", 0, false},
		{"second sequence", 0x08000204, "src/boot.rs", 1, true},
		{"past last sequence", 0x08000300, "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, line, ok := tbl.lookup(tt.addr)
			if ok != tt.wantOK {
				t.Fatalf("lookup(%#x) ok = %v, want %v", tt.addr, ok, tt.wantOK)
			}
			if file != tt.wantFile || line != tt.wantLine {
				t.Errorf("lookup(%#x) = %q:%d, want %q:%d", tt.addr, file, line, tt.wantFile, tt.wantLine)
			}
		})
	}
}

func TestLineTableLookupEmpty(t *testing.T) {
	var tbl lineTable
	if _, _, ok := tbl.lookup(0x08000100); ok {
		t.Error("lookup on empty table reported a hit")
	}
}
