package config

// AddressRange is a half-open target memory range [Start, End).
type AddressRange struct {
	Start uint32 `yaml:"start"`
	End   uint32 `yaml:"end"`
}

// Contains reports whether addr falls inside the range.
func (r AddressRange) Contains(addr uint32) bool {
	return addr >= r.Start && addr < r.End
}

// Chip describes one supported target family: where its RAM lives and which
// symbols delimit the firmware's lifecycle for the unwinder and the outcome
// classifier.
type Chip struct {
	// Name is the registry key (e.g. "nrf52840")
	Name string `yaml:"name"`

	// RAM is the SRAM range; stack pointers outside it are suspect
	RAM AddressRange `yaml:"ram"`

	// EntrySymbols terminate a stack walk as the normal bottom
	EntrySymbols []string `yaml:"entry_symbols"`

	// ExitSymbols mark a normal return from the firmware entry point
	ExitSymbols []string `yaml:"exit_symbols"`

	// PanicSymbols mark the firmware's panic handler
	PanicSymbols []string `yaml:"panic_symbols"`
}

// Registry is the chip catalog: built-in entries plus optional user-defined
// chips from the config file.
type Registry struct {
	Chips map[string]*Chip `yaml:"chips"`
}

// builtinChips are the targets supported out of the box. User entries with
// the same name override them.
func builtinChips() map[string]*Chip {
	armDefaults := func(name string, ram AddressRange) *Chip {
		return &Chip{
			Name:         name,
			RAM:          ram,
			EntrySymbols: []string{"Reset", "Reset_Handler", "_start"},
			ExitSymbols:  []string{"__embrun_exit", "__bkpt"},
			PanicSymbols: []string{"__embrun_panic", "rust_begin_unwind", "core::panicking::panic"},
		}
	}

	return map[string]*Chip{
		"generic-armv7m": armDefaults("generic-armv7m", AddressRange{Start: 0x2000_0000, End: 0x2010_0000}),
		"nrf52832":       armDefaults("nrf52832", AddressRange{Start: 0x2000_0000, End: 0x2001_0000}),
		"nrf52840":       armDefaults("nrf52840", AddressRange{Start: 0x2000_0000, End: 0x2004_0000}),
		"stm32f103":      armDefaults("stm32f103", AddressRange{Start: 0x2000_0000, End: 0x2000_5000}),
		"stm32f407":      armDefaults("stm32f407", AddressRange{Start: 0x2000_0000, End: 0x2002_0000}),
	}
}
