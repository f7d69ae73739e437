package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/feldspar-dev/embrun/internal/config"
	"github.com/feldspar-dev/embrun/internal/debuginfo"
	"github.com/feldspar-dev/embrun/internal/outcome"
	"github.com/feldspar-dev/embrun/internal/probe"
	"github.com/feldspar-dev/embrun/internal/unwind"
)

// fakeProbe scripts a target run: a fixed number of "still running" polls,
// telemetry chunks handed out one per pull, then a final halt status.
type fakeProbe struct {
	pollsUntilHalt int
	finalStatus    probe.Status
	telemetry      [][]byte
	regs           unwind.RegisterSet
	mem            map[uint32]uint32

	flashed  []byte
	started  bool
	halted   bool
	detached bool
	flashErr error
}

func (p *fakeProbe) Flash(ctx context.Context, image []byte) error {
	if p.flashErr != nil {
		return p.flashErr
	}
	p.flashed = image
	return nil
}

func (p *fakeProbe) Start(ctx context.Context) error {
	p.started = true
	return nil
}

func (p *fakeProbe) Status(ctx context.Context) (probe.Status, error) {
	if p.halted {
		return probe.Status{Halted: true, Reason: probe.HaltRequest}, nil
	}
	if p.pollsUntilHalt > 0 {
		p.pollsUntilHalt--
		return probe.Status{}, nil
	}
	return p.finalStatus, nil
}

func (p *fakeProbe) ReadRegisters(ctx context.Context) (unwind.RegisterSet, error) {
	return p.regs, nil
}

func (p *fakeProbe) ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; i += 4 {
		v, ok := p.mem[addr+uint32(i)]
		if !ok {
			return nil, errors.New("unmapped address")
		}
		binary.LittleEndian.PutUint32(out[i:], v)
	}
	return out, nil
}

func (p *fakeProbe) PullTelemetry(ctx context.Context) ([]byte, error) {
	if len(p.telemetry) == 0 {
		return nil, nil
	}
	chunk := p.telemetry[0]
	p.telemetry = p.telemetry[1:]
	return chunk, nil
}

func (p *fakeProbe) Halt(ctx context.Context) error {
	p.halted = true
	return nil
}

func (p *fakeProbe) ResetAndDetach(ctx context.Context) error {
	p.detached = true
	return nil
}

// fakeImage resolves symbols by 256-byte slot, like a linker map with one
// function per slot.
type fakeImage struct {
	symbols map[uint32]string
	rules   map[uint32]debuginfo.UnwindRule
	logData []byte
}

func (f *fakeImage) Resolve(addr uint32) (debuginfo.Location, bool) {
	fn, ok := f.symbols[addr&^0xff]
	return debuginfo.Location{Function: fn, File: "src/main.rs", Line: 1}, ok
}

func (f *fakeImage) InlinedAt(addr uint32) []debuginfo.Location { return nil }

func (f *fakeImage) RuleAt(addr uint32) (debuginfo.UnwindRule, bool) {
	rule, ok := f.rules[addr&^0xff]
	return rule, ok
}

func (f *fakeImage) LogSection() []byte { return f.logData }

func testChip() *config.Chip {
	return &config.Chip{
		Name:         "testchip",
		EntrySymbols: []string{"Reset"},
		ExitSymbols:  []string{"__embrun_exit"},
		PanicSymbols: []string{"__embrun_panic"},
	}
}

// rawFrame wraps text in the u16-LE telemetry framing.
func rawFrame(s string) []byte {
	out := make([]byte, 2+len(s))
	binary.LittleEndian.PutUint16(out, uint16(len(s)))
	copy(out[2:], s)
	return out
}

// stopRule recovers no return address, ending the walk at the current frame.
func stopRule() debuginfo.UnwindRule {
	return debuginfo.UnwindRule{
		CFAReg: unwind.RegSP, CFAOffset: 0,
		Regs:       map[uint64]debuginfo.RegRule{unwind.RegLR: {Kind: debuginfo.RuleUndefined}},
		RetAddrReg: unwind.RegLR,
	}
}

// linkRule is the standard prologue: CFA = SP + 8, LR saved at CFA-4, r7 at
// CFA-8.
func linkRule() debuginfo.UnwindRule {
	return debuginfo.UnwindRule{
		CFAReg: unwind.RegSP, CFAOffset: 8,
		Regs: map[uint64]debuginfo.RegRule{
			unwind.RegLR: {Kind: debuginfo.RuleOffset, Offset: -4},
			unwind.RegFP: {Kind: debuginfo.RuleOffset, Offset: -8},
		},
		RetAddrReg: unwind.RegLR,
	}
}

func runSession(t *testing.T, p *fakeProbe, img Image, opts Options) (int, string) {
	t.Helper()
	var buf bytes.Buffer
	opts.Out = &buf
	if opts.Chip == nil {
		opts.Chip = testChip()
	}
	c, err := New(p, img, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status, err := c.Run(context.Background(), []byte{0x7f, 'E', 'L', 'F'})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return status, buf.String()
}

func TestRunCleanExit(t *testing.T) {
	p := &fakeProbe{
		pollsUntilHalt: 2,
		finalStatus:    probe.Status{Halted: true, Reason: probe.HaltBreakpoint},
		telemetry:      [][]byte{rawFrame("boot"), rawFrame("done")},
		regs: unwind.RegisterSet{}.
			With(unwind.RegPC, 0x08000100).
			With(unwind.RegSP, 0x20000000).
			With(unwind.RegR0, 0),
	}
	img := &fakeImage{
		symbols: map[uint32]string{0x08000100: "__embrun_exit"},
		rules:   map[uint32]debuginfo.UnwindRule{0x08000100: stopRule()},
	}

	status, out := runSession(t, p, img, Options{})
	if status != 0 {
		t.Errorf("exit status = %d, want 0", status)
	}
	if !p.started || p.flashed == nil {
		t.Error("target was not flashed and started")
	}
	if !p.detached {
		t.Error("controller must reset and detach after the run")
	}
	if !strings.Contains(out, "boot") || !strings.Contains(out, "done") {
		t.Errorf("log records missing from output:\n%s", out)
	}
	if strings.Index(out, "boot") > strings.Index(out, "done") {
		t.Error("records out of order")
	}
	if !strings.Contains(out, "firmware returned with code 0") {
		t.Errorf("outcome line missing:\n%s", out)
	}
}

func TestRunExitCodePassesThrough(t *testing.T) {
	p := &fakeProbe{
		finalStatus: probe.Status{Halted: true, Reason: probe.HaltBreakpoint},
		regs: unwind.RegisterSet{}.
			With(unwind.RegPC, 0x08000100).
			With(unwind.RegSP, 0x20000000).
			With(unwind.RegR0, 3),
	}
	img := &fakeImage{
		symbols: map[uint32]string{0x08000100: "__embrun_exit"},
		rules:   map[uint32]debuginfo.UnwindRule{0x08000100: stopRule()},
	}

	status, _ := runSession(t, p, img, Options{})
	if status != 3 {
		t.Errorf("exit status = %d, want 3", status)
	}
}

func TestRunPanicBacktrace(t *testing.T) {
	// Panic three calls deep: handler, faulty, main, then the entry symbol.
	img := &fakeImage{
		symbols: map[uint32]string{
			0x08000600: "__embrun_panic",
			0x08000500: "faulty",
			0x08000400: "main",
			0x08000300: "Reset",
		},
		rules: map[uint32]debuginfo.UnwindRule{
			0x08000600: linkRule(),
			0x08000500: linkRule(),
			0x08000400: linkRule(),
		},
	}
	p := &fakeProbe{
		finalStatus: probe.Status{Halted: true, Reason: probe.HaltBreakpoint},
		regs: unwind.RegisterSet{}.
			With(unwind.RegPC, 0x08000600).
			With(unwind.RegSP, 0x20000000).
			With(unwind.RegR7, 0x20000000),
		mem: map[uint32]uint32{
			0x20000000: 0x20000008, 0x20000004: 0x08000545,
			0x20000008: 0x20000010, 0x2000000c: 0x08000445,
			0x20000010: 0x20000018, 0x20000014: 0x08000345,
		},
	}

	status, out := runSession(t, p, img, Options{})
	if status != outcome.ExitPanicked {
		t.Errorf("exit status = %d, want %d", status, outcome.ExitPanicked)
	}
	for _, fn := range []string{"__embrun_panic", "faulty", "main", "Reset"} {
		if !strings.Contains(out, fn) {
			t.Errorf("backtrace missing %q:\n%s", fn, out)
		}
	}
	if !strings.Contains(out, "firmware panicked") {
		t.Errorf("outcome line missing:\n%s", out)
	}
}

func TestRunTimeoutHaltsTarget(t *testing.T) {
	p := &fakeProbe{
		pollsUntilHalt: 1 << 30, // never halts on its own
		regs: unwind.RegisterSet{}.
			With(unwind.RegPC, 0x08000400).
			With(unwind.RegSP, 0x20000000),
	}
	img := &fakeImage{
		symbols: map[uint32]string{0x08000400: "busy_loop"},
		rules:   map[uint32]debuginfo.UnwindRule{0x08000400: stopRule()},
	}

	status, out := runSession(t, p, img, Options{Timeout: 30 * time.Millisecond})
	if status != outcome.ExitInterrupted {
		t.Errorf("exit status = %d, want %d", status, outcome.ExitInterrupted)
	}
	if !p.halted {
		t.Error("timeout must halt the target")
	}
	if !strings.Contains(out, "still running") {
		t.Errorf("outcome line missing:\n%s", out)
	}
}

func TestRunInterruptHaltsTarget(t *testing.T) {
	p := &fakeProbe{
		pollsUntilHalt: 1 << 30,
		regs: unwind.RegisterSet{}.
			With(unwind.RegPC, 0x08000400).
			With(unwind.RegSP, 0x20000000),
	}
	img := &fakeImage{
		symbols: map[uint32]string{0x08000400: "busy_loop"},
		rules:   map[uint32]debuginfo.UnwindRule{0x08000400: stopRule()},
	}

	var buf bytes.Buffer
	c, err := New(p, img, Options{Chip: testChip(), Out: &buf}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	status, err := c.Run(ctx, []byte{0x7f, 'E', 'L', 'F'})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != outcome.ExitInterrupted {
		t.Errorf("exit status = %d, want %d", status, outcome.ExitInterrupted)
	}
	if !p.halted {
		t.Error("interrupt must halt the target")
	}
}

func TestRunFlashFailureIsToolFailure(t *testing.T) {
	p := &fakeProbe{flashErr: errors.New("flash protection enabled")}
	img := &fakeImage{}

	c, err := New(p, img, Options{Chip: testChip(), Out: &bytes.Buffer{}}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Run(context.Background(), nil); err == nil {
		t.Fatal("flash failure must surface as an error")
	}
	if p.started {
		t.Error("target must not start after a failed flash")
	}
}

func TestRunStructuredTelemetry(t *testing.T) {
	table := `{"timestamps": true, "entries": [
		{"index": 0, "level": "info", "format": "hello from {s}", "file": "src/main.rs", "line": 5}
	]}`

	// index 0, timestamp 2s, string arg "blinky"
	payload := []byte{0x00, 0x80, 0x89, 0x7a, 0x06, 'b', 'l', 'i', 'n', 'k', 'y'}
	frame := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(frame, uint16(len(payload)))
	copy(frame[2:], payload)

	p := &fakeProbe{
		finalStatus: probe.Status{Halted: true, Reason: probe.HaltBreakpoint},
		telemetry:   [][]byte{frame},
		regs: unwind.RegisterSet{}.
			With(unwind.RegPC, 0x08000100).
			With(unwind.RegSP, 0x20000000).
			With(unwind.RegR0, 0),
	}
	img := &fakeImage{
		symbols: map[uint32]string{0x08000100: "__embrun_exit"},
		rules:   map[uint32]debuginfo.UnwindRule{0x08000100: stopRule()},
		logData: []byte(table),
	}

	status, out := runSession(t, p, img, Options{})
	if status != 0 {
		t.Errorf("exit status = %d, want 0", status)
	}
	if !strings.Contains(out, "hello from blinky") {
		t.Errorf("structured record missing:\n%s", out)
	}
	if !strings.Contains(out, "2.000000") {
		t.Errorf("timestamp missing:\n%s", out)
	}
}
