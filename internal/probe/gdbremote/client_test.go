package gdbremote

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/feldspar-dev/embrun/internal/probe"
	"github.com/feldspar-dev/embrun/internal/unwind"
)

// fakeStub is a minimal in-process GDB remote stub. handle maps a received
// payload to a reply; an empty reply means "no immediate answer" (the 'c'
// packet). Anything queued on push is sent unsolicited after the next
// handled packet.
type fakeStub struct {
	t      *testing.T
	ln     net.Listener
	handle func(payload string) (reply string, push []string)
}

func newFakeStub(t *testing.T, handle func(string) (string, []string)) *fakeStub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeStub{t: t, ln: ln, handle: handle}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeStub) addr() string { return s.ln.Addr().String() }

func (s *fakeStub) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		pkt, err := readPacket(r)
		if err != nil {
			return
		}
		conn.Write([]byte{'+'})
		reply, push := s.handle(string(pkt))
		if reply != "" || len(push) == 0 {
			conn.Write(encodePacket([]byte(reply)))
		}
		for _, p := range push {
			conn.Write(encodePacket([]byte(p)))
		}
	}
}

func dialStub(t *testing.T, s *fakeStub) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = s.addr()
	c, err := Dial(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestReadRegisters(t *testing.T) {
	regfile := make([]byte, unwind.NumRegs*4)
	binary.LittleEndian.PutUint32(regfile[unwind.RegSP*4:], 0x2001fff0)
	binary.LittleEndian.PutUint32(regfile[unwind.RegLR*4:], 0x08000455)
	binary.LittleEndian.PutUint32(regfile[unwind.RegPC*4:], 0x08000400)

	stub := newFakeStub(t, func(payload string) (string, []string) {
		switch {
		case strings.HasPrefix(payload, "qSupported"):
			return "swbreak+", nil
		case payload == "g":
			return hex.EncodeToString(regfile), nil
		}
		return "E01", nil
	})

	c := dialStub(t, stub)
	regs, err := c.ReadRegisters(context.Background())
	if err != nil {
		t.Fatalf("ReadRegisters: %v", err)
	}
	if got := regs.SP(); got != 0x2001fff0 {
		t.Errorf("SP = %#x, want 0x2001fff0", got)
	}
	if got := regs.PC(); got != 0x08000400 {
		t.Errorf("PC = %#x, want 0x08000400", got)
	}
	if got := regs.LR(); got != 0x08000455 {
		t.Errorf("LR = %#x, want 0x08000455", got)
	}
}

func TestReadMemory(t *testing.T) {
	stub := newFakeStub(t, func(payload string) (string, []string) {
		switch {
		case strings.HasPrefix(payload, "qSupported"):
			return "", nil
		case payload == "m20000000,4":
			return "efbeadde", nil
		case strings.HasPrefix(payload, "m"):
			return "E0e", nil
		}
		return "E01", nil
	})

	c := dialStub(t, stub)
	data, err := c.ReadMemory(context.Background(), 0x20000000, 4)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if got := binary.LittleEndian.Uint32(data); got != 0xdeadbeef {
		t.Errorf("memory word = %#x, want 0xdeadbeef", got)
	}

	if _, err := c.ReadMemory(context.Background(), 0xf0000000, 4); err == nil {
		t.Error("read of inaccessible address should fail")
	}
}

func TestStatusAndTelemetry(t *testing.T) {
	stub := newFakeStub(t, func(payload string) (string, []string) {
		switch {
		case strings.HasPrefix(payload, "qSupported"):
			return "", nil
		case strings.HasPrefix(payload, "qRcmd"):
			return "OK", nil
		case payload == "c":
			// No reply packet; push console output then the halt
			return "", []string{
				"O" + hex.EncodeToString([]byte("boot bytes")),
				"T05",
			}
		}
		return "E01", nil
	})

	c := dialStub(t, stub)
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var st probe.Status
	deadline := time.Now().Add(2 * time.Second)
	for !st.Halted && time.Now().Before(deadline) {
		var err error
		st, err = c.Status(ctx)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
	}
	if !st.Halted {
		t.Fatal("target never reported a halt")
	}
	if st.Reason != probe.HaltBreakpoint {
		t.Errorf("halt reason = %v, want breakpoint", st.Reason)
	}

	data, err := c.PullTelemetry(ctx)
	if err != nil {
		t.Fatalf("PullTelemetry: %v", err)
	}
	if string(data) != "boot bytes" {
		t.Errorf("telemetry = %q, want %q", data, "boot bytes")
	}
}

func TestParseStopReply(t *testing.T) {
	tests := []struct {
		pkt        string
		wantReason probe.HaltReason
		wantFault  probe.FaultKind
	}{
		{"T05thread:01;", probe.HaltBreakpoint, probe.FaultUnknown},
		{"S05", probe.HaltBreakpoint, probe.FaultUnknown},
		{"T02", probe.HaltRequest, probe.FaultUnknown},
		{"T04", probe.HaltFault, probe.FaultUsage},
		{"T07", probe.HaltFault, probe.FaultHard},
		{"T0a", probe.HaltFault, probe.FaultBus},
		{"T0b", probe.HaltFault, probe.FaultMemManage},
		{"T06", probe.HaltFault, probe.FaultUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.pkt, func(t *testing.T) {
			st := parseStopReply([]byte(tt.pkt))
			if !st.Halted {
				t.Fatal("stop reply should mark the target halted")
			}
			if st.Reason != tt.wantReason {
				t.Errorf("reason = %v, want %v", st.Reason, tt.wantReason)
			}
			if st.Fault != tt.wantFault {
				t.Errorf("fault = %v, want %v", st.Fault, tt.wantFault)
			}
		})
	}
}
