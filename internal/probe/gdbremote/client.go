package gdbremote

import (
	"bufio"
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/feldspar-dev/embrun/internal/probe"
	"github.com/feldspar-dev/embrun/internal/unwind"
)

// Config holds the connection settings for a GDB remote stub.
type Config struct {
	// Addr is the stub endpoint, e.g. "localhost:3333" for OpenOCD
	Addr string

	// MaxWriteSize chunks flash writes. Default: 1024
	MaxWriteSize int

	// PollWait bounds one non-blocking socket poll. Default: 20ms
	PollWait time.Duration
}

// DefaultConfig returns a Config with sensible defaults for OpenOCD.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:3333",
		MaxWriteSize: 1024,
		PollWait:     20 * time.Millisecond,
	}
}

// Client drives a target through a GDB remote serial protocol stub
// (OpenOCD, pyOCD, JLinkGDBServer) over TCP.
//
// The transport is a single TCP stream and the protocol is strictly
// request/response, so the Client is single-owner like every probe: all
// calls must come from one goroutine.
type Client struct {
	cfg    Config
	conn   net.Conn
	r      *bufio.Reader
	logger *zap.Logger

	running   bool
	lastStop  probe.Status
	telemetry []byte
}

var _ probe.Probe = (*Client)(nil)

// Dial attaches to the stub. This is the probe-layer attach operation;
// failure here is fatal for the session.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.MaxWriteSize <= 0 {
		cfg.MaxWriteSize = 1024
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = 20 * time.Millisecond
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, &probe.ConnectError{Endpoint: cfg.Addr, Err: err}
	}

	c := &Client{
		cfg:    cfg,
		conn:   conn,
		r:      bufio.NewReader(conn),
		logger: logger,
	}

	// Feature negotiation; the reply content doesn't matter, we only use
	// baseline packets
	if _, err := c.command(ctx, "qSupported:multiprocess-;swbreak+"); err != nil {
		conn.Close()
		return nil, &probe.ConnectError{Endpoint: cfg.Addr, Err: err}
	}

	c.logger.Info("attached to GDB remote stub", zap.String("addr", cfg.Addr))
	return c, nil
}

// Close releases the TCP connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Flash programs every loadable ELF segment via vFlashErase/vFlashWrite.
func (c *Client) Flash(ctx context.Context, image []byte) error {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return &probe.TransportError{Op: "flash", Endpoint: c.cfg.Addr, Err: fmt.Errorf("not a valid ELF file: %w", err)}
	}
	defer f.Close()

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return &probe.TransportError{Op: "flash", Endpoint: c.cfg.Addr, Err: err}
		}
		if err := c.flashSegment(ctx, uint32(prog.Paddr), data); err != nil {
			return err
		}
	}

	if err := c.expectOK(ctx, "vFlashDone"); err != nil {
		return &probe.TransportError{Op: "flash", Endpoint: c.cfg.Addr, Err: err}
	}
	c.logger.Info("firmware flashed", zap.String("addr", c.cfg.Addr))
	return nil
}

func (c *Client) flashSegment(ctx context.Context, addr uint32, data []byte) error {
	c.logger.Debug("flashing segment",
		zap.Uint32("addr", addr),
		zap.Int("size", len(data)),
	)

	if err := c.expectOK(ctx, fmt.Sprintf("vFlashErase:%x,%x", addr, len(data))); err != nil {
		return &probe.TransportError{Op: "flash-erase", Endpoint: c.cfg.Addr, Err: err}
	}

	for off := 0; off < len(data); off += c.cfg.MaxWriteSize {
		end := off + c.cfg.MaxWriteSize
		if end > len(data) {
			end = len(data)
		}
		payload := append([]byte(fmt.Sprintf("vFlashWrite:%x:", addr+uint32(off))), escapeBinary(data[off:end])...)
		reply, err := c.commandRaw(ctx, payload)
		if err != nil {
			return &probe.TransportError{Op: "flash-write", Endpoint: c.cfg.Addr, Err: err}
		}
		if string(reply) != "OK" {
			return &probe.TransportError{Op: "flash-write", Endpoint: c.cfg.Addr, Err: fmt.Errorf("stub replied %q", reply)}
		}
	}
	return nil
}

// Start resets the target and resumes execution.
func (c *Client) Start(ctx context.Context) error {
	if err := c.monitor(ctx, "reset halt"); err != nil {
		return &probe.TransportError{Op: "reset", Endpoint: c.cfg.Addr, Err: err}
	}

	// 'c' has no immediate reply; the stop packet arrives whenever the
	// target halts and is picked up by Status polls
	if err := c.send(ctx, []byte("c")); err != nil {
		return &probe.TransportError{Op: "continue", Endpoint: c.cfg.Addr, Err: err}
	}
	c.running = true
	c.lastStop = probe.Status{}
	c.logger.Info("target running")
	return nil
}

// Status polls for a stop reply without blocking beyond the configured poll
// window. Console-output packets encountered on the way are routed to the
// telemetry buffer.
func (c *Client) Status(ctx context.Context) (probe.Status, error) {
	if !c.running {
		return c.lastStop, nil
	}
	if err := c.drainAsync(ctx); err != nil {
		return probe.Status{}, &probe.TransportError{Op: "status", Endpoint: c.cfg.Addr, Err: err}
	}
	return c.lastStop, nil
}

// ReadRegisters reads the core register file of a halted target.
func (c *Client) ReadRegisters(ctx context.Context) (unwind.RegisterSet, error) {
	reply, err := c.command(ctx, "g")
	if err != nil {
		return unwind.RegisterSet{}, &probe.TransportError{Op: "read-registers", Endpoint: c.cfg.Addr, Err: err}
	}
	if isErrorReply([]byte(reply)) {
		return unwind.RegisterSet{}, &probe.TransportError{Op: "read-registers", Endpoint: c.cfg.Addr, Err: fmt.Errorf("stub replied %q", reply)}
	}

	raw, err := hex.DecodeString(reply)
	if err != nil {
		return unwind.RegisterSet{}, &probe.TransportError{Op: "read-registers", Endpoint: c.cfg.Addr, Err: err}
	}
	if len(raw) < unwind.NumRegs*4 {
		return unwind.RegisterSet{}, &probe.TransportError{Op: "read-registers", Endpoint: c.cfg.Addr,
			Err: fmt.Errorf("short register file: %d bytes", len(raw))}
	}

	var regs unwind.RegisterSet
	for i := 0; i < unwind.NumRegs; i++ {
		regs = regs.With(i, binary.LittleEndian.Uint32(raw[i*4:i*4+4]))
	}
	return regs, nil
}

// ReadMemory reads n bytes of target memory at addr.
func (c *Client) ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error) {
	reply, err := c.command(ctx, fmt.Sprintf("m%x,%x", addr, n))
	if err != nil {
		return nil, &probe.TransportError{Op: "read-memory", Endpoint: c.cfg.Addr, Err: err}
	}
	if isErrorReply([]byte(reply)) {
		return nil, &probe.TransportError{Op: "read-memory", Endpoint: c.cfg.Addr,
			Err: fmt.Errorf("address 0x%x not accessible (%s)", addr, reply)}
	}
	data, err := hex.DecodeString(reply)
	if err != nil {
		return nil, &probe.TransportError{Op: "read-memory", Endpoint: c.cfg.Addr, Err: err}
	}
	if len(data) != n {
		return nil, &probe.TransportError{Op: "read-memory", Endpoint: c.cfg.Addr,
			Err: fmt.Errorf("short read: got %d of %d bytes", len(data), n)}
	}
	return data, nil
}

// PullTelemetry drains pending console-output packets and returns whatever
// the target has written since the last pull.
func (c *Client) PullTelemetry(ctx context.Context) ([]byte, error) {
	if c.running {
		if err := c.drainAsync(ctx); err != nil {
			return nil, &probe.TransportError{Op: "pull-telemetry", Endpoint: c.cfg.Addr, Err: err}
		}
	}
	out := c.telemetry
	c.telemetry = nil
	return out, nil
}

// Halt interrupts a running target (the session timeout path).
func (c *Client) Halt(ctx context.Context) error {
	if !c.running {
		return nil
	}
	// The break byte is sent bare, outside packet framing
	if err := c.setWriteDeadline(ctx); err != nil {
		return err
	}
	if _, err := c.conn.Write([]byte{0x03}); err != nil {
		return &probe.TransportError{Op: "halt", Endpoint: c.cfg.Addr, Err: err}
	}

	// The stop reply confirms the halt
	deadline := time.Now().Add(2 * time.Second)
	for c.running && time.Now().Before(deadline) {
		if err := c.drainAsync(ctx); err != nil {
			return &probe.TransportError{Op: "halt", Endpoint: c.cfg.Addr, Err: err}
		}
	}
	if c.running {
		return &probe.TransportError{Op: "halt", Endpoint: c.cfg.Addr, Err: fmt.Errorf("target did not stop")}
	}
	c.lastStop.Reason = probe.HaltRequest
	return nil
}

// ResetAndDetach resets the target and releases the stub.
func (c *Client) ResetAndDetach(ctx context.Context) error {
	if c.running {
		if err := c.Halt(ctx); err != nil {
			c.logger.Warn("halt before detach failed", zap.Error(err))
		}
	}
	if err := c.monitor(ctx, "reset run"); err != nil {
		c.logger.Warn("reset before detach failed", zap.Error(err))
	}
	if _, err := c.command(ctx, "D"); err != nil {
		return &probe.TransportError{Op: "detach", Endpoint: c.cfg.Addr, Err: err}
	}
	c.logger.Info("detached from target")
	return c.conn.Close()
}

// monitor runs an OpenOCD monitor command via qRcmd.
func (c *Client) monitor(ctx context.Context, cmd string) error {
	reply, err := c.command(ctx, "qRcmd,"+hex.EncodeToString([]byte(cmd)))
	if err != nil {
		return err
	}
	if isErrorReply([]byte(reply)) {
		return fmt.Errorf("monitor %q failed: %s", cmd, reply)
	}
	return nil
}

// drainAsync consumes packets the stub pushed on its own: console output
// ('O' hex payloads, routed to the telemetry buffer) and stop replies. A
// poll-window read timeout just means nothing is pending.
func (c *Client) drainAsync(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PollWait))
		pkt, err := readPacket(c.r)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return err
		}
		c.ack()

		switch {
		case len(pkt) > 1 && pkt[0] == 'O':
			data, err := hex.DecodeString(string(pkt[1:]))
			if err == nil {
				c.telemetry = append(c.telemetry, data...)
			}
		case len(pkt) >= 3 && (pkt[0] == 'T' || pkt[0] == 'S'):
			c.running = false
			c.lastStop = parseStopReply(pkt)
			c.logger.Info("target halted",
				zap.String("reason", c.lastStop.Reason.String()),
				zap.String("stop", string(pkt)),
			)
			return nil
		case len(pkt) >= 1 && (pkt[0] == 'W' || pkt[0] == 'X'):
			c.running = false
			c.lastStop = probe.Status{Halted: true, Reason: probe.HaltBreakpoint}
			return nil
		default:
			c.logger.Debug("ignoring unexpected packet", zap.String("packet", string(pkt)))
		}
	}
}

// parseStopReply maps a T/S stop packet's signal number to a halt reason.
// Stubs report faults as the closest unix signal: SIGSEGV for memory
// management faults, SIGBUS for bus faults, SIGILL for usage faults, SIGEMT
// for hard faults; SIGTRAP is a breakpoint and SIGINT a host interrupt.
func parseStopReply(pkt []byte) probe.Status {
	st := probe.Status{Halted: true, Reason: probe.HaltBreakpoint}
	sig, err := strconv.ParseUint(string(pkt[1:3]), 16, 8)
	if err != nil {
		return st
	}
	switch sig {
	case 2: // SIGINT
		st.Reason = probe.HaltRequest
	case 5: // SIGTRAP
		st.Reason = probe.HaltBreakpoint
	case 4: // SIGILL
		st.Reason, st.Fault = probe.HaltFault, probe.FaultUsage
	case 7: // SIGEMT
		st.Reason, st.Fault = probe.HaltFault, probe.FaultHard
	case 10: // SIGBUS
		st.Reason, st.Fault = probe.HaltFault, probe.FaultBus
	case 11: // SIGSEGV
		st.Reason, st.Fault = probe.HaltFault, probe.FaultMemManage
	default:
		st.Reason, st.Fault = probe.HaltFault, probe.FaultUnknown
	}
	return st
}

// command sends one textual packet and returns the textual reply.
func (c *Client) command(ctx context.Context, payload string) (string, error) {
	reply, err := c.commandRaw(ctx, []byte(payload))
	return string(reply), err
}

// commandRaw is the request/response primitive: send, await ack, await
// reply, ack the reply. Intermediate console-output packets are routed to
// the telemetry buffer.
func (c *Client) commandRaw(ctx context.Context, payload []byte) ([]byte, error) {
	if err := c.send(ctx, payload); err != nil {
		return nil, err
	}

	for {
		if err := c.setReadDeadline(ctx); err != nil {
			return nil, err
		}
		pkt, err := readPacket(c.r)
		if err != nil {
			return nil, err
		}
		c.ack()
		if len(pkt) > 1 && pkt[0] == 'O' {
			if data, err := hex.DecodeString(string(pkt[1:])); err == nil {
				c.telemetry = append(c.telemetry, data...)
			}
			continue
		}
		return pkt, nil
	}
}

// send writes one packet and consumes its ack.
func (c *Client) send(ctx context.Context, payload []byte) error {
	if err := c.setWriteDeadline(ctx); err != nil {
		return err
	}
	if _, err := c.conn.Write(encodePacket(payload)); err != nil {
		return err
	}
	if err := c.setReadDeadline(ctx); err != nil {
		return err
	}
	return readAck(c.r)
}

func (c *Client) expectOK(ctx context.Context, payload string) error {
	reply, err := c.command(ctx, payload)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("%s: stub replied %q", payload, reply)
	}
	return nil
}

func (c *Client) ack() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = c.conn.Write([]byte{'+'})
}

func (c *Client) setReadDeadline(ctx context.Context) error {
	return c.setDeadline(ctx, c.conn.SetReadDeadline)
}

func (c *Client) setWriteDeadline(ctx context.Context) error {
	return c.setDeadline(ctx, c.conn.SetWriteDeadline)
}

func (c *Client) setDeadline(ctx context.Context, set func(time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		return set(dl)
	}
	return set(time.Now().Add(10 * time.Second))
}
