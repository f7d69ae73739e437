package wsbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/feldspar-dev/embrun/internal/probe"
	"github.com/feldspar-dev/embrun/internal/unwind"
)

// Bridge message ops. One JSON request per operation, one JSON response per
// request, on a single websocket.
const (
	opFlash       = "flash"
	opStart       = "start"
	opStatus      = "status"
	opRegisters   = "registers"
	opMemory      = "memory"
	opTelemetry   = "telemetry"
	opHalt        = "halt"
	opResetDetach = "reset-detach"
)

// request is the host-to-bridge envelope. Data is base64 on the wire.
type request struct {
	Op   string `json:"op"`
	Addr uint32 `json:"addr,omitempty"`
	Len  int    `json:"len,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// response is the bridge-to-host envelope.
type response struct {
	OK     bool     `json:"ok"`
	Error  string   `json:"error,omitempty"`
	Halted bool     `json:"halted,omitempty"`
	Reason string   `json:"reason,omitempty"`
	Fault  string   `json:"fault,omitempty"`
	Regs   []uint32 `json:"regs,omitempty"`
	Data   []byte   `json:"data,omitempty"`
}

// flashChunkSize bounds a single flash message so the bridge never has to
// buffer a whole image.
const flashChunkSize = 64 * 1024

// Client drives a target through an embrun bridge daemon over a websocket.
// Bridges front a probe on another machine (or a dev kit with onboard
// networking) and are discoverable over mDNS.
//
// Like every probe, a Client is owned by a single goroutine; the websocket
// carries one request/response exchange at a time.
type Client struct {
	conn   *websocket.Conn
	url    string
	logger *zap.Logger
}

var _ probe.Probe = (*Client)(nil)

// Dial attaches to a bridge at a ws:// or wss:// URL.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &probe.ConnectError{Endpoint: url, Err: err}
	}
	logger.Info("attached to bridge", zap.String("url", url))
	return &Client{conn: conn, url: url, logger: logger}, nil
}

// Close releases the websocket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Flash streams the firmware image to the bridge in chunks. The bridge
// programs each chunk as it arrives.
func (c *Client) Flash(ctx context.Context, image []byte) error {
	for off := 0; off < len(image); off += flashChunkSize {
		end := off + flashChunkSize
		if end > len(image) {
			end = len(image)
		}
		req := request{Op: opFlash, Addr: uint32(off), Len: len(image), Data: image[off:end]}
		if _, err := c.roundTrip(ctx, req); err != nil {
			return &probe.TransportError{Op: "flash", Endpoint: c.url, Err: err}
		}
	}
	c.logger.Info("firmware flashed via bridge", zap.Int("size", len(image)))
	return nil
}

// Start resets the target and lets it run.
func (c *Client) Start(ctx context.Context) error {
	if _, err := c.roundTrip(ctx, request{Op: opStart}); err != nil {
		return &probe.TransportError{Op: "start", Endpoint: c.url, Err: err}
	}
	return nil
}

// Status asks the bridge for the target's halt state.
func (c *Client) Status(ctx context.Context) (probe.Status, error) {
	resp, err := c.roundTrip(ctx, request{Op: opStatus})
	if err != nil {
		return probe.Status{}, &probe.TransportError{Op: "status", Endpoint: c.url, Err: err}
	}
	return probe.Status{
		Halted: resp.Halted,
		Reason: parseReason(resp.Reason),
		Fault:  parseFault(resp.Fault),
	}, nil
}

// ReadRegisters captures the core register snapshot.
func (c *Client) ReadRegisters(ctx context.Context) (unwind.RegisterSet, error) {
	resp, err := c.roundTrip(ctx, request{Op: opRegisters})
	if err != nil {
		return unwind.RegisterSet{}, &probe.TransportError{Op: "read-registers", Endpoint: c.url, Err: err}
	}
	if len(resp.Regs) < unwind.NumRegs {
		return unwind.RegisterSet{}, &probe.TransportError{Op: "read-registers", Endpoint: c.url,
			Err: fmt.Errorf("short register file: %d registers", len(resp.Regs))}
	}
	var regs unwind.RegisterSet
	for i := 0; i < unwind.NumRegs; i++ {
		regs = regs.With(i, resp.Regs[i])
	}
	return regs, nil
}

// ReadMemory reads n bytes of target memory at addr.
func (c *Client) ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error) {
	resp, err := c.roundTrip(ctx, request{Op: opMemory, Addr: addr, Len: n})
	if err != nil {
		return nil, &probe.TransportError{Op: "read-memory", Endpoint: c.url, Err: err}
	}
	if len(resp.Data) != n {
		return nil, &probe.TransportError{Op: "read-memory", Endpoint: c.url,
			Err: fmt.Errorf("short read: got %d of %d bytes", len(resp.Data), n)}
	}
	return resp.Data, nil
}

// PullTelemetry fetches whatever log bytes the bridge has buffered.
func (c *Client) PullTelemetry(ctx context.Context) ([]byte, error) {
	resp, err := c.roundTrip(ctx, request{Op: opTelemetry})
	if err != nil {
		return nil, &probe.TransportError{Op: "pull-telemetry", Endpoint: c.url, Err: err}
	}
	return resp.Data, nil
}

// Halt stops the target.
func (c *Client) Halt(ctx context.Context) error {
	if _, err := c.roundTrip(ctx, request{Op: opHalt}); err != nil {
		return &probe.TransportError{Op: "halt", Endpoint: c.url, Err: err}
	}
	return nil
}

// ResetAndDetach resets the target and closes the bridge session.
func (c *Client) ResetAndDetach(ctx context.Context) error {
	if _, err := c.roundTrip(ctx, request{Op: opResetDetach}); err != nil {
		return &probe.TransportError{Op: "detach", Endpoint: c.url, Err: err}
	}
	c.logger.Info("detached from bridge")
	return c.conn.Close()
}

// roundTrip sends one request and decodes its response, honoring the
// context deadline on both directions.
func (c *Client) roundTrip(ctx context.Context, req request) (*response, error) {
	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Now().Add(10 * time.Second)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_ = c.conn.SetWriteDeadline(dl)
	if err := c.conn.WriteJSON(req); err != nil {
		return nil, err
	}

	_ = c.conn.SetReadDeadline(dl)
	var resp response
	if err := c.conn.ReadJSON(&resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("bridge rejected %s: %s", req.Op, resp.Error)
	}
	return &resp, nil
}

func parseReason(s string) probe.HaltReason {
	switch s {
	case "breakpoint":
		return probe.HaltBreakpoint
	case "fault":
		return probe.HaltFault
	case "request":
		return probe.HaltRequest
	default:
		return probe.HaltNone
	}
}

func parseFault(s string) probe.FaultKind {
	switch s {
	case "HardFault":
		return probe.FaultHard
	case "BusFault":
		return probe.FaultBus
	case "UsageFault":
		return probe.FaultUsage
	case "MemManage":
		return probe.FaultMemManage
	default:
		return probe.FaultUnknown
	}
}
