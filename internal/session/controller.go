package session

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/feldspar-dev/embrun/internal/config"
	"github.com/feldspar-dev/embrun/internal/outcome"
	"github.com/feldspar-dev/embrun/internal/probe"
	"github.com/feldspar-dev/embrun/internal/telemetry"
	"github.com/feldspar-dev/embrun/internal/unwind"
)

// pollInterval paces the run loop when neither telemetry nor a halt is
// pending. Short enough that a halt is noticed promptly, long enough not to
// hammer the transport.
const pollInterval = 10 * time.Millisecond

// Image is the debug information the session consumes: everything the
// unwinder needs plus the embedded log table. *debuginfo.Image implements
// it.
type Image interface {
	unwind.Image
	LogSection() []byte
}

// Options configures one run session.
type Options struct {
	// Chip supplies the symbol policy and RAM range
	Chip *config.Chip

	// Timeout halts the target after this long; 0 means run until halt or
	// interrupt
	Timeout time.Duration

	// MaxFrames caps the backtrace; 0 means the unwinder default
	MaxFrames int

	// Verbose dumps raw telemetry frames alongside the decoded records
	Verbose bool

	// Out receives the styled run output (defaults to os.Stdout in the CLI)
	Out io.Writer
}

// Controller owns one flash-run-report session. It is the single goroutine
// that talks to the probe: the run loop interleaves telemetry pulls with
// halt polls so the exclusive transport never sees concurrent requests.
type Controller struct {
	probe    probe.Probe
	img      Image
	pipeline *telemetry.Pipeline
	reporter *Reporter
	opts     Options
	logger   *zap.Logger
}

// New assembles a controller. The decoder comes from the binary itself:
// images built with structured logging carry a log table section, everything
// else falls back to plain text frames.
func New(p probe.Probe, img Image, opts Options, logger *zap.Logger) (*Controller, error) {
	var dec telemetry.Decoder
	if data := img.LogSection(); data != nil {
		table, err := telemetry.ParseTable(data)
		if err != nil {
			return nil, fmt.Errorf("binary carries an unusable log table: %w", err)
		}
		dec = telemetry.NewTableDecoder(table)
		logger.Debug("using structured log table")
	} else {
		dec = telemetry.RawDecoder{}
		logger.Debug("no log table section, treating telemetry as text")
	}

	return &Controller{
		probe:    p,
		img:      img,
		pipeline: telemetry.NewPipeline(dec),
		reporter: NewReporter(opts.Out, opts.Verbose),
		opts:     opts,
		logger:   logger,
	}, nil
}

// Run executes the whole session: flash, start, stream logs until the
// target halts (or the timeout/interrupt fires), then unwind, classify and
// report. The returned status is the host process exit status; err is
// non-nil only for tool failures, which the caller maps to
// outcome.ExitToolFailure.
func (c *Controller) Run(ctx context.Context, image []byte) (int, error) {
	if err := c.probe.Flash(ctx, image); err != nil {
		return 0, err
	}
	if err := c.probe.Start(ctx); err != nil {
		return 0, err
	}

	status, err := c.streamUntilHalt(ctx)
	if err != nil {
		return 0, err
	}

	// The target is halted: take the register snapshot immediately, before
	// anything else touches the transport, so the backtrace reflects the
	// halt instant.
	snapCtx := ctx
	if snapCtx.Err() != nil {
		var cancel context.CancelFunc
		snapCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	regs, err := c.probe.ReadRegisters(snapCtx)
	if err != nil {
		return 0, err
	}

	// Remaining telemetry produced before the halt
	c.pullTelemetry(snapCtx)

	frames := unwind.Unwind(regs, c.memory(snapCtx), c.img, unwind.Options{
		MaxFrames:    c.opts.MaxFrames,
		EntrySymbols: c.opts.Chip.EntrySymbols,
	})

	result := outcome.Classify(status, frames, regs, outcome.SymbolPolicy{
		ExitSymbols:  c.opts.Chip.ExitSymbols,
		PanicSymbols: c.opts.Chip.PanicSymbols,
	})

	c.reporter.Backtrace(frames)
	c.reporter.Outcome(result)
	c.logger.Info("session classified",
		zap.String("outcome", result.String()),
		zap.Int("frames", len(frames)),
		zap.Uint64("records", c.pipeline.Records()),
		zap.Uint64("decode_errors", c.pipeline.DecodeErrors()),
	)

	if err := c.probe.ResetAndDetach(snapCtx); err != nil {
		c.logger.Warn("reset and detach failed", zap.Error(err))
	}

	return result.ExitStatus(), nil
}

// streamUntilHalt is the single-owner run loop: one telemetry pull and one
// halt poll per iteration. It returns the halt status, arranging for the
// target to actually be halted on every path (natural halt, timeout,
// interrupt).
func (c *Controller) streamUntilHalt(ctx context.Context) (probe.Status, error) {
	var deadline time.Time
	if c.opts.Timeout > 0 {
		deadline = time.Now().Add(c.opts.Timeout)
	}

	for {
		if ctx.Err() != nil {
			c.logger.Info("interrupted, halting target")
			return c.haltNow()
		}

		c.pullTelemetry(ctx)

		status, err := c.probe.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.haltNow()
			}
			return probe.Status{}, err
		}
		if status.Halted {
			return status, nil
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			c.logger.Info("timeout expired, halting target",
				zap.Duration("timeout", c.opts.Timeout))
			return c.haltNow()
		}

		time.Sleep(pollInterval)
	}
}

// haltNow force-halts the target on a fresh context (the session context
// may already be canceled) and reports the halt as host-requested.
func (c *Controller) haltNow() (probe.Status, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.probe.Halt(ctx); err != nil {
		return probe.Status{}, err
	}
	return probe.Status{Halted: true, Reason: probe.HaltRequest}, nil
}

// pullTelemetry drains the probe's telemetry buffer into the pipeline and
// prints whatever records come out. Transient failures are logged and left
// for the next iteration; the stream is append-only so nothing is lost.
func (c *Controller) pullTelemetry(ctx context.Context) {
	data, err := c.probe.PullTelemetry(ctx)
	if err != nil {
		c.logger.Warn("telemetry pull failed, will retry", zap.Error(err))
		return
	}
	if len(data) == 0 {
		return
	}
	if c.opts.Verbose {
		c.reporter.RawBytes(data)
	}
	for _, rec := range c.pipeline.Feed(data) {
		c.reporter.Record(rec)
	}
}

// memory adapts the probe to the unwinder's Memory interface.
func (c *Controller) memory(ctx context.Context) unwind.Memory {
	return unwind.MemoryFunc(func(addr uint32, n int) ([]byte, error) {
		return c.probe.ReadMemory(ctx, addr, n)
	})
}
