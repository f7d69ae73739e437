package session

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/feldspar-dev/embrun/internal/outcome"
	"github.com/feldspar-dev/embrun/internal/telemetry"
	"github.com/feldspar-dev/embrun/internal/ui"
	"github.com/feldspar-dev/embrun/internal/unwind"
)

// Reporter renders the three surfaces of a run: the streamed log records,
// the backtrace after a halt, and the final outcome line.
type Reporter struct {
	out     io.Writer
	verbose bool
}

// NewReporter writes styled output to out; nil means os.Stdout.
func NewReporter(out io.Writer, verbose bool) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	return &Reporter{out: out, verbose: verbose}
}

// Record prints one decoded log record.
func (r *Reporter) Record(rec telemetry.Record) {
	var b strings.Builder

	if rec.HasTimestamp {
		b.WriteString(ui.TimestampStyle.Render(fmt.Sprintf("%10.6f ", rec.Timestamp.Seconds())))
	}

	level := rec.Level.String()
	style := ui.LevelStyle(level)
	b.WriteString(style.Render(fmt.Sprintf("%-5s", level)))
	b.WriteByte(' ')
	b.WriteString(style.Render(rec.Message))

	if rec.File != "" {
		b.WriteString(ui.SourceStyle.Render(fmt.Sprintf("  (%s:%d)", rec.File, rec.Line)))
	}

	fmt.Fprintln(r.out, b.String())
}

// RawBytes dumps a telemetry chunk in verbose mode, before decoding. The hex
// dump is clipped to the terminal width so a large pull does not flood the
// output.
func (r *Reporter) RawBytes(data []byte) {
	line := fmt.Sprintf("← %d bytes: % x", len(data), data)
	if max := ui.GetTerminalWidth(); len(line) > max {
		line = line[:max-3] + "..."
	}
	fmt.Fprintln(r.out, ui.SourceStyle.Render(line))
}

// Backtrace prints the symbolized stack walk, innermost frame first.
func (r *Reporter) Backtrace(frames []unwind.Frame) {
	fmt.Fprintln(r.out, ui.BacktraceTitleStyle.Render("stack backtrace:"))

	for i, f := range frames {
		var b strings.Builder
		b.WriteString(ui.FrameIndexStyle.Render(fmt.Sprintf("%d:", i)))
		b.WriteByte(' ')

		if f.Loc != nil {
			b.WriteString(ui.FrameFuncStyle.Render(f.Loc.Function))
			if f.Loc.File != "" {
				b.WriteString(ui.FrameLocStyle.Render(fmt.Sprintf(" at %s:%d", f.Loc.File, f.Loc.Line)))
			}
		} else {
			b.WriteString(ui.FrameFuncStyle.Render(fmt.Sprintf("<unknown @ %#010x>", f.PC)))
		}

		if notes := frameNotes(f.Flags); notes != "" {
			b.WriteString(" ")
			b.WriteString(ui.FrameNoteStyle.Render(notes))
		}

		fmt.Fprintln(r.out, b.String())
	}
}

// frameNotes renders the flag annotations for one frame.
func frameNotes(flags unwind.Flags) string {
	var notes []string
	if flags.Has(unwind.FlagInline) {
		notes = append(notes, "inline")
	}
	if flags.Has(unwind.FlagInexact) {
		notes = append(notes, "imprecise")
	}
	if flags.Has(unwind.FlagCorrupted) {
		notes = append(notes, "stack corrupted, walk aborted")
	}
	if flags.Has(unwind.FlagTruncated) {
		notes = append(notes, "frame limit reached")
	}
	if len(notes) == 0 {
		return ""
	}
	return "(" + strings.Join(notes, ", ") + ")"
}

// Outcome prints the final one-line verdict.
func (r *Reporter) Outcome(o outcome.Outcome) {
	var style = ui.OutcomeErrorStyle
	marker := ui.FailureMarker

	switch o.Kind {
	case outcome.KindReturned:
		if o.Code == 0 {
			style = ui.OutcomeSuccessStyle
			marker = ui.SuccessMarker
		}
	case outcome.KindStillRunning:
		style = ui.OutcomeWarnStyle
		marker = "!"
	}

	fmt.Fprintln(r.out, style.Render(fmt.Sprintf("%s %s", marker, o.String())))
}
