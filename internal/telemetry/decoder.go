package telemetry

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Decoder turns one complete log frame payload into a record. The concrete
// decoder is external to the pipeline: the pipeline only carves frames and
// applies the resynchronization policy around Decode failures.
type Decoder interface {
	Decode(frame []byte) (Record, error)
}

// DecodeError represents one malformed log frame. It is always recoverable:
// the pipeline resynchronizes by discarding a single byte and retrying, so a
// corrupted frame never swallows the valid frames behind it.
type DecodeError struct {
	// Reason describes what was wrong with the frame
	Reason string
	// Frame is the rejected payload (for debug logging)
	Frame []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed log frame (%d bytes): %s", len(e.Frame), e.Reason)
}

// TableEntry is one row of the decoding table: the format string and
// metadata the firmware's logging macros registered for an index.
type TableEntry struct {
	Index  uint64 `json:"index"`
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
	Line   int    `json:"line"`
}

// Table is the structured-log decoding table extracted from the binary's
// .embrun.log section.
type Table struct {
	// Timestamps says whether frame payloads carry a microsecond timestamp
	Timestamps bool         `json:"timestamps"`
	Entries    []TableEntry `json:"entries"`

	byIndex map[uint64]*TableEntry
}

// ParseTable parses the JSON log table document from the binary.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("invalid log table: %w", err)
	}
	t.byIndex = make(map[uint64]*TableEntry, len(t.Entries))
	for i := range t.Entries {
		e := &t.Entries[i]
		if _, dup := t.byIndex[e.Index]; dup {
			return nil, fmt.Errorf("invalid log table: duplicate index %d", e.Index)
		}
		t.byIndex[e.Index] = e
	}
	return &t, nil
}

// TableDecoder decodes the wire format the firmware logging macros emit:
// a uvarint table index, a uvarint microsecond timestamp when the table says
// so, then one argument per format placeholder ("{}" and "{x}" take a
// uvarint, "{s}" takes a uvarint length followed by that many UTF-8 bytes).
type TableDecoder struct {
	table *Table
}

// NewTableDecoder creates a decoder over a parsed table.
func NewTableDecoder(table *Table) *TableDecoder {
	return &TableDecoder{table: table}
}

func (d *TableDecoder) Decode(frame []byte) (Record, error) {
	idx, n := binary.Uvarint(frame)
	if n <= 0 {
		return Record{}, &DecodeError{Reason: "truncated index", Frame: frame}
	}
	rest := frame[n:]

	entry, ok := d.table.byIndex[idx]
	if !ok {
		return Record{}, &DecodeError{Reason: fmt.Sprintf("index %d not in table", idx), Frame: frame}
	}

	rec := Record{File: entry.File, Line: entry.Line}

	level, err := ParseLevel(entry.Level)
	if err != nil {
		return Record{}, &DecodeError{Reason: err.Error(), Frame: frame}
	}
	rec.Level = level

	if d.table.Timestamps {
		us, n := binary.Uvarint(rest)
		if n <= 0 {
			return Record{}, &DecodeError{Reason: "truncated timestamp", Frame: frame}
		}
		rest = rest[n:]
		rec.Timestamp = time.Duration(us) * time.Microsecond
		rec.HasTimestamp = true
	}

	msg, rest, err := formatMessage(entry.Format, rest)
	if err != nil {
		return Record{}, &DecodeError{Reason: err.Error(), Frame: frame}
	}
	if len(rest) != 0 {
		return Record{}, &DecodeError{Reason: fmt.Sprintf("%d trailing bytes after arguments", len(rest)), Frame: frame}
	}
	rec.Message = msg
	return rec, nil
}

// formatMessage substitutes wire arguments into the format string's
// placeholders and returns the unconsumed bytes.
func formatMessage(format string, args []byte) (string, []byte, error) {
	var b strings.Builder
	for {
		i := strings.IndexByte(format, '{')
		if i < 0 {
			b.WriteString(format)
			return b.String(), args, nil
		}
		b.WriteString(format[:i])
		format = format[i:]

		switch {
		case strings.HasPrefix(format, "{}"), strings.HasPrefix(format, "{x}"):
			hexfmt := format[1] == 'x'
			v, n := binary.Uvarint(args)
			if n <= 0 {
				return "", nil, fmt.Errorf("missing integer argument for %q", format[:2])
			}
			args = args[n:]
			if hexfmt {
				fmt.Fprintf(&b, "0x%x", v)
				format = format[3:]
			} else {
				fmt.Fprintf(&b, "%d", v)
				format = format[2:]
			}

		case strings.HasPrefix(format, "{s}"):
			l, n := binary.Uvarint(args)
			if n <= 0 || uint64(len(args)-n) < l {
				return "", nil, fmt.Errorf("missing string argument")
			}
			b.Write(args[n : n+int(l)])
			args = args[n+int(l):]
			format = format[3:]

		default:
			// A lone brace is literal text
			b.WriteByte('{')
			format = format[1:]
		}
	}
}

// RawDecoder handles firmware built without a log table: each frame payload
// is taken as UTF-8 text at info level. Invalid UTF-8 is rejected so the
// pipeline's resynchronization still applies to stream corruption.
type RawDecoder struct{}

func (RawDecoder) Decode(frame []byte) (Record, error) {
	if !utf8.Valid(frame) {
		return Record{}, &DecodeError{Reason: "payload is not valid UTF-8", Frame: frame}
	}
	return Record{Level: LevelInfo, Message: string(frame)}, nil
}
