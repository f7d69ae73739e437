package telemetry

import (
	"encoding/binary"

	"github.com/feldspar-dev/embrun/internal/logging"
	"go.uber.org/zap"
)

// Frame layout constants. A log frame on the wire is a 2-byte little-endian
// payload length followed by the payload; the decoder owns the payload's
// internal structure.
const (
	frameHeaderLen = 2

	// MaxFrameLen bounds a single payload. A length field above it is
	// treated like any other malformed frame: skip one byte and resync.
	MaxFrameLen = 4096
)

// Pipeline reassembles length-delimited log frames from the raw telemetry
// byte stream and decodes them into ordered records.
//
// Bytes arrive in arbitrary chunks (the transport may return any amount,
// including none), so partial frames stay buffered across pulls. When the
// decoder rejects a frame, the pipeline discards exactly one byte and
// retries carving: a single corrupted byte must not silently swallow the
// valid frames behind it, and byte-wise resynchronization guarantees it
// cannot.
//
// A Pipeline is bound to one session; it is not restartable mid-stream.
type Pipeline struct {
	dec Decoder
	buf []byte

	records      uint64
	decodeErrors uint64
}

// NewPipeline creates a pipeline over the given frame decoder.
func NewPipeline(dec Decoder) *Pipeline {
	return &Pipeline{dec: dec}
}

// Feed appends freshly pulled bytes to the accumulator and returns every
// record that became complete, in arrival order.
func (p *Pipeline) Feed(data []byte) []Record {
	if len(data) > 0 {
		logging.LogRawBytes("telemetry bytes pulled", data)
		p.buf = append(p.buf, data...)
	}

	var out []Record
	for {
		rec, ok := p.carve()
		if !ok {
			break
		}
		out = append(out, rec)
	}
	return out
}

// carve attempts to cut one complete, decodable frame off the front of the
// accumulator. It consumes resync bytes on its own; ok is false only when
// more input is needed.
func (p *Pipeline) carve() (Record, bool) {
	for {
		if len(p.buf) < frameHeaderLen {
			return Record{}, false
		}
		n := int(binary.LittleEndian.Uint16(p.buf))
		if n > MaxFrameLen {
			// Implausible length: the header bytes themselves are damaged
			p.resync()
			continue
		}
		if len(p.buf) < frameHeaderLen+n {
			return Record{}, false
		}

		frame := p.buf[frameHeaderLen : frameHeaderLen+n]
		rec, err := p.dec.Decode(frame)
		if err != nil {
			logging.Warn("discarding malformed log frame", zap.Error(err))
			p.decodeErrors++
			p.resync()
			continue
		}

		p.buf = p.buf[frameHeaderLen+n:]
		p.records++
		return rec, true
	}
}

// resync implements the recovery policy: drop a single byte so carving can
// re-lock onto the next valid frame boundary.
func (p *Pipeline) resync() {
	p.buf = p.buf[1:]
}

// Pending reports how many buffered bytes are waiting for the rest of a
// frame.
func (p *Pipeline) Pending() int {
	return len(p.buf)
}

// Records reports how many records have been decoded so far.
func (p *Pipeline) Records() uint64 {
	return p.records
}

// DecodeErrors reports how many malformed frames were skipped.
func (p *Pipeline) DecodeErrors() uint64 {
	return p.decodeErrors
}
