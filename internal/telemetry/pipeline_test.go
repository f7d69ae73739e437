package telemetry

import (
	"encoding/binary"
	"testing"
)

// frame wraps a payload in the u16-LE length header.
func frame(payload []byte) []byte {
	out := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(out, uint16(len(payload)))
	copy(out[2:], payload)
	return out
}

func messages(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Message
	}
	return out
}

func TestPipelineCarvesCompleteFrames(t *testing.T) {
	p := NewPipeline(RawDecoder{})

	var stream []byte
	stream = append(stream, frame([]byte("boot"))...)
	stream = append(stream, frame([]byte("ready"))...)

	got := messages(p.Feed(stream))
	if len(got) != 2 || got[0] != "boot" || got[1] != "ready" {
		t.Fatalf("records = %v, want [boot ready]", got)
	}
	if p.Pending() != 0 {
		t.Errorf("Pending() = %d after complete frames", p.Pending())
	}
}

func TestPipelineBuffersPartialFrames(t *testing.T) {
	p := NewPipeline(RawDecoder{})
	full := frame([]byte("hello world"))

	if got := p.Feed(full[:5]); len(got) != 0 {
		t.Fatalf("partial frame produced records: %v", messages(got))
	}
	if p.Pending() != 5 {
		t.Errorf("Pending() = %d, want 5", p.Pending())
	}

	got := p.Feed(full[5:])
	if len(got) != 1 || got[0].Message != "hello world" {
		t.Fatalf("records = %v, want [hello world]", messages(got))
	}
}

func TestPipelineEmptyPullIsNormal(t *testing.T) {
	p := NewPipeline(RawDecoder{})
	if got := p.Feed(nil); got != nil {
		t.Errorf("Feed(nil) = %v", got)
	}
}

func TestPipelineResyncAfterCorruption(t *testing.T) {
	// A valid frame, two bytes of line noise, then a valid frame long enough
	// that its own header re-locks the scan. Exactly the two real records
	// must come out, in order.
	long := "ready to serve requests!"

	var stream []byte
	stream = append(stream, frame([]byte("boot"))...)
	stream = append(stream, 0xee, 0xee)
	stream = append(stream, frame([]byte(long))...)

	p := NewPipeline(RawDecoder{})
	got := messages(p.Feed(stream))
	if len(got) != 2 || got[0] != "boot" || got[1] != long {
		t.Fatalf("records = %v, want [boot %q]", got, long)
	}
}

func TestPipelineResyncAfterDecodeError(t *testing.T) {
	// A well-framed payload the decoder rejects (invalid UTF-8) counts as a
	// decode error and must not swallow the frames behind it.
	long := "recovered after bad frame"

	var stream []byte
	stream = append(stream, frame([]byte("boot"))...)
	stream = append(stream, frame([]byte{0xff, 0xfe})...)
	stream = append(stream, frame([]byte(long))...)

	p := NewPipeline(RawDecoder{})
	got := messages(p.Feed(stream))
	if len(got) != 2 || got[0] != "boot" || got[1] != long {
		t.Fatalf("records = %v, want [boot %q]", got, long)
	}
	if p.DecodeErrors() != 1 {
		t.Errorf("DecodeErrors() = %d, want 1", p.DecodeErrors())
	}
	if p.Records() != 2 {
		t.Errorf("Records() = %d, want 2", p.Records())
	}
}

func TestPipelineImplausibleLengthResyncs(t *testing.T) {
	// A header claiming more than MaxFrameLen is treated as damage, not as a
	// frame to wait for.
	long := "alive and well after noise"

	var stream []byte
	stream = append(stream, 0xff, 0xff) // claims a 65535-byte frame
	stream = append(stream, frame([]byte(long))...)

	p := NewPipeline(RawDecoder{})
	got := messages(p.Feed(stream))
	if len(got) != 1 || got[0] != long {
		t.Fatalf("records = %v, want [%q]", got, long)
	}
}
