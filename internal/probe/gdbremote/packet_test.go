package gdbremote

import (
	"bufio"
	"bytes"
	"testing"
)

func TestEncodePacket(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "empty",
			payload: "",
			want:    "$#00",
		},
		{
			name:    "read memory",
			payload: "m20000000,4",
			want:    "$m20000000,4#4f",
		},
		{
			name:    "read registers",
			payload: "g",
			want:    "$g#67",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(encodePacket([]byte(tt.payload)))
			if got != tt.want {
				t.Errorf("encodePacket(%q) = %q, want %q", tt.payload, got, tt.want)
			}
		})
	}
}

func TestEscapeBinary(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{
			name: "no special bytes",
			in:   []byte{0x01, 0x02, 0xff},
			want: []byte{0x01, 0x02, 0xff},
		},
		{
			name: "escape brace",
			in:   []byte{'}'},
			want: []byte{'}', '}' ^ 0x20},
		},
		{
			name: "escape dollar and hash",
			in:   []byte{'$', '#'},
			want: []byte{'}', '$' ^ 0x20, '}', '#' ^ 0x20},
		},
		{
			name: "escape star",
			in:   []byte{'*'},
			want: []byte{'}', '*' ^ 0x20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := escapeBinary(tt.in)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("escapeBinary(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestReadPacket(t *testing.T) {
	tests := []struct {
		name    string
		stream  string
		want    string
		wantErr bool
	}{
		{
			name:   "ok reply",
			stream: "$OK#9a",
			want:   "OK",
		},
		{
			name:   "leading junk before start byte",
			stream: "++$OK#9a",
			want:   "OK",
		},
		{
			name:   "stop reply",
			stream: "$T05thread:01;#07",
			want:   "T05thread:01;",
		},
		{
			name:    "bad checksum",
			stream:  "$OK#00",
			wantErr: true,
		},
		{
			name:    "truncated",
			stream:  "$OK",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bufio.NewReader(bytes.NewReader([]byte(tt.stream)))
			got, err := readPacket(r)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("readPacket(%q) succeeded with %q, want error", tt.stream, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("readPacket(%q) failed: %v", tt.stream, err)
			}
			if string(got) != tt.want {
				t.Errorf("readPacket(%q) = %q, want %q", tt.stream, got, tt.want)
			}
		})
	}
}

func TestPacketRoundTrip(t *testing.T) {
	payloads := []string{"g", "m08000000,100", "vFlashDone", "qRcmd,726573657420"}
	for _, p := range payloads {
		r := bufio.NewReader(bytes.NewReader(encodePacket([]byte(p))))
		got, err := readPacket(r)
		if err != nil {
			t.Fatalf("round trip of %q failed: %v", p, err)
		}
		if string(got) != p {
			t.Errorf("round trip of %q = %q", p, got)
		}
	}
}

func TestIsErrorReply(t *testing.T) {
	if !isErrorReply([]byte("E01")) {
		t.Error("E01 should be an error reply")
	}
	if !isErrorReply([]byte("Eff")) {
		t.Error("Eff should be an error reply")
	}
	if isErrorReply([]byte("OK")) {
		t.Error("OK is not an error reply")
	}
	if isErrorReply([]byte("Embedded")) {
		t.Error("a reply merely starting with E is not an error reply")
	}
}
