package gdbremote

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
)

// The remote serial protocol frames every packet as $<payload>#<checksum>,
// where the checksum is the payload byte sum mod 256 in two hex digits, and
// each side acknowledges with '+' (or '-' for a resend request).

// checksum computes the RSP payload checksum.
func checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return sum
}

// encodePacket frames a payload.
func encodePacket(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, '$')
	out = append(out, payload...)
	out = append(out, '#')
	return append(out, fmt.Sprintf("%02x", checksum(payload))...)
}

// escapeBinary applies RSP binary escaping: '}', '$', '#' and '*' are sent
// as '}' followed by the byte xor 0x20. Used by vFlashWrite payloads.
func escapeBinary(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		switch b {
		case '}', '$', '#', '*':
			out = append(out, '}', b^0x20)
		default:
			out = append(out, b)
		}
	}
	return out
}

// readPacket reads one framed packet off the wire and verifies its
// checksum. The leading '$' may be preceded by stray acks, which are
// skipped.
func readPacket(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case '$':
			return readPacketBody(r)
		case '+', '-':
			// Ack noise between packets
		default:
			// Garbage outside a frame; keep scanning for '$'
		}
	}
}

func readPacketBody(r *bufio.Reader) ([]byte, error) {
	var payload []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == '#' {
			break
		}
		payload = append(payload, b)
	}

	var sumHex [2]byte
	if _, err := io.ReadFull(r, sumHex[:]); err != nil {
		return nil, err
	}
	want, err := hex.DecodeString(string(sumHex[:]))
	if err != nil {
		return nil, fmt.Errorf("invalid checksum field %q: %w", sumHex, err)
	}
	if want[0] != checksum(payload) {
		return nil, fmt.Errorf("checksum mismatch: packet says %02x, computed %02x", want[0], checksum(payload))
	}
	return payload, nil
}

// readAck consumes the '+'/'-' acknowledgement for a packet we sent.
func readAck(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch b {
		case '+':
			return nil
		case '-':
			return fmt.Errorf("stub rejected packet (NAK)")
		}
	}
}

// isErrorReply reports whether an RSP reply is an Exx error.
func isErrorReply(reply []byte) bool {
	return len(reply) == 3 && reply[0] == 'E' && isHexByte(reply[1]) && isHexByte(reply[2])
}

func isHexByte(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}
