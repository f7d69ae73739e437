// Package telemetry decodes the target's log stream.
//
// Firmware emits length-delimited frames over the probe's telemetry channel:
// a u16 little-endian payload length, then the payload. The Pipeline carves
// frames out of arbitrarily chunked input and hands each payload to a
// Decoder.
//
// Two decoders exist. TableDecoder handles structured logging: the binary
// embeds a JSON table mapping small indices to format strings, and each
// payload is an index plus packed arguments, so log text never crosses the
// wire. RawDecoder handles everything else by treating payloads as UTF-8
// text.
//
// Corruption is expected on embedded transports. A frame the decoder rejects
// costs exactly one byte of stream: the pipeline resynchronizes byte-wise
// until a valid frame boundary is found again.
package telemetry
