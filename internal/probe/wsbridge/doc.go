// Package wsbridge implements the probe.Probe interface over a websocket
// connection to an embrun bridge daemon.
//
// A bridge fronts a debug probe attached to another machine, exposing the
// probe operations as JSON request/response envelopes on a single websocket.
// Binary payloads (firmware chunks, memory reads, telemetry) travel base64
// encoded inside the envelopes. Bridges advertise themselves over mDNS as
// _embrun-bridge._tcp; see the discovery package.
package wsbridge
