// Package discovery finds embrun bridge daemons on the local network.
//
// Bridges advertise themselves over mDNS as _embrun-bridge._tcp services.
// The instance name identifies the bridge, the port is its websocket
// endpoint, and a "chip=" TXT record names the attached target when the
// bridge knows it. The `embrun probes` command uses Scan to list everything
// on the network; `--bridge name` uses Find to resolve one by name.
package discovery
