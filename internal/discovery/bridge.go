package discovery

import (
	"fmt"
	"time"
)

// Bridge represents a discovered embrun bridge daemon on the network.
type Bridge struct {
	// Name is the mDNS instance name (e.g., "nrf52-bench-3")
	Name string

	// Hostname is the mDNS hostname (e.g., "bench3.local.")
	Hostname string

	// IP is the bridge address, IPv4 preferred
	IP string

	// Port is the websocket port
	Port int

	// Chip is the target chip the bridge advertises, if any ("chip=" TXT
	// record)
	Chip string

	// Metadata contains the remaining mDNS TXT record data
	Metadata map[string]string

	// DiscoveredAt is when the bridge was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable one-line description.
func (b *Bridge) String() string {
	if b.Chip != "" {
		return fmt.Sprintf("%s (%s) at %s:%d", b.Name, b.Chip, b.IP, b.Port)
	}
	return fmt.Sprintf("%s at %s:%d", b.Name, b.IP, b.Port)
}

// URL returns the websocket endpoint for attaching to the bridge.
func (b *Bridge) URL() string {
	return fmt.Sprintf("ws://%s:%d/probe", b.IP, b.Port)
}

// GetMetadata retrieves a TXT record value by key, or "" if absent.
func (b *Bridge) GetMetadata(key string) string {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata[key]
}
