package probe

import "fmt"

// TransportError represents a failed probe-layer operation. Attach and flash
// failures are fatal; a transient telemetry read failure during the polling
// loop is logged and retried on the next iteration instead.
type TransportError struct {
	// Op is the probe operation that failed (e.g. "flash", "read-registers")
	Op string
	// Endpoint identifies the probe connection (host:port or URL)
	Endpoint string
	// Underlying error
	Err error
}

func (e *TransportError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("probe transport failed during %s (%s): %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("probe transport failed during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConnectError represents a failure to attach to a probe endpoint.
type ConnectError struct {
	// Endpoint is the address that failed to connect
	Endpoint string
	// Underlying error
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to attach to probe at %s: %v\n"+
		"Hint: Ensure the debug server is running and the target is connected.\n"+
		"For OpenOCD: openocd -f <your-config.cfg>",
		e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
