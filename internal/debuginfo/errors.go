package debuginfo

import "fmt"

// MalformedBinaryError represents a failure to build a debug image from a
// binary. This occurs when required sections are absent or internally
// inconsistent (overlapping address ranges, truncated tables). It is fatal:
// no session is started for a binary that cannot be indexed.
type MalformedBinaryError struct {
	// Section is the section or table that failed to parse, if known
	Section string
	// Reason describes the inconsistency
	Reason string
	// Underlying error if any
	Err error
}

func (e *MalformedBinaryError) Error() string {
	msg := "malformed binary"
	if e.Section != "" {
		msg += fmt.Sprintf(" (section %s)", e.Section)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *MalformedBinaryError) Unwrap() error {
	return e.Err
}
