package telemetry

import (
	"fmt"
	"time"
)

// Level is the severity of one target log record.
type Level uint8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", l)
	}
}

// ParseLevel maps the level names used in the log table section.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// Record is one decoded target log record. The sequence of records within a
// session is append-only and ordered by arrival; timestamps are surfaced as
// the target reported them, never reordered or corrected.
type Record struct {
	// Timestamp is the target-reported time since boot; valid only when
	// HasTimestamp is set
	Timestamp    time.Duration
	HasTimestamp bool
	// Level is the record severity
	Level Level
	// Message is the fully formatted text
	Message string
	// File/Line locate the logging statement; File == "" when unknown
	File string
	Line int
}
