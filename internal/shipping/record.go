package shipping

import "strings"

// Level is the severity of a log record.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Field is one key/value pair attached to a record. Fields are kept as an
// ordered slice so serialization is deterministic; duplicate keys from the
// producer are passed through as-is.
type Field struct {
	Key   string
	Value string
}

// LogRecord is one application log event. Records are immutable once handed
// to the transport.
type LogRecord struct {
	TimestampMillis int64
	Level           Level
	Message         string
	Fields          []Field
	ProcessID       string
	Hostname        string
}
