package domain

import (
	"encoding/json"
	"fmt"
)

// Verbosity mirrors the UE ELogVerbosity ordering. Lower ordinal = more
// severe, so "minimum verbosity X" admits entries with ordinal <= X.
type Verbosity int

const (
	VerbosityNoLogging   Verbosity = 0
	VerbosityFatal       Verbosity = 1
	VerbosityError       Verbosity = 2
	VerbosityWarning     Verbosity = 3
	VerbosityDisplay     Verbosity = 4
	VerbosityLog         Verbosity = 5
	VerbosityVerbose     Verbosity = 6
	VerbosityVeryVerbose Verbosity = 7
)

// String returns the UE level name for a verbosity.
func (v Verbosity) String() string {
	switch v {
	case VerbosityNoLogging:
		return "NoLogging"
	case VerbosityFatal:
		return "Fatal"
	case VerbosityError:
		return "Error"
	case VerbosityWarning:
		return "Warning"
	case VerbosityDisplay:
		return "Display"
	case VerbosityLog:
		return "Log"
	case VerbosityVerbose:
		return "Verbose"
	case VerbosityVeryVerbose:
		return "VeryVerbose"
	default:
		return "Unknown"
	}
}

// ParseVerbosity converts a UE level name to a Verbosity. Matching is
// case-sensitive; anything unrecognized falls back to Log, the same
// default the engine applies.
func ParseVerbosity(s string) Verbosity {
	switch s {
	case "Fatal":
		return VerbosityFatal
	case "Error":
		return VerbosityError
	case "Warning":
		return VerbosityWarning
	case "Display":
		return VerbosityDisplay
	case "Log":
		return VerbosityLog
	case "Verbose":
		return VerbosityVerbose
	case "VeryVerbose":
		return VerbosityVeryVerbose
	default:
		return VerbosityLog
	}
}

// MarshalJSON emits the level name rather than the ordinal.
func (v Verbosity) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON accepts a level name.
func (v *Verbosity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("verbosity must be a string: %w", err)
	}
	*v = ParseVerbosity(s)
	return nil
}

// Entry is one immutable log record. ID and ReceivedAt are assigned by
// the store at insert; everything else comes from the emitter.
type Entry struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	Category   string    `json:"category"`
	Verbosity  Verbosity `json:"verbosity"`
	Message    string    `json:"message"`
	Timestamp  float64   `json:"timestamp"`   // emitter time, seconds
	Frame      *int64    `json:"frame,omitempty"`
	File       *string   `json:"file,omitempty"`
	Line       *int      `json:"line,omitempty"`
	ReceivedAt float64   `json:"received_at"` // store time, seconds
	SessionID  string    `json:"session_id"`
	InstanceID string    `json:"instance_id"`
}
