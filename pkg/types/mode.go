package types

import (
	"errors"
	"fmt"
)

// ErrUnknownMode is matched by every UnknownModeError.
var ErrUnknownMode = errors.New("unknown mode")

// Mode is one of the operating states a V2H charger can be commanded into.
type Mode int

const (
	ModeIdle Mode = iota
	ModeCharge
	ModeDischarge
	ModeLoadMatch
	ModeExportMatch
	ModeSchedule
)

// Modes lists every mode in option order. The first entry is the display
// fallback for an unrecognized device mode.
var Modes = []Mode{
	ModeIdle,
	ModeCharge,
	ModeDischarge,
	ModeLoadMatch,
	ModeExportMatch,
	ModeSchedule,
}

// String returns the option name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeCharge:
		return "charge"
	case ModeDischarge:
		return "discharge"
	case ModeLoadMatch:
		return "loadmatch"
	case ModeExportMatch:
		return "exportmatch"
	case ModeSchedule:
		return "schedule"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Valid reports whether m is one of the enumerated modes.
func (m Mode) Valid() bool {
	return m >= ModeIdle && m <= ModeSchedule
}

// ParseMode returns the mode whose option name is exactly s.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, &UnknownModeError{Value: s}
}

// ModeOptions returns the option names of every mode.
func ModeOptions() []string {
	opts := make([]string, len(Modes))
	for i, m := range Modes {
		opts[i] = m.String()
	}
	return opts
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, &UnknownModeError{Value: m.String()}
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// UnknownModeError is returned for a mode value outside the enumeration.
type UnknownModeError struct {
	Value string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown mode: %s", e.Value)
}

// Unwrap lets errors.Is match ErrUnknownMode.
func (e *UnknownModeError) Unwrap() error {
	return ErrUnknownMode
}
