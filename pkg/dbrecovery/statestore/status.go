package statestore

import "fmt"

// Status is the corruption state of the database.
type Status int

const (
	// NotCorrupted is the default: no recovery needed.
	NotCorrupted Status = iota

	// Corrupted indicates corruption was detected by a failed open or write.
	Corrupted

	// ReadCorrupted indicates corruption was detected by a failed read.
	// It takes the same recovery path as Corrupted.
	ReadCorrupted

	// CorruptedButAlreadyDumpedAndRestored indicates the replacement database
	// is installed but derived state has not been rebuilt yet. A resumed
	// recovery must not dump again from this state.
	CorruptedButAlreadyDumpedAndRestored
)

// String returns the persisted name of the status.
func (s Status) String() string {
	switch s {
	case NotCorrupted:
		return "not_corrupted"
	case Corrupted:
		return "corrupted"
	case ReadCorrupted:
		return "read_corrupted"
	case CorruptedButAlreadyDumpedAndRestored:
		return "corrupted_but_already_dumped_and_restored"
	default:
		return "unknown"
	}
}

// IsCorrupted reports whether the status requires recovery.
func (s Status) IsCorrupted() bool {
	return s != NotCorrupted
}

// ParseStatus parses a persisted status name.
// The empty string parses as NotCorrupted.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "", "not_corrupted":
		return NotCorrupted, nil
	case "corrupted":
		return Corrupted, nil
	case "read_corrupted":
		return ReadCorrupted, nil
	case "corrupted_but_already_dumped_and_restored":
		return CorruptedButAlreadyDumpedAndRestored, nil
	default:
		return NotCorrupted, fmt.Errorf("%w: %q", ErrUnknownStatus, name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
