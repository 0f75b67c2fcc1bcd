package stats

// InputState is the health classification of an input.
type InputState int

const (
	// StateUnknown is never produced by the classifier; it only labels
	// out-of-range values.
	StateUnknown InputState = iota

	// StateNoData indicates the buffer has been empty for too long.
	StateNoData

	// StateUnstable indicates too many recent underruns or overruns.
	StateUnstable

	// StateSilence indicates the input delivers data but the audio level
	// has stayed below the silence level.
	StateSilence

	// StateStreaming indicates a healthy input.
	StateStreaming
)

// String returns the label used on the management protocol.
func (s InputState) String() string {
	switch s {
	case StateNoData:
		return "NoData"
	case StateUnstable:
		return "Unstable"
	case StateSilence:
		return "Silent"
	case StateStreaming:
		return "Streaming"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the state as its protocol label.
func (s InputState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a protocol label. Unrecognised labels decode to
// StateUnknown.
func (s *InputState) UnmarshalText(text []byte) error {
	*s = ParseInputState(string(text))
	return nil
}

// ParseInputState returns the state for a protocol label.
func ParseInputState(label string) InputState {
	switch label {
	case "NoData":
		return StateNoData
	case "Unstable":
		return StateUnstable
	case "Silent":
		return StateSilence
	case "Streaming":
		return StateStreaming
	default:
		return StateUnknown
	}
}

// IsHealthy returns true if the input is streaming audible data.
func (s InputState) IsHealthy() bool {
	return s == StateStreaming
}
