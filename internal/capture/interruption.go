package capture

import "fmt"

type InterruptionType int

const (
	InterruptionBegan InterruptionType = iota + 1
	InterruptionEnded
)

func (t InterruptionType) String() string {
	switch t {
	case InterruptionBegan:
		return "began"
	case InterruptionEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// ParseInterruptionType maps the wire names "began" and "ended".
func ParseInterruptionType(raw string) (InterruptionType, error) {
	switch raw {
	case "began":
		return InterruptionBegan, nil
	case "ended":
		return InterruptionEnded, nil
	default:
		return 0, fmt.Errorf("unknown interruption type %q", raw)
	}
}

// Interruption is an audio-session notification from the host OS.
// ShouldResume is only meaningful for InterruptionEnded.
type Interruption struct {
	Type         InterruptionType
	ShouldResume bool
}
