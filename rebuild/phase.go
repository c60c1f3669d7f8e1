package rebuild

import "fmt"

// Phase is a rebuild state.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseScanning
	PhaseProcessing
	PhaseValidating
	PhaseCompleted
	PhaseFailed
	PhaseCancelled
)

var phaseNames = [...]string{"initializing", "scanning", "processing", "validating", "completed", "failed", "cancelled"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Terminal reports whether no further transition follows p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	for i, n := range phaseNames {
		if n == string(b) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown rebuild phase %q", b)
}
