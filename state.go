package beacon

// State is the health of a Link.
type State int32

const (
	// StateLoading means the Link has not yet applied or rejected its first record.
	StateLoading State = iota

	// StateHealthy means the most recent record was applied to the selection.
	StateHealthy

	// StateDegraded means the most recent record was rejected. The selection
	// still holds the last value that was applied.
	StateDegraded

	// StateEmpty means no record has ever been applied. The Link keeps
	// watching for one.
	StateEmpty
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateEmpty:
		return "empty"
	default:
		return "unknown"
	}
}
