// Package termination defines the shared termination type used by the
// handler registry, the network channel, and the query plan lifecycle
// without creating an import cycle between them. The type decides
// whether pending state is drained and merged, discarded, or swapped.
package termination

// Type distinguishes how a pipeline, handler, or channel should wind
// down.
type Type uint8

const (
	// Graceful drains and merges outstanding state before shutting down.
	Graceful Type = iota
	// Hard discards outstanding state immediately.
	Hard
	// Failure is a Hard stop triggered by an error, reported upstream.
	Failure
	// Reconfiguration swaps in a new plan version, carrying over
	// additive handler state.
	Reconfiguration
)

func (t Type) String() string {
	switch t {
	case Graceful:
		return "Graceful"
	case Hard:
		return "Hard"
	case Failure:
		return "Failure"
	case Reconfiguration:
		return "Reconfiguration"
	default:
		return "Unknown"
	}
}
