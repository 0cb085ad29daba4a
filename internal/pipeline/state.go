package pipeline

import "fmt"

// State is a step of a pipeline run.
type State string

const (
	StateInit       State = "init"
	StateFetching   State = "fetching"
	StateDeduping   State = "deduping"
	StateScoring    State = "scoring"
	StatePersisting State = "persisting"
	StateNotifying  State = "notifying"
	StateRecording  State = "recording"
	StateDone       State = "done"
	StateErrored    State = "errored"
)

// validTransitions lists where each state may go. Recording is reachable from
// every step that can short-circuit; Errored from every non-terminal state.
var validTransitions = map[State][]State{
	StateInit:       {StateFetching, StateErrored},
	StateFetching:   {StateDeduping, StateRecording, StateErrored},
	StateDeduping:   {StateScoring, StateRecording, StateErrored},
	StateScoring:    {StatePersisting, StateErrored},
	StatePersisting: {StateNotifying, StateRecording, StateErrored},
	StateNotifying:  {StateRecording, StateErrored},
	StateRecording:  {StateDone, StateErrored},
	StateDone:       {},
	StateErrored:    {},
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateErrored
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type transitionError struct {
	from, to State
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("invalid pipeline transition %s -> %s", e.from, e.to)
}
