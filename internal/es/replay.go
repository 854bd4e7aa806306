package es

// Fold applies one event to a state value and returns the new state.
// Folds must be pure: no I/O and no new events.
type Fold[S any, E Event] func(S, E) S

// Replay folds events over state in slice order. Callers pass events
// already sorted by version.
func Replay[S any, E Event](state S, events []E, fold Fold[S, E]) S {
	for _, e := range events {
		state = fold(state, e)
	}
	return state
}
