package state

var validTransitions = map[State][]State{
	StateIdle: {
		StateAwaitingFeedback,
	},
	StateAwaitingFeedback: {
		StateIdle,
	},
}

// IsTransitionAllowed reports whether moving from one state to another is valid.
// Returning to idle is always allowed.
func IsTransitionAllowed(from, to State) bool {
	if to == StateIdle {
		return true
	}

	for _, state := range validTransitions[from] {
		if state == to {
			return true
		}
	}

	return false
}
