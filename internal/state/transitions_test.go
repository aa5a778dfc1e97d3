package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransitionAllowed(t *testing.T) {
	testCases := []struct {
		name     string
		from     State
		to       State
		expected bool
	}{
		{name: "idle to awaiting feedback", from: StateIdle, to: StateAwaitingFeedback, expected: true},
		{name: "awaiting feedback to idle", from: StateAwaitingFeedback, to: StateIdle, expected: true},
		{name: "awaiting feedback twice", from: StateAwaitingFeedback, to: StateAwaitingFeedback, expected: false},
		{name: "unknown state to awaiting feedback", from: State("unknown"), to: StateAwaitingFeedback, expected: false},
		{name: "any state to idle", from: State("whatever"), to: StateIdle, expected: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsTransitionAllowed(tc.from, tc.to))
		})
	}
}
