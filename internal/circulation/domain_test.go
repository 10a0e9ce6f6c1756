package circulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var allStatuses = []Status{StatusBorrowed, StatusOverdue, StatusReturned}

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StatusBorrowed, StatusOverdue))
	assert.True(t, CanTransition(StatusBorrowed, StatusReturned))
	assert.True(t, CanTransition(StatusOverdue, StatusReturned))

	assert.False(t, CanTransition(StatusOverdue, StatusBorrowed))
	assert.False(t, CanTransition(StatusReturned, StatusBorrowed))
	assert.False(t, CanTransition(StatusReturned, StatusOverdue))
	assert.False(t, CanTransition("lost", StatusReturned))

	assert.False(t, Status("lost").Valid())
	assert.True(t, StatusOverdue.Active())
	assert.False(t, StatusReturned.Active())
}

func TestTransitionProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.SampledFrom(allStatuses).Draw(t, "from")
		to := rapid.SampledFrom(allStatuses).Draw(t, "to")

		if from == to && CanTransition(from, to) {
			t.Fatalf("self transition allowed for %s", from)
		}
		if from == StatusReturned && CanTransition(from, to) {
			t.Fatalf("returned is terminal but may move to %s", to)
		}
		if CanTransition(from, to) && !from.Active() {
			t.Fatalf("inactive %s has a successor", from)
		}
	})
}

// A random walk through the table always ends in returned within two steps
// and never revisits a status.
func TestStatusWalk(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		status := StatusBorrowed
		seen := map[Status]bool{status: true}
		for steps := 0; status != StatusReturned; steps++ {
			if steps > 2 {
				t.Fatalf("walk did not terminate")
			}
			status = rapid.SampledFrom(transitions[status]).Draw(t, "next")
			if seen[status] {
				t.Fatalf("revisited %s", status)
			}
			seen[status] = true
		}
	})
}
