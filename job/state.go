package job

import (
	"fmt"

	taskq "github.com/PyNishanth/taskq-system"
)

// transitions encodes the job lifecycle. Every store mutation goes through
// ValidateTransition, so an edge missing here cannot happen through the
// public API.
//
//	queued → running → succeeded
//	queued → running → retrying → running → ...
//	queued → running → dead
//	dead → queued (operator requeue)
var transitions = map[State][]State{
	StateQueued:   {StateRunning},
	StateRetrying: {StateRunning},
	StateRunning:  {StateSucceeded, StateRetrying, StateDead},
	StateDead:     {StateQueued},
}

// CanTransition reports whether the lifecycle connects from to to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error wrapping taskq.ErrInvalidTransition
// when the lifecycle does not connect from to to.
func ValidateTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", taskq.ErrInvalidTransition, from, to)
	}
	return nil
}
