package staging

import "fmt"

// Event names a requested transition, independent of the state it is
// applied from.
type Event string

const (
	EventFinish            Event = "finish"
	EventInactivityTimeout Event = "inactivity_timeout"
	EventPortalAccept      Event = "portal_accept"
	EventPortalReject      Event = "portal_reject"
	EventPromote           Event = "promote"
	EventPortalPublish     Event = "portal_publish"
	EventDrop              Event = "drop"
)

// ErrIllegalTransition is returned when a requested transition is not
// permitted from the session's current state (spec.md section 4.8).
type ErrIllegalTransition struct {
	From  State
	Event Event
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal transition: event %q not permitted from state %q", e.Event, e.From)
}

// transitionTable maps (state, event) to the resulting state. Drop is
// permitted from any non-terminal state and is handled separately in Apply.
var transitionTable = map[State]map[Event]State{
	Open: {
		EventFinish:            Closing,
		EventInactivityTimeout: Closing,
	},
	Closing: {
		EventPortalAccept: Closed,
		EventPortalReject: Failed,
	},
	Closed: {
		EventPromote: Promoting,
	},
	Promoting: {
		EventPortalPublish: Released,
		EventPortalReject:  Failed,
	},
}

// Apply computes the next state for (current, event), or returns
// ErrIllegalTransition. It does not mutate a Session; callers apply the
// result under the registry's per-id lock.
func Apply(current State, event Event) (State, error) {
	if event == EventDrop {
		switch current {
		case Dropped:
			return Dropped, nil
		case Released, Failed:
			return current, &ErrIllegalTransition{From: current, Event: event}
		default:
			return Dropped, nil
		}
	}

	transitions, ok := transitionTable[current]
	if !ok {
		return current, &ErrIllegalTransition{From: current, Event: event}
	}
	next, ok := transitions[event]
	if !ok {
		return current, &ErrIllegalTransition{From: current, Event: event}
	}
	return next, nil
}
