package services

// State is the single source of truth for where a distribution attempt is.
type State string

const (
	StateIdle              State = "Idle"
	StateChecking          State = "Checking"
	StateApproving         State = "Approving"
	StateApprovalConfirmed State = "ApprovalConfirmed"
	StateDistributing      State = "Distributing"
	StateConfirmed         State = "Confirmed"
	StatePersisting        State = "Persisting"
	StateSettled           State = "Settled"
	StateFailed            State = "Failed"
)

// transitions lists every legal edge. The three edges out of Failed are the only
// caller-driven retries; nothing else moves an attempt backwards.
var transitions = map[State][]State{
	StateIdle:              {StateChecking, StateFailed},
	StateChecking:          {StateApproving, StateDistributing, StateFailed},
	StateApproving:         {StateApprovalConfirmed, StateFailed},
	StateApprovalConfirmed: {StateChecking, StateFailed},
	StateDistributing:      {StateConfirmed, StateFailed},
	StateConfirmed:         {StatePersisting, StateFailed},
	StatePersisting:        {StateSettled, StateFailed},
	StateFailed:            {StateIdle, StateDistributing, StatePersisting},
	StateSettled:           {},
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed
}

// Submitted reports whether the attempt may have a transaction in flight.
func (s State) Submitted() bool {
	switch s {
	case StateApproving, StateApprovalConfirmed, StateDistributing, StateConfirmed, StatePersisting:
		return true
	}
	return false
}
