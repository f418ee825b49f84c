package transport

// State is a point in the lifecycle of one send attempt.
type State int

const (
	Idle State = iota
	Resolving
	Connecting
	// Waiting is a sub-state of Connecting: the attempt is backing off
	// before connection establishment is retried. The retrying caller
	// reports it; a single Send never enters it.
	Waiting
	Ready
	Sending
	Completed
	Failed
	Closed
)

var stateNames = [...]string{
	Idle:       "idle",
	Resolving:  "resolving",
	Connecting: "connecting",
	Waiting:    "waiting",
	Ready:      "ready",
	Sending:    "sending",
	Completed:  "completed",
	Failed:     "failed",
	Closed:     "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transitions follow, other than Closed.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Closed
}

var transitions = map[State][]State{
	Idle:       {Resolving},
	Waiting:    {Resolving},
	Resolving:  {Connecting, Failed},
	Connecting: {Ready, Failed},
	Ready:      {Sending, Failed},
	Sending:    {Completed, Failed},
	Completed:  {Closed},
	Failed:     {Closed},
	Closed:     {Waiting},
}

// ValidTransition reports whether a send attempt may move from one state
// to the other.
func ValidTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateFunc observes state changes. It is called synchronously from the
// sending goroutine and must not block.
type StateFunc func(dest Destination, s State)
