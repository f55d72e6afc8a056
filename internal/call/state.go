package call

// State is the lifecycle position of a Session.
type State int

const (
	StateConnecting State = iota
	StateGreeting
	StateListening
	StateProcessing
	StateSpeaking
	StateEnded
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateGreeting:
		return "greeting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// transitions lists the legal successors of every state. Any state may end.
var transitions = map[State][]State{
	StateConnecting: {StateGreeting},
	StateGreeting:   {StateSpeaking, StateListening},
	StateListening:  {StateProcessing},
	StateProcessing: {StateSpeaking, StateListening},
	StateSpeaking:   {StateListening},
}

// canTransition reports whether from may move to to.
func canTransition(from, to State) bool {
	if from == StateEnded {
		return false
	}
	if to == StateEnded {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
