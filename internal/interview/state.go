package interview

// State is a voice session's position in the interview protocol.
type State string

const (
	StateCreated      State = "CREATED"
	StateSessionStart State = "SESSION_START"
	StateAsking       State = "ASKING"
	StateWaiting      State = "WAITING_FOR_ANSWER"
	StateProcessing   State = "PROCESSING_AUDIO"
	StateEnded        State = "SESSION_END"
	StateFailed       State = "FAILED"
)

var transitions = map[State][]State{
	StateCreated:      {StateSessionStart},
	StateSessionStart: {StateAsking},
	StateAsking:       {StateWaiting},
	StateWaiting:      {StateProcessing, StateAsking},
	StateProcessing:   {StateAsking, StateEnded},
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// CanTransition reports whether moving from s to next is allowed.
// Any live state may end or fail.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed || (next == StateEnded && s != StateCreated) {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
