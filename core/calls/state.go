package calls

import "fmt"

type State int

const (
	StateGreeting State = iota
	StateListening
	StateSearching
	StateResponding
	StateEscalating
	StateClosing
	StateClosed
)

var stateNames = map[State]string{
	StateGreeting:   "greeting",
	StateListening:  "listening",
	StateSearching:  "searching",
	StateResponding: "responding",
	StateEscalating: "escalating",
	StateClosing:    "closing",
	StateClosed:     "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) IsTerminal() bool { return s == StateClosed }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown call state %q", text)
}

// TerminationCause says why a call left the conversational states.
type TerminationCause string

const (
	CauseNone            TerminationCause = ""
	CauseResolved        TerminationCause = "resolved"
	CauseEscalated       TerminationCause = "escalated"
	CauseCallerSilent    TerminationCause = "caller_silent"
	CauseHangup          TerminationCause = "hangup"
	CauseIdleCeiling     TerminationCause = "idle_ceiling"
	CauseShutdown        TerminationCause = "shutdown"
	CauseInternalFailure TerminationCause = "internal_failure"
)
