package pipeline

import "fmt"

// State is a step of the per-turn state machine.
type State int

const (
	StateReceived State = iota
	StatePersistedPrompt
	StateIndexedPrompt
	StateContextAssembled
	StateCompleted
	StatePersistedReply
	StateIndexedReply
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateReceived:         "RECEIVED",
	StatePersistedPrompt:  "PERSISTED_PROMPT",
	StateIndexedPrompt:    "INDEXED_PROMPT",
	StateContextAssembled: "CONTEXT_ASSEMBLED",
	StateCompleted:        "COMPLETED",
	StatePersistedReply:   "PERSISTED_REPLY",
	StateIndexedReply:     "INDEXED_REPLY",
	StateDone:             "DONE",
	StateFailed:           "FAILED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// TurnError reports the last state a turn reached before it failed.
type TurnError struct {
	State State
	Err   error
}

func (e *TurnError) Error() string {
	return e.Err.Error()
}

func (e *TurnError) Unwrap() error { return e.Err }
