// ABOUTME: Lifecycle states of a single send within a conversation
// ABOUTME: Transitions are checked against an explicit table so illegal moves are reported

package conversation

import (
	"errors"
	"fmt"

	"github.com/2389/hago/internal/store"
)

// State is where a conversation's current send stands.
type State int

const (
	// StateIdle means no send is in flight.
	StateIdle State = iota
	// StateAwaitingFirstFragment means the outgoing message is appended and
	// the reply has not produced text yet.
	StateAwaitingFirstFragment
	// StateStreaming means reply text is arriving.
	StateStreaming
	// StateFinalizing means the reply ended (success or failure) and the
	// sequence is being committed.
	StateFinalizing
	// StateAborted means the send was cancelled before the reply ended. The
	// partial sequence is still committed.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstFragment:
		return "awaiting_first_fragment"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// InFlight reports whether a send holds the conversation in this state.
func (s State) InFlight() bool {
	return s != StateIdle
}

// Typing reports whether the counterpart should appear to be typing: a send
// is in flight and the newest message is still the local user's.
func Typing(s State, msgs []store.Message, localUserID string) bool {
	return s.InFlight() && len(msgs) > 0 && msgs[len(msgs)-1].SenderID == localUserID
}

var transitions = map[State][]State{
	StateIdle:                  {StateAwaitingFirstFragment},
	StateAwaitingFirstFragment: {StateStreaming, StateFinalizing, StateAborted},
	StateStreaming:             {StateFinalizing, StateAborted},
	StateFinalizing:            {StateIdle},
	StateAborted:               {StateIdle},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ErrIllegalTransition is wrapped by transition errors.
var ErrIllegalTransition = errors.New("illegal state transition")

func checkTransition(from, to State) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
