package session

import (
	"errors"
	"fmt"
)

// State is a node of the session state machine.
type State int

const (
	Created State = iota
	AwaitingSpeech
	Transcribing
	Generating
	Synthesizing
	Speaking
	Closed
	Failed
)

var stateNames = [...]string{
	Created:        "created",
	AwaitingSpeech: "awaiting_speech",
	Transcribing:   "transcribing",
	Generating:     "generating",
	Synthesizing:   "synthesizing",
	Speaking:       "speaking",
	Closed:         "closed",
	Failed:         "failed",
}

// String returns the wire name of s.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", text)
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

// ErrInvalidTransition is returned for a transition missing from the table.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// transitions lists the allowed successors of every state. Disconnect may
// close a session from any non-terminal state.
var transitions = map[State][]State{
	Created:        {AwaitingSpeech, Closed},
	AwaitingSpeech: {Transcribing, Closed},
	Transcribing:   {Generating, AwaitingSpeech, Closed},
	Generating:     {Synthesizing, Failed, Closed},
	Synthesizing:   {Speaking, Closed},
	Speaking:       {AwaitingSpeech, Closed},
}

func checkTransition(from, to State) error {
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// textOnlyEdge returns the transition a text-only reply takes from cur. A
// reply only moves to Speaking out of Synthesizing; the greeting is spoken
// from Created and keeps that state.
func textOnlyEdge(cur State) (from, to State) {
	if cur == Synthesizing {
		return Synthesizing, Speaking
	}
	return cur, cur
}
