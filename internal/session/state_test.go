package session

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCheckTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		ok       bool
	}{
		{Created, AwaitingSpeech, true},
		{AwaitingSpeech, Transcribing, true},
		{Transcribing, Generating, true},
		{Transcribing, AwaitingSpeech, true},
		{Generating, Synthesizing, true},
		{Generating, Failed, true},
		{Synthesizing, Speaking, true},
		{Speaking, AwaitingSpeech, true},
		{Speaking, Closed, true},
		{Created, Speaking, false},
		{AwaitingSpeech, Generating, false},
		{Transcribing, Failed, false},
		{Synthesizing, AwaitingSpeech, false},
		{Closed, AwaitingSpeech, false},
		{Failed, Closed, false},
	}
	for _, tc := range tests {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			t.Parallel()
			err := checkTransition(tc.from, tc.to)
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("err = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestEveryNonTerminalStateCanClose(t *testing.T) {
	t.Parallel()
	for s := Created; s < Closed; s++ {
		if err := checkTransition(s, Closed); err != nil {
			t.Errorf("%v cannot close: %v", s, err)
		}
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	if AwaitingSpeech.String() != "awaiting_speech" || Failed.String() != "failed" {
		t.Error("unexpected state names")
	}
	if State(42).String() != "state(42)" {
		t.Errorf("unknown state = %q", State(42).String())
	}
	b, _ := Speaking.MarshalText()
	if string(b) != "speaking" {
		t.Errorf("MarshalText = %q", b)
	}
	if !Closed.Terminal() || !Failed.Terminal() || Speaking.Terminal() {
		t.Error("Terminal() mismatch")
	}
}

func TestStateEventRoundTrip(t *testing.T) {
	t.Parallel()
	for s := AwaitingSpeech; s <= Failed; s++ {
		data, err := json.Marshal(Event{Type: EventState, State: s})
		if err != nil {
			t.Fatalf("Marshal(%v): %v", s, err)
		}
		var got Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if got.State != s {
			t.Errorf("round trip of %v = %v", s, got.State)
		}
	}

	var st State
	if err := st.UnmarshalText([]byte("dancing")); err == nil {
		t.Error("UnmarshalText accepted an unknown state")
	}
}

func TestTextOnlyEdge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cur, from, to State
	}{
		{Synthesizing, Synthesizing, Speaking},
		{Created, Created, Created},
		{AwaitingSpeech, AwaitingSpeech, AwaitingSpeech},
	}
	for _, tc := range tests {
		from, to := textOnlyEdge(tc.cur)
		if from != tc.from || to != tc.to {
			t.Errorf("textOnlyEdge(%v) = %v -> %v, want %v -> %v", tc.cur, from, to, tc.from, tc.to)
		}
		if from != to {
			if err := checkTransition(from, to); err != nil {
				t.Errorf("textOnlyEdge(%v) names an invalid transition: %v", tc.cur, err)
			}
		}
	}
}
