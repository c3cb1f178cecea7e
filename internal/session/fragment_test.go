package session_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/intervox/internal/session"
)

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "single", text: "Tell me about a challenging concurrency bug you fixed.", want: []string{"Tell me about a challenging concurrency bug you fixed."}},
		{name: "several", text: "Great answer! Why Go? Tell me more.", want: []string{"Great answer!", "Why Go?", "Tell me more."}},
		{name: "no terminal punctuation", text: "Okay. And then", want: []string{"Okay.", "And then"}},
		{name: "decimal stays", text: "Version 1.22 is out. Nice.", want: []string{"Version 1.22 is out.", "Nice."}},
		{name: "newlines", text: "  First.\n\nSecond.  ", want: []string{"First.", "Second."}},
		{name: "blank", text: "   ", want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := session.SplitSentences(tc.text); !slices.Equal(got, tc.want) {
				t.Errorf("SplitSentences(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}
