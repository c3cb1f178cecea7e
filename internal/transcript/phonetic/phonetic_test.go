package phonetic_test

import (
	"testing"

	"github.com/MrWong99/intervox/internal/transcript/phonetic"
)

var vocabulary = []string{"Django", "Kubernetes", "Spring Boot", "Alex"}

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	tests := []struct {
		name    string
		word    string
		want    string
		matched bool
	}{
		{name: "misspelled keyword", word: "kubernetis", want: "Kubernetes", matched: true},
		{name: "dropped letter", word: "jango", want: "Django", matched: true},
		{name: "case folded", word: "KUBERNETES", want: "Kubernetes", matched: true},
		{name: "multi-word term", word: "spring boot", want: "Spring Boot", matched: true},
		{name: "split term", word: "springboot", want: "Spring Boot", matched: true},
		{name: "unrelated word", word: "hello", want: "hello", matched: false},
		{name: "short word", word: "go", want: "go", matched: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, conf, matched := m.Match(tc.word, vocabulary)
			if matched != tc.matched || got != tc.want {
				t.Fatalf("Match(%q) = %q matched=%v, want %q matched=%v", tc.word, got, matched, tc.want, tc.matched)
			}
			if matched && conf < 0.7 {
				t.Errorf("confidence = %f, want >= 0.7", conf)
			}
			if !matched && conf != 0 {
				t.Errorf("confidence = %f, want 0 when unmatched", conf)
			}
		})
	}
}

func TestMatcher_ShortExactMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	got, conf, matched := m.Match("go", []string{"Go", "Rust"})
	if !matched || got != "Go" || conf != 1 {
		t.Errorf("Match = %q %f %v", got, conf, matched)
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	if _, _, matched := m.Match("jango", vocabulary); matched {
		t.Fatal("near match accepted with 0.99 thresholds")
	}
}

func TestMatcher_EmptyInputs(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if got, conf, matched := m.Match("kubernetis", nil); matched || got != "kubernetis" || conf != 0 {
		t.Errorf("nil vocabulary: %q %f %v", got, conf, matched)
	}
	if got, _, matched := m.Match("", vocabulary); matched || got != "" {
		t.Errorf("empty word: %q %v", got, matched)
	}
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	v := phonetic.Prepare([]string{" Spring Boot ", "", "Go"})
	if v.Len() != 2 {
		t.Errorf("Len = %d, want 2", v.Len())
	}
	if v.MaxWords() != 2 {
		t.Errorf("MaxWords = %d, want 2", v.MaxWords())
	}
	if got, _, ok := phonetic.New().MatchVocabulary("spring boot", v); !ok || got != "Spring Boot" {
		t.Errorf("MatchVocabulary = %q %v", got, ok)
	}
}
