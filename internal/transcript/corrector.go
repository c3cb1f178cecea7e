package transcript

import (
	"log/slog"
	"strings"

	"github.com/MrWong99/intervox/internal/transcript/phonetic"
)

// Correction captures a single substitution made by the [Corrector].
type Correction struct {
	// Original is the word or phrase as produced by the recognizer.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the matcher's similarity score (0.0–1.0).
	Confidence float64
}

// PhoneticMatcher resolves a word or phrase to a vocabulary term by
// pronunciation similarity. When matched is false, corrected must equal word
// and confidence must be 0. Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool)
}

// Corrector rewrites recognized text so that misheard vocabulary (the
// candidate's name, technologies from the job description) is spelled the way
// the interview expects. Safe for concurrent use.
type Corrector struct {
	matcher  PhoneticMatcher
	keywords []string
}

// NewCorrector returns a Corrector using m. keywords are always part of the
// vocabulary in addition to the per-call terms.
func NewCorrector(m PhoneticMatcher, keywords ...string) *Corrector {
	return &Corrector{matcher: m, keywords: keywords}
}

// Correct returns text with vocabulary substitutions applied.
func (c *Corrector) Correct(text string, vocabulary []string) string {
	out, corrections := c.Apply(text, vocabulary)
	for _, cr := range corrections {
		slog.Debug("transcript corrected", "original", cr.Original, "corrected", cr.Corrected, "confidence", cr.Confidence)
	}
	return out
}

// Apply is [Corrector.Correct] that also returns every substitution made.
//
// At each token the longest window (up to the longest term's word count)
// that matches a term wins, so multi-word terms take precedence over partial
// single-word matches. Trailing punctuation on a replaced window is kept.
func (c *Corrector) Apply(text string, vocabulary []string) (string, []Correction) {
	terms := make([]string, 0, len(c.keywords)+len(vocabulary))
	terms = append(terms, c.keywords...)
	terms = append(terms, vocabulary...)

	tokens := strings.Fields(text)
	if len(tokens) == 0 || c.matcher == nil || len(terms) == 0 {
		return text, nil
	}

	var matchFn func(string) (string, float64, bool)
	var maxWords int
	if pm, ok := c.matcher.(*phonetic.Matcher); ok {
		v := phonetic.Prepare(terms)
		maxWords = v.MaxWords()
		matchFn = func(w string) (string, float64, bool) { return pm.MatchVocabulary(w, v) }
	} else {
		maxWords = maxWordCount(terms)
		matchFn = func(w string) (string, float64, bool) { return c.matcher.Match(w, terms) }
	}

	var (
		output      []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n := min(maxWords, len(tokens)-i)
		matched := false
		for ; n >= 1; n-- {
			window, suffix := splitPunct(strings.Join(tokens[i:i+n], " "))
			if window == "" {
				continue
			}
			term, conf, ok := matchFn(window)
			if !ok {
				continue
			}
			output = append(output, term+suffix)
			if term != window {
				corrections = append(corrections, Correction{Original: window, Corrected: term, Confidence: conf})
			}
			i += n
			matched = true
			break
		}
		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}
	return strings.Join(output, " "), corrections
}

// splitPunct separates trailing sentence punctuation from s.
func splitPunct(s string) (word, suffix string) {
	word = strings.TrimRight(s, ".,!?;:")
	return word, s[len(word):]
}

// maxWordCount returns the word count of the longest term (at least 1).
func maxWordCount(terms []string) int {
	n := 1
	for _, t := range terms {
		n = max(n, len(strings.Fields(t)))
	}
	return n
}
