// Package phonetic snaps misheard words onto a known vocabulary (the
// candidate's name and technology keywords) using Double Metaphone codes and
// Jaro-Winkler similarity.
//
// A term is a candidate when its phonetic codes overlap the input's codes and
// its Jaro-Winkler score reaches the phonetic threshold. Without phonetic
// overlap a term can still win on string similarity alone, but only above
// the stricter fuzzy threshold. Multi-word terms ("Spring Boot") are compared
// both as phrases and with their spaces removed.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
	defaultMinLength         = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically overlapping term. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term without
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithMinLength sets the shortest input (in letters, spaces excluded) that
// may be corrected. Shorter inputs only match on exact spelling. Default: 3.
func WithMinLength(n int) Option {
	return func(m *Matcher) {
		m.minLength = n
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minLength         int
}

// New returns a Matcher configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minLength:         defaultMinLength,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// term is one vocabulary entry with its comparison data computed once.
type term struct {
	original string
	lower    string
	tokens   []string
	codes    map[string]struct{}
}

// Vocabulary is a prepared term list for repeated matching.
type Vocabulary struct {
	terms    []term
	maxWords int
}

// Prepare computes comparison data for terms. Blank terms are skipped.
func Prepare(terms []string) *Vocabulary {
	v := &Vocabulary{maxWords: 1}
	for _, t := range terms {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		v.terms = append(v.terms, term{
			original: strings.TrimSpace(t),
			lower:    strings.Join(tokens, " "),
			tokens:   tokens,
			codes:    codesForTokens(tokens),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// MaxWords returns the word count of the longest term (at least 1).
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// Match finds the term in terms most similar to word. word may be a phrase.
//
// When matched is false, corrected equals word and confidence is 0.
func (m *Matcher) Match(word string, terms []string) (corrected string, confidence float64, matched bool) {
	return m.MatchVocabulary(word, Prepare(terms))
}

// MatchVocabulary is [Matcher.Match] against a prepared vocabulary.
func (m *Matcher) MatchVocabulary(word string, v *Vocabulary) (corrected string, confidence float64, matched bool) {
	if v == nil || len(v.terms) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	tokens := strings.Fields(strings.ToLower(word))
	input := strings.Join(tokens, " ")

	short := len(strings.Join(tokens, "")) < m.minLength
	if short {
		for _, t := range v.terms {
			if t.lower == input {
				return t.original, 1, true
			}
		}
		return word, 0, false
	}

	inputCodes := codesForTokens(tokens)

	var (
		best         *term
		bestScore    float64
		bestPhonetic bool
	)
	for i := range v.terms {
		t := &v.terms[i]
		score := bestJWScore(tokens, t.tokens, input, t.lower)
		if codesOverlap(inputCodes, t.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t, score, true
			}
			continue
		}
		if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t, score
		}
	}

	if best == nil {
		return word, 0, false
	}
	return best.original, bestScore, true
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the higher Jaro-Winkler similarity of the full phrases and
// the phrases with spaces removed. Tokens are never scored alone, otherwise
// "spring" would score perfectly against "Spring Boot".
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(termTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}
