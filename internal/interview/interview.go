// Package interview holds the domain types shared by the session, dialogue,
// transcript and evaluation layers: the immutable interview context, the
// transcript turn, and the persisted interview record.
package interview

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Defaults applied to a [Context] whose fields were left empty by the client.
const (
	DefaultJobDescription  = "Software Engineer focusing on backend services."
	DefaultExperienceYears = 3
	DefaultCandidateName   = "Candidate"
)

// Context is the interview configuration supplied once at session start. It
// never changes afterwards.
type Context struct {
	JobDescription  string `json:"job_description"`
	ExperienceYears int    `json:"experience_years"`
	CandidateName   string `json:"candidate_name"`
}

// WithDefaults fills empty fields from def. A negative experience level is
// left alone so that Validate can reject it.
func (c Context) WithDefaults(def Context) Context {
	c.JobDescription = strings.TrimSpace(c.JobDescription)
	c.CandidateName = strings.TrimSpace(c.CandidateName)
	if c.JobDescription == "" {
		c.JobDescription = def.JobDescription
	}
	if c.CandidateName == "" {
		c.CandidateName = def.CandidateName
	}
	return c
}

// Validate reports every problem with c.
func (c Context) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JobDescription) == "" {
		errs = append(errs, errors.New("job description is required"))
	}
	if c.ExperienceYears < 0 {
		errs = append(errs, fmt.Errorf("experience years must be >= 0, got %d", c.ExperienceYears))
	}
	if strings.TrimSpace(c.CandidateName) == "" {
		errs = append(errs, errors.New("candidate name is required"))
	}
	return errors.Join(errs...)
}

// Speaker identifies who produced a [Turn].
type Speaker string

const (
	Candidate   Speaker = "candidate"
	Interviewer Speaker = "interviewer"
)

// Valid reports whether s is a known speaker.
func (s Speaker) Valid() bool {
	return s == Candidate || s == Interviewer
}

// Turn is one finalized utterance. Turns are values: once appended to a
// transcript they are never modified.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`

	// AudioRef points at the archived synthesized audio of an interviewer
	// turn. Empty for candidate turns and for text-only interviewer turns.
	AudioRef string `json:"audio_ref,omitempty"`
}

// RenderTranscript formats turns as "speaker: text" lines.
func RenderTranscript(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Speaker))
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}

// CountSpeaker returns how many turns were produced by s.
func CountSpeaker(turns []Turn, s Speaker) int {
	n := 0
	for _, t := range turns {
		if t.Speaker == s {
			n++
		}
	}
	return n
}
