// Package evaluate produces post-interview summaries and scorecards from a
// persisted transcript. Results are cached on the record, so each is
// generated at most once per interview.
package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/internal/transcript"
	"github.com/MrWong99/intervox/pkg/provider/llm"
)

var (
	// ErrNoTranscript is returned when the interview has no turns yet.
	ErrNoTranscript = errors.New("evaluate: transcript not available yet")

	// ErrGeneration wraps model failures and unparseable scorecards.
	ErrGeneration = errors.New("evaluate: generation failed")
)

const (
	summarySystemPrompt = "You are an expert technical interviewer and evaluator."
	scoreSystemPrompt   = "You are a fair and pragmatic technical interviewer. Be forgiving about ASR/STT mistakes " +
		"and focus on the candidate's likely intent. Always return strict JSON per the user's schema."

	scoreSchemaHint = `Return ONLY valid minified JSON with this exact structure and keys, no prose, no markdown, no comments.
{
  "overall": { "value": <int 1-10>, "scale": 10 },
  "communication": { "value": <int 1-10>, "scale": 10 },
  "relevance": { "value": <int 1-10>, "scale": 10 },
  "technical": { "value": <int 1-10>, "scale": 10 },
  "confidence": { "value": <int 1-10>, "scale": 10 },
  "next_steps": [ <short actionable suggestions as strings> ]
}
`

	defaultTemperature = 0.2
	defaultTimeout     = 60 * time.Second
)

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// Option configures an [Evaluator].
type Option func(*Evaluator)

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.timeout = d }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(e *Evaluator) { e.temperature = t }
}

// Evaluator generates and caches interview evaluations.
type Evaluator struct {
	provider    llm.Provider
	store       transcript.Store
	timeout     time.Duration
	temperature float64
	group       singleflight.Group
}

// New returns an Evaluator that reads records from store and asks p for
// evaluations.
func New(p llm.Provider, store transcript.Store, opts ...Option) *Evaluator {
	e := &Evaluator{
		provider:    p,
		store:       store,
		timeout:     defaultTimeout,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Summary returns the cached summary of interview id or generates one as
// 5–8 bullet points.
func (e *Evaluator) Summary(ctx context.Context, id string) (string, error) {
	v, err, _ := e.group.Do("summary:"+id, func() (any, error) {
		rec, err := e.load(ctx, id)
		if err != nil {
			return "", err
		}
		if rec.Summary != "" {
			return rec.Summary, nil
		}
		prompt := "Summarize the following interview transcript in 5-8 concise bullet points focusing on the " +
			"candidate's background, key skills, notable projects, and areas of concern.\n\n" +
			interview.RenderTranscript(rec.Turns)
		summary, err := e.complete(ctx, summarySystemPrompt, prompt)
		if err != nil {
			return "", err
		}
		if err := e.store.SetSummary(ctx, id, summary); err != nil {
			slog.Warn("failed to cache interview summary", "interview_id", id, "err", err)
		}
		return summary, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Score returns the cached scorecard of interview id or generates one.
func (e *Evaluator) Score(ctx context.Context, id string) (interview.Scorecard, error) {
	v, err, _ := e.group.Do("score:"+id, func() (any, error) {
		rec, err := e.load(ctx, id)
		if err != nil {
			return interview.Scorecard{}, err
		}
		if rec.Score != nil {
			return *rec.Score, nil
		}
		prompt := fmt.Sprintf("Score the candidate based on the transcript using a 1-10 scale for each category. "+
			"Be fair and forgiving about minor transcription errors; focus on intent and content.\n"+
			"Role: %s\nTarget Experience: ~%d years\n\nTranscript (speaker: text):\n%s\n\n%s",
			rec.JobDescription, rec.ExperienceYears, interview.RenderTranscript(rec.Turns), scoreSchemaHint)
		raw, err := e.complete(ctx, scoreSystemPrompt, prompt)
		if err != nil {
			return interview.Scorecard{}, err
		}
		card, err := ParseScorecard(raw)
		if err != nil {
			return interview.Scorecard{}, fmt.Errorf("%w: %w", ErrGeneration, err)
		}
		if err := e.store.SetScore(ctx, id, card); err != nil {
			slog.Warn("failed to cache interview score", "interview_id", id, "err", err)
		}
		return card, nil
	})
	if err != nil {
		return interview.Scorecard{}, err
	}
	return v.(interview.Scorecard), nil
}

// Record returns the stored interview record.
func (e *Evaluator) Record(ctx context.Context, id string) (interview.Record, error) {
	return e.store.Get(ctx, id)
}

func (e *Evaluator) load(ctx context.Context, id string) (interview.Record, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return interview.Record{}, err
	}
	if len(rec.Turns) == 0 && rec.Summary == "" && rec.Score == nil {
		return interview.Record{}, ErrNoTranscript
	}
	return rec, nil
}

func (e *Evaluator) complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanEvaluate)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature:  e.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("%w: blank completion", ErrGeneration)
	}
	return text, nil
}

// ParseScorecard decodes a model reply into a validated scorecard. The reply
// may be bare JSON or prose around a single JSON object. Every scale is
// normalised to 10 and a missing next_steps list becomes empty.
func ParseScorecard(text string) (interview.Scorecard, error) {
	var card interview.Scorecard
	if err := json.Unmarshal([]byte(text), &card); err != nil {
		m := jsonObject.FindString(text)
		if m == "" {
			return interview.Scorecard{}, errors.New("model did not return JSON")
		}
		card = interview.Scorecard{}
		if err := json.Unmarshal([]byte(m), &card); err != nil {
			return interview.Scorecard{}, fmt.Errorf("model did not return JSON: %w", err)
		}
	}
	if err := card.Validate(); err != nil {
		return interview.Scorecard{}, err
	}
	for _, r := range []*interview.Rating{&card.Overall, &card.Communication, &card.Relevance, &card.Technical, &card.Confidence} {
		r.Scale = 10
	}
	if card.NextSteps == nil {
		card.NextSteps = []string{}
	}
	return card, nil
}
