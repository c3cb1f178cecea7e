package interview

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Status is the lifecycle status of a persisted interview.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
	StatusFailed Status = "failed"
)

// Record is the persisted form of one interview.
type Record struct {
	ID        string    `json:"id"`
	Context
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     []Turn    `json:"turns"`

	// Summary and Score are filled lazily by the evaluation endpoints.
	Summary string     `json:"summary,omitempty"`
	Score   *Scorecard `json:"score,omitempty"`
}

// Rating is a single 1–10 score.
type Rating struct {
	Value int `json:"value"`
	Scale int `json:"scale"`
}

// UnmarshalJSON accepts {"value": 7, "scale": 10}, a bare number, or a
// numeric string. Values are validated by [Scorecard.Validate].
func (r *Rating) UnmarshalJSON(data []byte) error {
	var obj struct {
		Value flexInt `json:"value"`
		Scale flexInt `json:"scale"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		r.Value, r.Scale = int(obj.Value), int(obj.Scale)
		if r.Scale == 0 {
			r.Scale = 10
		}
		return nil
	}
	var v flexInt
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("rating: %w", err)
	}
	r.Value, r.Scale = int(v), 10
	return nil
}

// flexInt decodes a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexInt(int(n + 0.5))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = flexInt(int(n + 0.5))
	return nil
}

// Scorecard is the structured evaluation of an interview.
type Scorecard struct {
	Overall       Rating   `json:"overall"`
	Communication Rating   `json:"communication"`
	Relevance     Rating   `json:"relevance"`
	Technical     Rating   `json:"technical"`
	Confidence    Rating   `json:"confidence"`
	NextSteps     []string `json:"next_steps"`
}

// Validate checks that every rating is within 1..10.
func (s Scorecard) Validate() error {
	for name, r := range map[string]Rating{
		"overall":       s.Overall,
		"communication": s.Communication,
		"relevance":     s.Relevance,
		"technical":     s.Technical,
		"confidence":    s.Confidence,
	} {
		if r.Value < 1 || r.Value > 10 {
			return fmt.Errorf("score %s out of range: %d", name, r.Value)
		}
	}
	return nil
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.Turns = append([]Turn(nil), r.Turns...)
	if r.Score != nil {
		s := *r.Score
		s.NextSteps = append([]string(nil), s.NextSteps...)
		r.Score = &s
	}
	return r
}
