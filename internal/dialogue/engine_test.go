package dialogue_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/intervox/internal/dialogue"
	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/pkg/provider/llm"
	llmmock "github.com/MrWong99/intervox/pkg/provider/llm/mock"
)

var alex = interview.Context{JobDescription: "Backend Engineer", ExperienceYears: 3, CandidateName: "Alex"}

func candidate(text string) interview.Turn {
	return interview.Turn{Speaker: interview.Candidate, Text: text, Timestamp: time.Now()}
}

func interviewer(text string) interview.Turn {
	return interview.Turn{Speaker: interview.Interviewer, Text: text, Timestamp: time.Now()}
}

func TestNextTurn_BuildsPromptFromContextAndHistory(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Content: " Tell me about a challenging concurrency bug you fixed. "}
	e := dialogue.New(p)

	history := []interview.Turn{
		candidate("I'm Alex, a backend developer."),
		interviewer("What languages do you use?"),
		candidate("I have three years of Go experience"),
	}
	text, err := e.NextTurn(context.Background(), alex, history)
	if err != nil {
		t.Fatalf("NextTurn: %v", err)
	}
	if text != "Tell me about a challenging concurrency bug you fixed." {
		t.Errorf("text = %q", text)
	}

	req, ok := p.LastRequest()
	if !ok {
		t.Fatal("no request recorded")
	}
	for _, want := range []string{"Backend Engineer", "~3 years", "Alex", "one at a time"} {
		if !strings.Contains(req.SystemPrompt, want) {
			t.Errorf("system prompt missing %q:\n%s", want, req.SystemPrompt)
		}
	}
	if req.Temperature != 0.3 {
		t.Errorf("temperature = %v", req.Temperature)
	}

	wantRoles := []string{llm.RoleAssistant, llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
	if len(req.Messages) != len(wantRoles) {
		t.Fatalf("messages = %d, want %d", len(req.Messages), len(wantRoles))
	}
	for i, role := range wantRoles {
		if req.Messages[i].Role != role {
			t.Errorf("message %d role = %q, want %q", i, req.Messages[i].Role, role)
		}
	}
	if req.Messages[0].Content != dialogue.Greeting("Alex") {
		t.Errorf("first message = %q, want greeting", req.Messages[0].Content)
	}
	if req.Messages[3].Content != "I have three years of Go experience" {
		t.Errorf("last message = %q", req.Messages[3].Content)
	}
}

func TestNextTurn_WithoutGreeting(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Content: "Next question."}
	e := dialogue.New(p, dialogue.WithGreeting(false))
	if _, err := e.NextTurn(context.Background(), alex, []interview.Turn{candidate("hi")}); err != nil {
		t.Fatalf("NextTurn: %v", err)
	}
	req, _ := p.LastRequest()
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestNextTurn_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Responses: []llmmock.Response{
		{Err: errors.New("429 rate limited")},
		{Content: "   "},
		{Content: "Describe your last project."},
	}}
	e := dialogue.New(p, dialogue.WithBackoff(time.Millisecond))

	text, err := e.NextTurn(context.Background(), alex, []interview.Turn{candidate("hello")})
	if err != nil {
		t.Fatalf("NextTurn: %v", err)
	}
	if text != "Describe your last project." || p.CallCount() != 3 {
		t.Errorf("text = %q calls = %d", text, p.CallCount())
	}
	if !e.Availability().Available() {
		t.Error("engine should be available")
	}
}

func TestNextTurn_ExhaustedBudget(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Err: errors.New("500 internal error")}
	e := dialogue.New(p, dialogue.WithBackoff(time.Millisecond))

	_, err := e.NextTurn(context.Background(), alex, []interview.Turn{candidate("hello")})
	if !errors.Is(err, dialogue.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if p.CallCount() != 3 {
		t.Errorf("calls = %d, want 3", p.CallCount())
	}
	if e.Availability().Available() {
		t.Error("engine should be unavailable")
	}
}

func TestNextTurn_LinearBackoff(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Err: errors.New("down")}
	e := dialogue.New(p, dialogue.WithBackoff(20*time.Millisecond))

	start := time.Now()
	_, _ = e.NextTurn(context.Background(), alex, []interview.Turn{candidate("hello")})
	// 20ms before attempt 2 plus 40ms before attempt 3.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 60ms of backoff", elapsed)
	}
}

func TestNextTurn_AttemptTimeout(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Block: true}
	e := dialogue.New(p,
		dialogue.WithAttempts(2),
		dialogue.WithBackoff(time.Millisecond),
		dialogue.WithAttemptTimeout(20*time.Millisecond),
	)
	_, err := e.NextTurn(context.Background(), alex, []interview.Turn{candidate("hello")})
	if !errors.Is(err, dialogue.ErrUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if p.CallCount() != 2 {
		t.Errorf("calls = %d, want 2", p.CallCount())
	}
}

func TestNextTurn_CancelStopsRetrying(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &llmmock.Provider{Err: errors.New("down")}
	e := dialogue.New(p)

	_, err := e.NextTurn(ctx, alex, []interview.Turn{candidate("hello")})
	if !errors.Is(err, dialogue.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if p.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", p.CallCount())
	}
	if !e.Availability().Available() {
		t.Error("cancellation must not mark the engine unavailable")
	}
}

func TestGreeting(t *testing.T) {
	t.Parallel()

	if got := dialogue.Greeting("Alex"); got != "Hi Alex, let's start the interview. Can you please introduce yourself?" {
		t.Errorf("Greeting = %q", got)
	}
	if got := dialogue.Greeting(" "); !strings.HasPrefix(got, "Hi Candidate,") {
		t.Errorf("Greeting(blank) = %q", got)
	}
}
