package dialogue

import (
	"fmt"
	"strings"

	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/pkg/provider/llm"
)

// Greeting is the interviewer's opening line for the candidate.
func Greeting(candidateName string) string {
	name := strings.TrimSpace(candidateName)
	if name == "" {
		name = interview.DefaultCandidateName
	}
	return fmt.Sprintf("Hi %s, let's start the interview. Can you please introduce yourself?", name)
}

// SystemPrompt renders the interviewer instructions for ic.
func SystemPrompt(ic interview.Context) string {
	var sb strings.Builder
	sb.WriteString("You are Interview Bot. Your job is to conduct a structured job interview.\n")
	fmt.Fprintf(&sb, "Role: Interview candidates for this position: %s.\n", strings.TrimSuffix(ic.JobDescription, "."))
	fmt.Fprintf(&sb, "Target seniority: ~%d years of relevant experience.\n", ic.ExperienceYears)
	if ic.CandidateName != "" {
		fmt.Fprintf(&sb, "Candidate name: %s.\n", ic.CandidateName)
	}
	sb.WriteString(`
Rules:
- Stay strictly in scope of the job description; do not answer unrelated questions.
- Assess communication clarity and professionalism.
- Ask short, focused questions one at a time.
- Cover: brief background, relevant projects, core skills, problem-solving, and a quick scenario.
- After a few questions, politely end the interview and thank the candidate.
- Keep responses concise and conversational. Your reply is spoken aloud, so avoid lists and markup.
`)
	return sb.String()
}

// buildMessages maps the transcript onto chat roles. When greet is set the
// greeting leads as the first assistant message.
func buildMessages(ic interview.Context, history []interview.Turn, greet bool) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	if greet {
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: Greeting(ic.CandidateName)})
	}
	for _, t := range history {
		role := llm.RoleUser
		if t.Speaker == interview.Interviewer {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return msgs
}
