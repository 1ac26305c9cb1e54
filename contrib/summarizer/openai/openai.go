package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/fleetsense/fleetsense/agent"
	"github.com/fleetsense/fleetsense/memory"
)

// Summarizer folds evicted conversation turns into a rolling summary
// using any LLM provider.
type Summarizer struct {
	llm agent.LLMClient
}

// New wraps a provider as a memory summarizer.
func New(llm agent.LLMClient) *Summarizer {
	return &Summarizer{llm: llm}
}

const summarizerPrompt = `You maintain a running summary of a vehicle-maintenance advisory conversation.
Fold the new turns into the existing summary. Keep vehicle identifiers, risk tiers, recommended actions, and operator corrections. Stay under 200 words. Respond with the updated summary text only.`

func (s *Summarizer) Summarize(ctx context.Context, prev string, evicted []memory.Turn) (string, error) {
	var b strings.Builder
	if prev != "" {
		b.WriteString("EXISTING SUMMARY\n")
		b.WriteString(prev)
		b.WriteString("\n\n")
	}
	b.WriteString("NEW TURNS\n")
	for _, t := range evicted {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}

	turn, err := s.llm.Generate(ctx, []memory.Turn{
		{Role: memory.RoleSystem, Content: summarizerPrompt},
		{Role: memory.RoleUser, Content: b.String()},
	})
	if err != nil {
		return "", fmt.Errorf("summarize conversation: %w", err)
	}
	summary := strings.TrimSpace(turn.Content)
	if summary == "" {
		return "", fmt.Errorf("summarizer returned empty summary")
	}
	return summary, nil
}

var _ memory.Summarizer = (*Summarizer)(nil)
