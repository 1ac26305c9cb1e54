package agent

import (
	"fmt"
	"strings"

	"github.com/fleetsense/fleetsense/memory"
	"github.com/fleetsense/fleetsense/rag/retriever"
	"github.com/fleetsense/fleetsense/rag/tokenizer"
	"github.com/fleetsense/fleetsense/risk"
)

const systemPrompt = `You are a vehicle maintenance advisor for fleet operators.
Given a risk assessment and retrieved maintenance guidance, produce a maintenance report as a single JSON object with this shape:

{
  "vehicle_id": string,
  "health_summary": string,
  "risk_tier": "LOW" | "MEDIUM" | "HIGH" | "CRITICAL",
  "timeline": [
    {
      "action": string,
      "due_mileage_km": integer (optional),
      "due_date": "YYYY-MM-DD" (optional),
      "rationale": string,
      "citations": [chunk ids from the EVIDENCE section],
      "advisory": boolean (optional)
    }
  ]
}

Rules:
- risk_tier must equal the tier given in the assessment.
- Every timeline entry that states a servicing fact must cite at least one evidence chunk id. Only mark an entry "advisory": true when it makes no factual servicing claim.
- Cite only chunk ids that appear in the EVIDENCE section.
- Respond with the JSON object only.`

// PromptInput is everything the prompt builder folds into one request.
type PromptInput struct {
	Assessment risk.Assessment
	Retrieved  []retriever.Result
	Summary    string
	Recent     []memory.Turn
	Question   string
	Violations []string
}

// BuildPrompt assembles the bounded generation prompt. Evidence chunks
// are dropped lowest-relevance first until the prompt fits the token
// budget; the assessment and instructions are never trimmed.
func BuildPrompt(in PromptInput, tok tokenizer.Tokenizer, tokenBudget int) []memory.Turn {
	evidence := in.Retrieved
	for {
		body := renderUserPrompt(in, evidence)
		if tokenBudget <= 0 || len(evidence) == 0 {
			return assemble(body)
		}
		n, err := tok.CountTokens(systemPrompt + body)
		if err != nil || n <= tokenBudget {
			return assemble(body)
		}
		evidence = evidence[:len(evidence)-1]
	}
}

func assemble(body string) []memory.Turn {
	return []memory.Turn{
		{Role: memory.RoleSystem, Content: systemPrompt},
		{Role: memory.RoleUser, Content: body},
	}
}

func renderUserPrompt(in PromptInput, evidence []retriever.Result) string {
	var b strings.Builder

	b.WriteString("RISK ASSESSMENT\n")
	fmt.Fprintf(&b, "vehicle_id: %s\n", in.Assessment.VehicleID)
	fmt.Fprintf(&b, "risk_score: %.2f\n", in.Assessment.Score)
	fmt.Fprintf(&b, "risk_tier: %s\n", in.Assessment.Tier)
	if in.Assessment.Model != "" {
		fmt.Fprintf(&b, "model: %s\n", in.Assessment.Model)
	}
	if in.Assessment.MileageKM > 0 {
		fmt.Fprintf(&b, "mileage_km: %d\n", in.Assessment.MileageKM)
	}
	if in.Assessment.AgeYears > 0 {
		fmt.Fprintf(&b, "age_years: %d\n", in.Assessment.AgeYears)
	}
	if len(in.Assessment.Features) > 0 {
		b.WriteString("contributing factors:\n")
		for _, f := range in.Assessment.Features {
			fmt.Fprintf(&b, "  - %s (weight %.2f)\n", humanizeFeature(f.Name), f.Weight)
		}
	}

	b.WriteString("\nEVIDENCE\n")
	if len(evidence) == 0 {
		b.WriteString("(no guidance retrieved; do not invent servicing facts, mark general observations advisory)\n")
	}
	for _, r := range evidence {
		fmt.Fprintf(&b, "[%s] (relevance %.2f) %s\n", r.Chunk.ID, r.Score, r.Chunk.Content)
	}

	if in.Summary != "" {
		b.WriteString("\nCONVERSATION SUMMARY\n")
		b.WriteString(in.Summary)
		b.WriteString("\n")
	}
	if len(in.Recent) > 0 {
		b.WriteString("\nRECENT TURNS\n")
		for _, t := range in.Recent {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
	}
	if in.Question != "" {
		b.WriteString("\nOPERATOR QUESTION\n")
		b.WriteString(in.Question)
		b.WriteString("\n")
	}
	if len(in.Violations) > 0 {
		b.WriteString("\nYOUR PREVIOUS DRAFT WAS REJECTED FOR THESE REASONS, FIX THEM\n")
		for _, v := range in.Violations {
			fmt.Fprintf(&b, "- %s\n", v)
		}
	}

	b.WriteString("\nProduce the maintenance report JSON now.")
	return b.String()
}

func humanizeFeature(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "_", " "), "-", " ")
}
