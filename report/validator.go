package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonschema"

	ferrors "github.com/fleetsense/fleetsense/errors"
	"github.com/fleetsense/fleetsense/rag/retriever"
	"github.com/fleetsense/fleetsense/risk"
)

// reportSchema is the structural contract a draft must satisfy before
// the semantic checks run.
const reportSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["vehicle_id", "health_summary", "timeline", "risk_tier"],
	"properties": {
		"vehicle_id": {"type": "string", "minLength": 1},
		"health_summary": {"type": "string", "minLength": 1},
		"risk_tier": {"type": "string", "enum": ["LOW", "MEDIUM", "HIGH", "CRITICAL"]},
		"timeline": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["action", "rationale", "citations"],
				"properties": {
					"action": {"type": "string", "minLength": 1},
					"due_mileage_km": {"type": "integer", "minimum": 0},
					"due_date": {"type": "string"},
					"rationale": {"type": "string", "minLength": 1},
					"citations": {"type": "array", "items": {"type": "string"}},
					"advisory": {"type": "boolean"}
				}
			}
		}
	}
}`

// Outcome is the validator's verdict. Violations lists every failed
// check in rule order; the structural check short-circuits since later
// rules cannot run over missing fields.
type Outcome struct {
	Valid      bool
	Violations []string
}

// Err converts a failed outcome into a schema-violation error.
func (o Outcome) Err() error {
	if o.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ferrors.ErrSchemaViolation, strings.Join(o.Violations, "; "))
}

// Validator checks report drafts against the structural schema, tier
// thresholds, and citation grounding.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded report schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(reportSchema))
	if err != nil {
		return nil, fmt.Errorf("compile report schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate is a pure function over the draft, the retrieval context
// used this turn, and the session's risk assessment.
//
// Checks, in order:
//  1. structural: required fields present and well typed (aborts on failure)
//  2. risk tier matches the tier implied by the numeric score
//  3. every cited chunk ID exists in the retrieval context
//  4. every non-advisory timeline entry carries at least one citation
//
// Rules 2 through 4 accumulate so a retry gets the full corrective
// signal.
func (v *Validator) Validate(draft MaintenanceReport, retrieved []retriever.Result, assessment risk.Assessment) Outcome {
	raw, err := json.Marshal(draft)
	if err != nil {
		return Outcome{Violations: []string{fmt.Sprintf("encode draft: %v", err)}}
	}
	if result := v.schema.ValidateJSON(raw); !result.IsValid() {
		violations := make([]string, 0, len(result.Errors))
		for field, verr := range result.Errors {
			violations = append(violations, fmt.Sprintf("structure: %s: %s", field, verr.Message))
		}
		return Outcome{Violations: violations}
	}

	var violations []string

	if want := risk.TierForScore(assessment.Score); draft.RiskTier != want {
		violations = append(violations,
			fmt.Sprintf("risk tier %s does not match score %.2f (expected %s)", draft.RiskTier, assessment.Score, want))
	}

	if draft.VehicleID != assessment.VehicleID {
		violations = append(violations,
			fmt.Sprintf("vehicle id %q does not match assessment %q", draft.VehicleID, assessment.VehicleID))
	}

	known := make(map[string]bool, len(retrieved))
	for _, r := range retrieved {
		known[r.Chunk.ID] = true
	}
	for i, entry := range draft.Timeline {
		for _, cit := range entry.Citations {
			if !known[cit] {
				violations = append(violations,
					fmt.Sprintf("timeline[%d] cites unknown chunk %q", i, cit))
			}
		}
		if !entry.Advisory && len(entry.Citations) == 0 {
			violations = append(violations,
				fmt.Sprintf("timeline[%d] %q makes a servicing claim with no citation", i, entry.Action))
		}
	}

	return Outcome{Valid: len(violations) == 0, Violations: violations}
}
