package report

import (
	"encoding/json"
	"fmt"
	"strings"

	ferrors "github.com/fleetsense/fleetsense/errors"
	"github.com/fleetsense/fleetsense/risk"
)

// TimelineEntry is one recommended service action. Entries making a
// factual claim about servicing practice must cite retrieved chunks;
// advisory entries (general observations with no factual claim) may
// carry no citations.
type TimelineEntry struct {
	Action      string   `json:"action"`
	DueMileageKM int     `json:"due_mileage_km,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	Rationale   string   `json:"rationale"`
	Citations   []string `json:"citations"`
	Advisory    bool     `json:"advisory,omitempty"`
}

// MaintenanceReport is the terminal artifact of a session. Immutable
// once validated.
type MaintenanceReport struct {
	VehicleID     string          `json:"vehicle_id"`
	HealthSummary string          `json:"health_summary"`
	Timeline      []TimelineEntry `json:"timeline"`
	RiskTier      risk.Tier       `json:"risk_tier"`
}

// Clone returns a deep copy of the report.
func (r MaintenanceReport) Clone() MaintenanceReport {
	out := r
	out.Timeline = make([]TimelineEntry, len(r.Timeline))
	for i, e := range r.Timeline {
		out.Timeline[i] = e
		out.Timeline[i].Citations = append([]string(nil), e.Citations...)
	}
	return out
}

// Failure describes why a session terminated without a report.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseDraft extracts a MaintenanceReport from raw generation output.
// Models often wrap JSON in fenced code blocks or prose; the first
// balanced JSON object is decoded.
func ParseDraft(raw string) (MaintenanceReport, error) {
	payload := extractJSONBlock(raw)
	if payload == "" {
		return MaintenanceReport{}, fmt.Errorf("%w: no JSON object in draft", ferrors.ErrSchemaViolation)
	}
	var rep MaintenanceReport
	dec := json.NewDecoder(strings.NewReader(payload))
	if err := dec.Decode(&rep); err != nil {
		return MaintenanceReport{}, fmt.Errorf("%w: decode draft: %v", ferrors.ErrSchemaViolation, err)
	}
	return rep, nil
}

// extractJSONBlock strips fenced code markers and returns the first
// balanced top-level JSON object in the text.
func extractJSONBlock(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if i := strings.LastIndex(raw, "```"); i >= 0 {
			raw = raw[:i]
		}
		raw = strings.TrimSpace(raw)
	}

	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}
