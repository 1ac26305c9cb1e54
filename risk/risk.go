package risk

import "fmt"

// Tier buckets a continuous risk score.
type Tier string

const (
	TierLow      Tier = "LOW"
	TierMedium   Tier = "MEDIUM"
	TierHigh     Tier = "HIGH"
	TierCritical Tier = "CRITICAL"
)

// Tier thresholds on the [0,1] risk score.
const (
	criticalFloor = 0.90
	highFloor     = 0.70
	mediumFloor   = 0.40
)

// TierForScore maps a score in [0,1] to its tier.
func TierForScore(score float64) Tier {
	switch {
	case score >= criticalFloor:
		return TierCritical
	case score >= highFloor:
		return TierHigh
	case score >= mediumFloor:
		return TierMedium
	default:
		return TierLow
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierLow, TierMedium, TierHigh, TierCritical:
		return true
	}
	return false
}

// Feature is one contributing factor of the risk score, with its
// attribution weight. Features arrive ordered by weight descending.
type Feature struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Assessment is one scored vehicle record from the upstream risk model.
// Immutable once accepted by the adapter.
type Assessment struct {
	VehicleID string    `json:"vehicle_id"`
	Score     float64   `json:"risk_score"`
	Tier      Tier      `json:"risk_tier"`
	Features  []Feature `json:"feature_attribution"`

	// Vehicle descriptors carried through to the prompt when present.
	Model     string `json:"vehicle_model,omitempty"`
	MileageKM int    `json:"mileage_km,omitempty"`
	AgeYears  int    `json:"age_years,omitempty"`
}

// Clone returns a deep copy of the assessment.
func (a Assessment) Clone() Assessment {
	out := a
	out.Features = make([]Feature, len(a.Features))
	copy(out.Features, a.Features)
	return out
}

// TopFeatures returns up to n highest-weight features. Features are
// expected pre-sorted; ties keep input order.
func (a Assessment) TopFeatures(n int) []Feature {
	if n > len(a.Features) {
		n = len(a.Features)
	}
	if n < 0 {
		n = 0
	}
	out := make([]Feature, n)
	copy(out, a.Features[:n])
	return out
}

func (a Assessment) String() string {
	return fmt.Sprintf("vehicle=%s score=%.2f tier=%s features=%d", a.VehicleID, a.Score, a.Tier, len(a.Features))
}
