package risk

import (
	"encoding/json"
	"fmt"
	"math"

	ferrors "github.com/fleetsense/fleetsense/errors"
)

// Adapter validates risk-model output records before they reach the
// agent. Bad numeric data fails fast instead of propagating into
// reasoning.
type Adapter struct {
	// WeightTolerance is the allowed deviation of the attribution
	// weight sum from 1.0.
	WeightTolerance float64
}

// NewAdapter returns an adapter with the default weight tolerance.
func NewAdapter(tolerance float64) *Adapter {
	if tolerance <= 0 {
		tolerance = 0.05
	}
	return &Adapter{WeightTolerance: tolerance}
}

// Parse decodes a raw scoring record and validates it.
func (ad *Adapter) Parse(raw []byte) (Assessment, error) {
	var a Assessment
	if err := json.Unmarshal(raw, &a); err != nil {
		return Assessment{}, fmt.Errorf("%w: decode assessment: %v", ferrors.ErrMalformedInput, err)
	}
	if err := ad.Validate(a); err != nil {
		return Assessment{}, err
	}
	if a.Tier == "" {
		a.Tier = TierForScore(a.Score)
	}
	return a, nil
}

// Accept validates an already-decoded assessment, deriving the tier
// from the score when absent.
func (ad *Adapter) Accept(a Assessment) (Assessment, error) {
	if err := ad.Validate(a); err != nil {
		return Assessment{}, err
	}
	a = a.Clone()
	if a.Tier == "" {
		a.Tier = TierForScore(a.Score)
	}
	return a, nil
}

// Validate checks the adapter's invariants: non-empty vehicle ID, score
// in [0,1], tier consistent with the score when present, and attribution
// weights summing to 1 within tolerance.
func (ad *Adapter) Validate(a Assessment) error {
	if a.VehicleID == "" {
		return fmt.Errorf("%w: missing vehicle id", ferrors.ErrMalformedInput)
	}
	if a.Score < 0 || a.Score > 1 || math.IsNaN(a.Score) {
		return fmt.Errorf("%w: risk score %v outside [0,1]", ferrors.ErrMalformedInput, a.Score)
	}
	if a.Tier != "" {
		if !a.Tier.Valid() {
			return fmt.Errorf("%w: unknown risk tier %q", ferrors.ErrMalformedInput, a.Tier)
		}
		if a.Tier != TierForScore(a.Score) {
			return fmt.Errorf("%w: tier %s inconsistent with score %.2f", ferrors.ErrMalformedInput, a.Tier, a.Score)
		}
	}
	if len(a.Features) > 0 {
		var sum float64
		for _, f := range a.Features {
			if f.Name == "" {
				return fmt.Errorf("%w: feature with empty name", ferrors.ErrMalformedInput)
			}
			if f.Weight < 0 || math.IsNaN(f.Weight) {
				return fmt.Errorf("%w: feature %q has invalid weight %v", ferrors.ErrMalformedInput, f.Name, f.Weight)
			}
			sum += f.Weight
		}
		if math.Abs(sum-1.0) > ad.WeightTolerance {
			return fmt.Errorf("%w: attribution weights sum to %.3f, outside tolerance %.2f of 1.0",
				ferrors.ErrMalformedInput, sum, ad.WeightTolerance)
		}
	}
	return nil
}
