package risk

import (
	"errors"
	"testing"

	ferrors "github.com/fleetsense/fleetsense/errors"
)

func TestTierForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  Tier
	}{
		{0.0, TierLow},
		{0.39, TierLow},
		{0.40, TierMedium},
		{0.69, TierMedium},
		{0.70, TierHigh},
		{0.82, TierHigh},
		{0.89, TierHigh},
		{0.90, TierCritical},
		{1.0, TierCritical},
	}
	for _, tc := range cases {
		if got := TierForScore(tc.score); got != tc.want {
			t.Errorf("TierForScore(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestAdapterAcceptsValidAssessment(t *testing.T) {
	ad := NewAdapter(0.05)
	a, err := ad.Accept(Assessment{
		VehicleID: "V1",
		Score:     0.82,
		Features: []Feature{
			{Name: "brake_wear", Weight: 0.6},
			{Name: "battery_age", Weight: 0.4},
		},
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if a.Tier != TierHigh {
		t.Errorf("derived tier = %s, want HIGH", a.Tier)
	}
}

func TestAdapterRejectsScoreOutOfRange(t *testing.T) {
	ad := NewAdapter(0.05)
	for _, score := range []float64{-0.1, 1.1} {
		_, err := ad.Accept(Assessment{VehicleID: "V1", Score: score})
		if !errors.Is(err, ferrors.ErrMalformedInput) {
			t.Errorf("score %v: expected ErrMalformedInput, got %v", score, err)
		}
	}
}

func TestAdapterRejectsWeightSumOutsideTolerance(t *testing.T) {
	ad := NewAdapter(0.05)
	_, err := ad.Accept(Assessment{
		VehicleID: "V1",
		Score:     0.5,
		Features: []Feature{
			{Name: "brake_wear", Weight: 0.6},
			{Name: "battery_age", Weight: 0.6},
		},
	})
	if !errors.Is(err, ferrors.ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput, got %v", err)
	}
}

func TestAdapterAcceptsWeightSumWithinTolerance(t *testing.T) {
	ad := NewAdapter(0.05)
	_, err := ad.Accept(Assessment{
		VehicleID: "V1",
		Score:     0.5,
		Features: []Feature{
			{Name: "brake_wear", Weight: 0.55},
			{Name: "battery_age", Weight: 0.42},
		},
	})
	if err != nil {
		t.Errorf("sum 0.97 within tolerance should pass, got %v", err)
	}
}

func TestAdapterRejectsInconsistentTier(t *testing.T) {
	ad := NewAdapter(0.05)
	_, err := ad.Accept(Assessment{VehicleID: "V1", Score: 0.82, Tier: TierLow})
	if !errors.Is(err, ferrors.ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput, got %v", err)
	}
}

func TestAdapterRejectsMissingVehicleID(t *testing.T) {
	ad := NewAdapter(0.05)
	_, err := ad.Accept(Assessment{Score: 0.5})
	if !errors.Is(err, ferrors.ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput, got %v", err)
	}
}

func TestAdapterParseJSON(t *testing.T) {
	ad := NewAdapter(0.05)
	raw := []byte(`{
		"vehicle_id": "V1",
		"risk_score": 0.82,
		"risk_tier": "HIGH",
		"feature_attribution": [
			{"name": "brake_wear", "weight": 0.6},
			{"name": "battery_age", "weight": 0.4}
		]
	}`)
	a, err := ad.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.VehicleID != "V1" || a.Tier != TierHigh || len(a.Features) != 2 {
		t.Errorf("unexpected assessment: %+v", a)
	}
}

func TestTopFeatures(t *testing.T) {
	a := Assessment{Features: []Feature{
		{Name: "brake_wear", Weight: 0.6},
		{Name: "battery_age", Weight: 0.3},
		{Name: "tire_wear", Weight: 0.1},
	}}
	top := a.TopFeatures(2)
	if len(top) != 2 || top[0].Name != "brake_wear" || top[1].Name != "battery_age" {
		t.Errorf("unexpected top features: %+v", top)
	}
	if got := a.TopFeatures(10); len(got) != 3 {
		t.Errorf("over-request should clamp, got %d", len(got))
	}
}
