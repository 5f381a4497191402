package temporal

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/canonical"
)

var validate = validator.New()

// Profile tunes how temporal momentum feeds into strategic scores.
type Profile struct {
	Name                    string    `json:"profile_name" validate:"required"`
	MomentumWeight          float64   `json:"momentum_weight" validate:"gte=0,lte=2"`
	VolatilityPenaltyWeight float64   `json:"volatility_penalty_weight" validate:"gte=0,lte=2"`
	TrendWindowDays         int       `json:"trend_window_days" validate:"gte=7,lte=365"`
	ConfidenceDecayCurve    []float64 `json:"confidence_decay_curve"`
}

// Validate checks the profile bounds.
func (p Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return eris.Wrap(err, "temporal: invalid profile")
	}
	return nil
}

// VersionHash fingerprints the profile so persisted metrics can be traced
// back to the weights that produced them.
func (p Profile) VersionHash() (string, error) {
	curve := make([]any, len(p.ConfidenceDecayCurve))
	for i, c := range p.ConfidenceDecayCurve {
		curve[i] = Round(c)
	}
	return canonical.VersionFingerprint(map[string]any{
		"profile_name":              p.Name,
		"momentum_weight":           Round(p.MomentumWeight),
		"volatility_penalty_weight": Round(p.VolatilityPenaltyWeight),
		"trend_window_days":         p.TrendWindowDays,
		"confidence_decay_curve":    curve,
	})
}

// ResolveProfile returns the profile for a tier. Unknown tiers get the pro
// profile.
func ResolveProfile(tier string) Profile {
	if strings.ToLower(strings.TrimSpace(tier)) == "enterprise" {
		return Profile{
			Name:                    "enterprise_temporal_v1",
			MomentumWeight:          0.18,
			VolatilityPenaltyWeight: 0.12,
			TrendWindowDays:         60,
			ConfidenceDecayCurve:    []float64{1.0, 0.88, 0.72},
		}
	}
	return Profile{
		Name:                    "pro_temporal_v1",
		MomentumWeight:          0.14,
		VolatilityPenaltyWeight: 0.10,
		TrendWindowDays:         45,
		ConfidenceDecayCurve:    []float64{1.0, 0.9, 0.76},
	}
}
