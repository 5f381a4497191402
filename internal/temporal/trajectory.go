package temporal

import "math"

// Relative momentum classification bands.
const (
	DefaultImpactWeight = 1.0
	StagnationBand      = 0.01
	VolatilityThreshold = 0.75
)

// Trajectory classifications.
const (
	TrajectoryVolatile   = "volatile"
	TrajectoryStagnating = "stagnating"
	TrajectoryGaining    = "gaining_ground"
	TrajectoryLosing     = "losing_ground"
)

// RelativeMomentumScore compares our slope with a competitor's, scaled by
// impactWeight.
func RelativeMomentumScore(ourSlope, competitorSlope, impactWeight float64) float64 {
	return Round((ourSlope - competitorSlope) * impactWeight)
}

// ClassifyRelativeMomentum buckets a trajectory. Volatility takes precedence
// over direction.
func ClassifyRelativeMomentum(ourSlope, competitorSlope, volatility, impactWeight float64) string {
	score := RelativeMomentumScore(ourSlope, competitorSlope, impactWeight)
	switch {
	case volatility >= VolatilityThreshold:
		return TrajectoryVolatile
	case math.Abs(score) <= StagnationBand:
		return TrajectoryStagnating
	case score > 0:
		return TrajectoryGaining
	default:
		return TrajectoryLosing
	}
}
