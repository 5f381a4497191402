// Package simulate projects the effect of a recommendation on baseline
// campaign metrics.
package simulate

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/temporal"
)

// Version identifies the projection rules.
const Version = "delta-simulator-v1"

// Baseline holds the current campaign metrics.
type Baseline struct {
	AvgRankPosition float64 `json:"avg_rank_position"`
	OrganicTraffic  float64 `json:"organic_traffic"`
	Conversions     float64 `json:"conversions"`
}

// Delta is the projected change. Traffic and conversion deltas are rates
// applied to the baseline.
type Delta struct {
	RankShift           float64 `json:"rank_shift"`
	TrafficDeltaRate    float64 `json:"traffic_delta_rate"`
	ConversionDeltaRate float64 `json:"conversion_delta_rate"`
}

// ConfidenceRange bounds the projection. Values are clamped to [0,1] and
// swapped when given in reverse order.
type ConfidenceRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Range is a confidence-adjusted projection. Low is the projection times the
// low confidence bound, so for negative deltas Low can exceed High.
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// AdjustedRanges groups the confidence-adjusted projections.
type AdjustedRanges struct {
	TrafficDelta    Range `json:"traffic_delta"`
	ConversionDelta Range `json:"conversion_delta"`
}

// Result is the simulated effect.
type Result struct {
	ProjectedRankShift       float64        `json:"projected_rank_shift"`
	ProjectedTrafficDelta    float64        `json:"projected_traffic_delta"`
	ProjectedConversionDelta float64        `json:"projected_conversion_delta"`
	RiskScore                float64        `json:"risk_score"`
	ConfidenceAdjustedRange  AdjustedRanges `json:"confidence_adjusted_range"`
	SimulatorVersion         string         `json:"simulator_version"`
}

func bounded(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Simulate projects delta onto baseline. Non-finite inputs are rejected.
func Simulate(b Baseline, d Delta, cr ConfidenceRange) (Result, error) {
	if !finite(b.AvgRankPosition, b.OrganicTraffic, b.Conversions, d.RankShift, d.TrafficDeltaRate, d.ConversionDeltaRate) {
		return Result{}, eris.New("simulate: baseline and delta must be finite")
	}
	if !finite(cr.Low, cr.High) {
		return Result{}, eris.Errorf("simulate: invalid confidence range (%v, %v)", cr.Low, cr.High)
	}

	low := bounded(cr.Low, 0, 1)
	high := bounded(cr.High, 0, 1)
	if low > high {
		low, high = high, low
	}

	traffic := temporal.Round(b.OrganicTraffic * d.TrafficDeltaRate)
	conversions := temporal.Round(b.Conversions * d.ConversionDeltaRate)

	riskBase := math.Abs(d.RankShift)*0.2 + math.Abs(d.TrafficDeltaRate)*25 + math.Abs(d.ConversionDeltaRate)*35
	spread := math.Max(0, high-low)

	return Result{
		ProjectedRankShift:       temporal.Round(b.AvgRankPosition + d.RankShift),
		ProjectedTrafficDelta:    traffic,
		ProjectedConversionDelta: conversions,
		RiskScore:                temporal.Round(bounded(riskBase+spread*20, 0, 100)),
		ConfidenceAdjustedRange: AdjustedRanges{
			TrafficDelta:    Range{Low: temporal.Round(traffic * low), High: temporal.Round(traffic * high)},
			ConversionDelta: Range{Low: temporal.Round(conversions * low), High: temporal.Round(conversions * high)},
		},
		SimulatorVersion: Version,
	}, nil
}
