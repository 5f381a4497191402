package diagnostics

import (
	"github.com/sells-group/strategy-cli/internal/scenario"
	"github.com/sells-group/strategy-cli/internal/signal"
)

// CTR flags high-visibility pages with weak click-through. Enterprise
// tiers also compare against the competitor CTR estimate.
func CTR(s *signal.Model, window, tier string, th scenario.Thresholds) []Result {
	var results []Result
	if s.Impressions == nil || s.AvgPosition == nil || s.CTR == nil {
		return results
	}
	impressions, pos, ctr := *s.Impressions, *s.AvgPosition, *s.CTR

	highImpressions := impressions >= th.HighImpressions
	inBand := pos >= th.CTRPositionMin && pos <= th.CTRPositionMax
	lowCTR := ctr <= th.CTRLow
	if highImpressions && inBand && lowCTR {
		results = append(results, Result{
			ScenarioID:      "high_visibility_low_ctr",
			Confidence:      th.ConfidenceHigh,
			SignalMagnitude: th.MagnitudeHigh,
			Evidence: []Evidence{
				ev("impressions", Num(impressions), "HIGH_IMPRESSIONS_THRESHOLD", CmpGTE, Num(th.HighImpressions), window),
				ev("avg_position", Num(pos), "CTR_POSITION_MIN_THRESHOLD/CTR_POSITION_MAX_THRESHOLD", CmpBetween, Num(pos), window),
				ev("ctr", Num(ctr), "CTR_LOW_THRESHOLD", CmpLTE, Num(th.CTRLow), window),
			},
		})
	}

	if tier != TierEnterprise || s.CompetitorCTREstimate == nil {
		return results
	}
	competitor := *s.CompetitorCTREstimate
	if competitor-ctr >= th.CTRCompetitorGap {
		results = append(results, Result{
			ScenarioID:      "competitive_snippet_disadvantage",
			Confidence:      th.ConfidenceMedium,
			SignalMagnitude: th.MagnitudeMedium,
			Evidence: []Evidence{
				ev("ctr", Num(ctr), "CTR_COMPETITOR_GAP_THRESHOLD", CmpLT, Num(competitor), window),
				ev("competitor_ctr_estimate", Num(competitor), "CTR_COMPETITOR_GAP_THRESHOLD", CmpDiff, Num(th.CTRCompetitorGap), window),
			},
		})
	}
	return results
}
