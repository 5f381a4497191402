package diagnostics

import (
	"github.com/sells-group/strategy-cli/internal/scenario"
	"github.com/sells-group/strategy-cli/internal/signal"
)

// GBP checks review velocity and response rate independently, plus the
// competitor review-count gap for enterprise tiers.
func GBP(s *signal.Model, window, tier string, th scenario.Thresholds) []Result {
	var results []Result

	if s.ReviewVelocity != nil && *s.ReviewVelocity < th.GBPReviewVelocity {
		results = append(results, Result{
			ScenarioID:      "gbp_low_review_velocity",
			Confidence:      th.ConfidenceMedium,
			SignalMagnitude: th.MagnitudeMedium,
			Evidence: []Evidence{
				ev("review_velocity", Num(*s.ReviewVelocity), "GBP_REVIEW_VELOCITY_THRESHOLD", CmpLT, Num(th.GBPReviewVelocity), window),
			},
		})
	}

	if s.ReviewResponseRate != nil && *s.ReviewResponseRate < th.GBPReviewResponseRate {
		results = append(results, Result{
			ScenarioID:      "gbp_low_review_response_rate",
			Confidence:      th.ConfidenceMedium,
			SignalMagnitude: th.MagnitudeMedium,
			Evidence: []Evidence{
				ev("review_response_rate", Num(*s.ReviewResponseRate), "GBP_REVIEW_RESPONSE_RATE_THRESHOLD", CmpLT, Num(th.GBPReviewResponseRate), window),
			},
		})
	}

	if tier != TierEnterprise || s.ReviewCount == nil || s.CompetitorReviewCount == nil {
		return results
	}
	ours, theirs := *s.ReviewCount, *s.CompetitorReviewCount
	if theirs-ours >= th.GBPCompetitorReviewGap {
		results = append(results, Result{
			ScenarioID:      "low_review_velocity_vs_competitors",
			Confidence:      th.ConfidenceMedium,
			SignalMagnitude: th.MagnitudeMedium,
			Evidence: []Evidence{
				ev("review_count", Num(ours), "GBP_COMPETITOR_REVIEW_COUNT_GAP_THRESHOLD", CmpLT, Num(theirs), window),
				ev("competitor_review_count", Num(theirs), "GBP_COMPETITOR_REVIEW_COUNT_GAP_THRESHOLD", CmpDiff, Num(th.GBPCompetitorReviewGap), window),
			},
		})
	}
	return results
}
