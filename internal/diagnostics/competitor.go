package diagnostics

import (
	"github.com/sells-group/strategy-cli/internal/scenario"
	"github.com/sells-group/strategy-cli/internal/signal"
)

// Competitor compares campaign signals with competitor baselines. With
// too few competitor signals it emits only competitor_data_unavailable.
func Competitor(s *signal.Model, window string, th scenario.Thresholds) []Result {
	present := s.CompetitorSignalCount()
	if present < th.CompetitorMinSignals {
		return []Result{{
			ScenarioID:      "competitor_data_unavailable",
			Confidence:      th.ConfidenceLow,
			SignalMagnitude: th.MagnitudeLow,
			Evidence: []Evidence{
				ev("competitor_signal_count", Num(float64(present)), "COMPETITOR_REQUIRED_SIGNAL_MIN_COUNT", CmpLT, Num(float64(th.CompetitorMinSignals)), window),
			},
		}}
	}

	var results []Result
	if s.AvgRating != nil && s.CompetitorRating != nil && *s.CompetitorRating-*s.AvgRating >= th.CompetitorRatingGap {
		results = append(results, Result{
			ScenarioID:      "competitor_reputation_gap",
			Confidence:      th.ConfidenceMedium,
			SignalMagnitude: th.MagnitudeMedium,
			Evidence: []Evidence{
				ev("avg_rating", Num(*s.AvgRating), "COMPETITOR_RATING_GAP_THRESHOLD", CmpLT, Num(*s.CompetitorRating), window),
			},
		})
	}
	if s.AvgPosition != nil && s.CompetitorAvgPosition != nil && *s.AvgPosition-*s.CompetitorAvgPosition >= th.CompetitorPositionGap {
		results = append(results, Result{
			ScenarioID:      "competitive_position_gap",
			Confidence:      th.ConfidenceMedium,
			SignalMagnitude: th.MagnitudeMedium,
			Evidence: []Evidence{
				ev("avg_position", Num(*s.AvgPosition), "COMPETITOR_POSITION_GAP_THRESHOLD", CmpGT, Num(*s.CompetitorAvgPosition), window),
			},
		})
	}
	return results
}
