package diagnostics

import (
	"github.com/sells-group/strategy-cli/internal/scenario"
	"github.com/sells-group/strategy-cli/internal/signal"
)

// Ranking detects ranking declines. A severe position drop or traffic
// decline triggers on its own; the moderate case needs both signals.
func Ranking(s *signal.Model, window string, th scenario.Thresholds) []Result {
	if s.PositionDelta == nil {
		return nil
	}
	delta := *s.PositionDelta

	severePosition := delta >= th.RankingSeverePositionDrop
	severeTraffic := s.TrafficGrowthPercent != nil && *s.TrafficGrowthPercent <= th.RankingSevereTrafficDecline
	if severePosition || severeTraffic {
		evidence := []Evidence{
			ev("position_delta", Num(delta), "RANKING_SEVERE_POSITION_DROP_THRESHOLD", CmpGTE, Num(th.RankingSeverePositionDrop), window),
		}
		if s.TrafficGrowthPercent != nil {
			evidence = append(evidence, ev("traffic_growth_percent", Num(*s.TrafficGrowthPercent),
				"RANKING_SEVERE_TRAFFIC_DECLINE_THRESHOLD", CmpLTE, Num(th.RankingSevereTrafficDecline), window))
		}
		return []Result{{
			ScenarioID:      "ranking_decline_detected",
			Confidence:      th.ConfidenceHigh,
			SignalMagnitude: th.MagnitudeHigh,
			Evidence:        evidence,
		}}
	}

	if s.TrafficGrowthPercent == nil {
		return nil
	}
	traffic := *s.TrafficGrowthPercent
	if delta < th.RankingPositionDrop || traffic > th.RankingTrafficDecline {
		return nil
	}
	return []Result{{
		ScenarioID:      "ranking_decline_detected",
		Confidence:      th.ConfidenceMedium,
		SignalMagnitude: th.MagnitudeMedium,
		Evidence: []Evidence{
			ev("position_delta", Num(delta), "RANKING_POSITION_DROP_THRESHOLD", CmpGTE, Num(th.RankingPositionDrop), window),
			ev("traffic_growth_percent", Num(traffic), "RANKING_TRAFFIC_DECLINE_THRESHOLD", CmpLTE, Num(th.RankingTrafficDecline), window),
		},
	}}
}
