package diagnostics

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/scenario"
	"github.com/sells-group/strategy-cli/internal/temporal"
)

// TemporalQuery scopes the temporal diagnostics to one campaign window.
type TemporalQuery struct {
	CampaignID string
	From       time.Time
	To         time.Time
	Window     string
	Tier       string
}

const minTemporalPoints = 3

// Temporal runs the momentum diagnostics over stored time series: rank
// momentum, review velocity, content velocity and, for enterprise tiers,
// competitive share-of-voice trajectory.
func Temporal(ctx context.Context, src temporal.SeriesSource, q TemporalQuery, th scenario.Thresholds) ([]Result, error) {
	var results []Result
	for _, check := range []func(context.Context, temporal.SeriesSource, TemporalQuery, scenario.Thresholds) ([]Result, error){
		rankMomentum,
		reviewVelocity,
		contentVelocity,
	} {
		r, err := check(ctx, src, q, th)
		if err != nil {
			return nil, err
		}
		results = append(results, r...)
	}
	if q.Tier == TierEnterprise {
		r, err := competitorTrajectory(ctx, src, q, th)
		if err != nil {
			return nil, err
		}
		results = append(results, r...)
	}
	return results, nil
}

func series(ctx context.Context, src temporal.SeriesSource, q TemporalQuery, st temporal.SignalType, metric string) ([]float64, []time.Time, error) {
	points, err := src.Series(ctx, temporal.SeriesQuery{
		CampaignID: q.CampaignID,
		SignalType: st,
		Metric:     metric,
		From:       q.From,
		To:         q.To,
	})
	if err != nil {
		return nil, nil, eris.Wrapf(err, "diagnostics: load %s/%s series", st, metric)
	}
	values, stamps := temporal.Split(points)
	return values, stamps, nil
}

func rankMomentum(ctx context.Context, src temporal.SeriesSource, q TemporalQuery, th scenario.Thresholds) ([]Result, error) {
	values, stamps, err := series(ctx, src, q, temporal.SignalRank, "avg_position")
	if err != nil || len(values) < minTemporalPoints {
		return nil, err
	}
	slope, err := temporal.Slope(values, stamps)
	if err != nil {
		return nil, err
	}
	if slope < th.TemporalRankSlope {
		return nil, nil
	}
	strength := temporal.TrendStrength(values)
	return []Result{{
		ScenarioID:      "rank_negative_momentum",
		Confidence:      th.ConfidenceMedium,
		SignalMagnitude: th.MagnitudeMedium,
		Evidence: []Evidence{
			ev("rank_slope", Num(slope), "TEMPORAL_RANK_SLOPE_THRESHOLD", CmpGTE, Num(th.TemporalRankSlope), q.Window),
			ev("rank_trend_strength", Num(strength), "TEMPORAL_TREND_STRENGTH_REFERENCE", CmpGTE, Num(th.TemporalTrendStrength), q.Window),
		},
	}}, nil
}

func reviewVelocity(ctx context.Context, src temporal.SeriesSource, q TemporalQuery, th scenario.Thresholds) ([]Result, error) {
	values, stamps, err := series(ctx, src, q, temporal.SignalReview, "reviews_last_30d")
	if err != nil || len(values) < minTemporalPoints {
		return nil, err
	}
	slope, err := temporal.Slope(values, stamps)
	if err != nil {
		return nil, err
	}
	if slope >= 0 {
		return nil, nil
	}
	accel, err := temporal.Acceleration(values, stamps)
	if err != nil {
		return nil, err
	}
	return []Result{{
		ScenarioID:      "review_velocity_declining",
		Confidence:      th.ConfidenceMedium,
		SignalMagnitude: th.MagnitudeMedium,
		Evidence: []Evidence{
			ev("review_velocity_slope", Num(slope), "TEMPORAL_REVIEW_SLOPE_THRESHOLD", CmpLT, Num(0), q.Window),
			ev("review_velocity_acceleration", Num(accel), "TEMPORAL_REVIEW_ACCEL_REFERENCE", CmpLTE, Num(0), q.Window),
		},
	}}, nil
}

func contentVelocity(ctx context.Context, src temporal.SeriesSource, q TemporalQuery, th scenario.Thresholds) ([]Result, error) {
	values, stamps, err := series(ctx, src, q, temporal.SignalContent, "published_assets_count")
	if err != nil || len(values) < minTemporalPoints {
		return nil, err
	}
	slope, err := temporal.Slope(values, stamps)
	if err != nil {
		return nil, err
	}
	if slope >= 0 {
		return nil, nil
	}
	return []Result{{
		ScenarioID:      "content_velocity_decline",
		Confidence:      th.ConfidenceMedium,
		SignalMagnitude: th.MagnitudeMedium,
		Evidence: []Evidence{
			ev("content_velocity_slope", Num(slope), "TEMPORAL_CONTENT_SLOPE_THRESHOLD", CmpLT, Num(0), q.Window),
			ev("content_velocity_volatility", Num(temporal.Volatility(values)), "TEMPORAL_CONTENT_VOLATILITY_REF", CmpGTE, Num(0), q.Window),
		},
	}}, nil
}

func competitorTrajectory(ctx context.Context, src temporal.SeriesSource, q TemporalQuery, th scenario.Thresholds) ([]Result, error) {
	ours, ourStamps, err := series(ctx, src, q, temporal.SignalCompetitor, "our_share_of_voice")
	if err != nil {
		return nil, err
	}
	theirs, theirStamps, err := series(ctx, src, q, temporal.SignalCompetitor, "competitor_share_of_voice")
	if err != nil {
		return nil, err
	}
	if len(ours) < minTemporalPoints || len(theirs) < minTemporalPoints {
		return nil, nil
	}
	ourSlope, err := temporal.Slope(ours, ourStamps)
	if err != nil {
		return nil, err
	}
	theirSlope, err := temporal.Slope(theirs, theirStamps)
	if err != nil {
		return nil, err
	}
	vol := math.Max(temporal.Volatility(ours), temporal.Volatility(theirs))
	score := temporal.RelativeMomentumScore(ourSlope, theirSlope, temporal.DefaultImpactWeight)
	class := temporal.ClassifyRelativeMomentum(ourSlope, theirSlope, vol, temporal.DefaultImpactWeight)
	if class == temporal.TrajectoryStagnating {
		return nil, nil
	}

	id := "competitive_momentum_gap"
	if class == temporal.TrajectoryVolatile {
		id = "competitive_momentum_volatile"
	}
	return []Result{{
		ScenarioID:      id,
		Confidence:      th.ConfidenceMedium,
		SignalMagnitude: th.MagnitudeMedium,
		Evidence: []Evidence{
			ev("relative_momentum_score", Num(score), "RELATIVE_MOMENTUM_SCORE", CmpClassifiedAs, None(), q.Window+":"+class),
			ev("momentum_volatility", Num(vol), "VOLATILITY_THRESHOLD", CmpGTE, Num(temporal.VolatilityThreshold), q.Window),
		},
	}}, nil
}
