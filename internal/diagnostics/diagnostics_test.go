package diagnostics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/strategy-cli/internal/canonical"
	"github.com/sells-group/strategy-cli/internal/scenario"
	"github.com/sells-group/strategy-cli/internal/signal"
	"github.com/sells-group/strategy-cli/internal/temporal"
)

const window = "2026-01-01T00:00:00+00:00__2026-01-31T00:00:00+00:00"

func build(t *testing.T, raw map[string]any) *signal.Model {
	t.Helper()
	m, err := signal.Build(raw)
	require.NoError(t, err)
	return m
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ScenarioID
	}
	return out
}

func TestCTR(t *testing.T) {
	th := scenario.DefaultThresholds()
	s := build(t, map[string]any{"impressions": 5000, "avg_position": 4, "ctr": 0.01, "competitor_ctr_estimate": 0.08})

	got := CTR(s, window, "pro", th)
	require.Len(t, got, 1)
	assert.Equal(t, "high_visibility_low_ctr", got[0].ScenarioID)
	assert.Equal(t, th.ConfidenceHigh, got[0].Confidence)
	require.Len(t, got[0].Evidence, 3)
	assert.Equal(t, CmpBetween, got[0].Evidence[1].Comparator)
	assert.Equal(t, "CTR_LOW_THRESHOLD", got[0].Evidence[2].ThresholdReference)

	assert.Equal(t, []string{"high_visibility_low_ctr", "competitive_snippet_disadvantage"}, ids(CTR(s, window, "enterprise", th)))
	// The tier gate is an exact match.
	assert.Len(t, CTR(s, window, "Enterprise", th), 1)

	assert.Empty(t, CTR(build(t, map[string]any{"impressions": 5000}), window, "enterprise", th))
	assert.Empty(t, CTR(build(t, map[string]any{"impressions": 10, "avg_position": 4, "ctr": 0.01}), window, "pro", th))
}

func TestCoreWebVitals(t *testing.T) {
	th := scenario.DefaultThresholds()

	assert.Empty(t, CoreWebVitals(build(t, map[string]any{"lcp": 2.0, "cls": 0.05}), window, th))

	mild := CoreWebVitals(build(t, map[string]any{"lcp": 3.0}), window, th)
	require.Len(t, mild, 1)
	assert.Equal(t, "core_web_vitals_failure", mild[0].ScenarioID)
	assert.Len(t, mild[0].Evidence, 1)

	severe := CoreWebVitals(build(t, map[string]any{"lcp": 5.0}), window, th)
	require.Len(t, severe, 1)
	assert.Greater(t, severe[0].Confidence, mild[0].Confidence)

	all := CoreWebVitals(build(t, map[string]any{"LCP": 9.0, "CLS": 0.9, "INP": 900, "TTFB": 4000}), window, th)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Evidence, 4)
	assert.Greater(t, all[0].Confidence, severe[0].Confidence)
	assert.LessOrEqual(t, all[0].Confidence, 1.0)
	assert.LessOrEqual(t, all[0].SignalMagnitude, 1.0)
}

func TestRanking(t *testing.T) {
	th := scenario.DefaultThresholds()

	severe := Ranking(build(t, map[string]any{"position_delta": 7}), window, th)
	require.Len(t, severe, 1)
	assert.Equal(t, th.ConfidenceHigh, severe[0].Confidence)
	assert.Len(t, severe[0].Evidence, 1)

	trafficOnly := Ranking(build(t, map[string]any{"position_delta": 1, "traffic_growth_percent": -0.3}), window, th)
	require.Len(t, trafficOnly, 1)
	assert.Equal(t, th.ConfidenceHigh, trafficOnly[0].Confidence)
	assert.Len(t, trafficOnly[0].Evidence, 2)

	// A moderate drop needs a traffic decline as well.
	assert.Empty(t, Ranking(build(t, map[string]any{"position_delta": 3}), window, th))
	assert.Empty(t, Ranking(build(t, map[string]any{"position_delta": 3, "traffic_growth_percent": 0.05}), window, th))
	assert.Empty(t, Ranking(build(t, map[string]any{"position_delta": 1, "traffic_growth_percent": -0.1}), window, th))

	moderate := Ranking(build(t, map[string]any{"position_delta": 3, "traffic_growth_percent": -0.1}), window, th)
	require.Len(t, moderate, 1)
	assert.Equal(t, th.ConfidenceMedium, moderate[0].Confidence)

	th.RankingPositionDrop = 5
	assert.Empty(t, Ranking(build(t, map[string]any{"position_delta": 3, "traffic_growth_percent": -0.1}), window, th))
}

func TestGBP(t *testing.T) {
	th := scenario.DefaultThresholds()
	s := build(t, map[string]any{
		"review_velocity_90d":     1.0,
		"review_response_rate":    0.5,
		"total_reviews":           10,
		"competitor_review_count": 50,
	})
	assert.Equal(t, []string{"gbp_low_review_velocity", "gbp_low_review_response_rate"}, ids(GBP(s, window, "pro", th)))
	assert.Equal(t, []string{"gbp_low_review_velocity", "gbp_low_review_response_rate", "low_review_velocity_vs_competitors"},
		ids(GBP(s, window, "enterprise", th)))

	assert.Empty(t, GBP(build(t, map[string]any{"review_velocity": 5, "review_response_rate": 0.9}), window, "enterprise", th))
}

func TestCompetitor(t *testing.T) {
	th := scenario.DefaultThresholds()

	sparse := Competitor(build(t, map[string]any{"competitor_rating": 4.9, "avg_rating": 3.0}), window, th)
	require.Len(t, sparse, 1)
	assert.Equal(t, "competitor_data_unavailable", sparse[0].ScenarioID)
	n, ok := sparse[0].Evidence[0].SignalValue.Float()
	require.True(t, ok)
	assert.Equal(t, 1.0, n)

	smallGap := Competitor(build(t, map[string]any{
		"competitor_rating": 4.2, "avg_rating": 4.1, "competitor_avg_position": 5, "avg_position": 5.5,
	}), window, th)
	assert.Empty(t, smallGap)

	gaps := Competitor(build(t, map[string]any{
		"competitor_rating": 4.8, "avg_rating": 4.1, "competitor_avg_position": 3, "avg_position": 8,
	}), window, th)
	assert.Equal(t, []string{"competitor_reputation_gap", "competitive_position_gap"}, ids(gaps))
}

func daily(start time.Time, values ...float64) []temporal.Point {
	out := make([]temporal.Point, len(values))
	for i, v := range values {
		out[i] = temporal.Point{Value: v, ObservedAt: start.AddDate(0, 0, i)}
	}
	return out
}

func TestTemporal(t *testing.T) {
	th := scenario.DefaultThresholds()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := temporal.NewFixtureSource()
	src.Add("c1", temporal.SignalRank, "avg_position", daily(start, 10, 11, 12, 13)...)
	src.Add("c1", temporal.SignalReview, "reviews_last_30d", daily(start, 9, 7, 4)...)
	src.Add("c1", temporal.SignalContent, "published_assets_count", daily(start, 5, 5)...)
	src.Add("c1", temporal.SignalCompetitor, "our_share_of_voice", daily(start, 0.1, 0.2, 0.3)...)
	src.Add("c1", temporal.SignalCompetitor, "competitor_share_of_voice", daily(start, 0.3, 0.3, 0.3)...)

	q := TemporalQuery{CampaignID: "c1", From: start, To: start.AddDate(0, 0, 30), Window: window, Tier: "pro"}
	got, err := Temporal(context.Background(), src, q, th)
	require.NoError(t, err)
	assert.Equal(t, []string{"rank_negative_momentum", "review_velocity_declining"}, ids(got))

	q.Tier = "enterprise"
	got, err = Temporal(context.Background(), src, q, th)
	require.NoError(t, err)
	require.Equal(t, []string{"rank_negative_momentum", "review_velocity_declining", "competitive_momentum_gap"}, ids(got))
	traj := got[2].Evidence[0]
	assert.Equal(t, CmpClassifiedAs, traj.Comparator)
	assert.Equal(t, window+":gaining_ground", traj.WindowReference)
	assert.True(t, traj.ComparativeValue.IsNone())
}

type failingSource struct{}

func (failingSource) Series(context.Context, temporal.SeriesQuery) ([]temporal.Point, error) {
	return nil, errors.New("boom")
}

func TestTemporal_PropagatesSourceErrors(t *testing.T) {
	_, err := Temporal(context.Background(), failingSource{}, TemporalQuery{CampaignID: "c1"}, scenario.DefaultThresholds())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestEvidence_CanonicalForm(t *testing.T) {
	e := ev("ctr", Num(0.01), "CTR_LOW_THRESHOLD", CmpLTE, None(), window)
	v, err := canonical.From(e)
	require.NoError(t, err)
	assert.Equal(t,
		`{"comparative_value":null,"comparator":"<=","signal_name":"ctr","signal_value":0.01,"threshold_reference":"CTR_LOW_THRESHOLD","window_reference":"`+window+`"}`,
		string(canonical.Encode(v)))

	raw, err := Flag(true).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "true", string(raw))
}
