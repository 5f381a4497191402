package strategy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/strategy-cli/internal/canonical"
	"github.com/sells-group/strategy-cli/internal/scenario"
	"github.com/sells-group/strategy-cli/internal/temporal"
)

var testWindow = Window{
	From: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	To:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
}

func newTestEngine(opts ...Option) *Engine {
	return NewEngine(scenario.Default(), scenario.DefaultThresholds(), opts...)
}

func lowCTRRequest(tier string) Request {
	return Request{
		CampaignID: "camp-1",
		Window:     testWindow,
		RawSignals: map[string]any{"impressions": 5000, "avg_position": 4, "ctr": 0.01},
		Tier:       tier,
	}
}

func TestIsoformat(t *testing.T) {
	assert.Equal(t, "2026-01-31T00:00:00+00:00", isoformat(testWindow.To))
	assert.Equal(t, "2026-01-31T10:00:00.000250+02:00",
		isoformat(time.Date(2026, 1, 31, 10, 0, 0, 250000, time.FixedZone("x", 7200))))
	assert.Equal(t, "2026-01-01T00:00:00+00:00__2026-01-31T00:00:00+00:00", testWindow.Reference())
}

func TestWindow_UnmarshalJSON(t *testing.T) {
	var w Window
	require.NoError(t, json.Unmarshal([]byte(`{"date_from":"2026-01-01","date_to":"2026-01-31T00:00:00Z"}`), &w))
	assert.True(t, w.From.Equal(testWindow.From))
	assert.True(t, w.To.Equal(testWindow.To))

	err := json.Unmarshal([]byte(`{"date_from":"yesterday","date_to":"2026-01-31"}`), &w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yesterday")
}

func TestBuild_SingleScenario(t *testing.T) {
	out, err := newTestEngine().Build(context.Background(), lowCTRRequest("pro"))
	require.NoError(t, err)

	assert.Equal(t, []string{"high_visibility_low_ctr"}, out.DetectedScenarios)
	require.Len(t, out.Recommendations, 1)
	rec := out.Recommendations[0]
	assert.InDelta(t, 0.8*0.9*0.85, rec.PriorityScore, 1e-12)
	assert.Equal(t, 0.85, rec.Confidence)
	assert.Equal(t, "high", rec.ImpactLevel)
	assert.Len(t, rec.Evidence, 3)

	assert.Equal(t, 1, out.Meta.TotalScenariosDetected)
	assert.Equal(t, EngineVersion, out.Meta.EngineVersion)
	assert.True(t, out.Meta.GeneratedAt.Equal(testWindow.To))

	s := out.StrategicScores
	require.NotNil(t, s)
	assert.InDelta(t, 42.962, s.StrategyScore, 1e-9)
	assert.InDelta(t, 50.0, s.TechnicalHealth, 1e-9)
	assert.InDelta(t, 50.0, s.LocalAuthority, 1e-9)
	assert.InDelta(t, 61.2, s.RiskIndex, 1e-9)
	assert.InDelta(t, 26.01, s.OpportunityIndex, 1e-9)
	assert.Nil(t, s.CompetitivePressure)

	sum := out.ExecutiveSummary
	require.NotNil(t, sum)
	assert.Equal(t, "organic", sum.PrimaryIssueCategory)
	require.NotNil(t, sum.TopPriorityScenario)
	assert.Equal(t, "high_visibility_low_ctr", *sum.TopPriorityScenario)
	assert.Equal(t, "risk_index", sum.DominantScoreDimension)
	assert.Equal(t, "risk_containment", sum.StrategicTheme)
	assert.Equal(t, "stabilize_high_risk_scenarios", sum.RecommendedFocusArea)
	assert.InDelta(t, 0.425, sum.SummaryConfidence, 1e-12)
}

func TestBuild_Deterministic(t *testing.T) {
	e := newTestEngine()
	req := lowCTRRequest("enterprise")
	req.RawSignals["competitor_ctr_estimate"] = 0.08
	req.RawSignals["review_velocity"] = 1

	first, err := e.Build(context.Background(), req)
	require.NoError(t, err)
	h1, err := canonical.OutputHash(first)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := e.Build(context.Background(), req)
		require.NoError(t, err)
		h2, err := canonical.OutputHash(again)
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	}
}

func TestBuild_NoSignals(t *testing.T) {
	req := Request{CampaignID: "camp-1", Window: testWindow, RawSignals: map[string]any{}, Tier: "pro"}
	out, err := newTestEngine().Build(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, out.Recommendations)
	assert.Equal(t, 50.0, out.StrategicScores.StrategyScore)
	assert.Equal(t, 50.0, out.StrategicScores.RiskIndex)
	assert.Nil(t, out.StrategicScores.CompetitivePressure)

	sum := out.ExecutiveSummary
	assert.Equal(t, "neutral", sum.PrimaryIssueCategory)
	assert.Nil(t, sum.TopPriorityScenario)
	assert.Equal(t, "strategy_score", sum.DominantScoreDimension)
	assert.Equal(t, "balanced_execution", sum.StrategicTheme)
	assert.Equal(t, "maintain_balanced_program_execution", sum.RecommendedFocusArea)
	assert.Equal(t, 0.5, sum.SummaryConfidence)

	raw, err := canonical.ToJSON(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"competitive_pressure_score":null`)
	assert.Contains(t, string(raw), `"recommendations":[]`)
}

func TestBuild_EnterpriseCompetitorGate(t *testing.T) {
	req := Request{CampaignID: "camp-1", Window: testWindow, RawSignals: map[string]any{}, Tier: "enterprise"}
	out, err := newTestEngine().Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"competitor_data_unavailable"}, out.DetectedScenarios)
	require.NotNil(t, out.StrategicScores.CompetitivePressure)
	assert.Equal(t, "system", out.ExecutiveSummary.PrimaryIssueCategory)

	// Only the exact lowercase tier runs the competitor module.
	req.Tier = "Enterprise"
	out, err = newTestEngine().Build(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, out.DetectedScenarios)
	// Scoring normalizes the tier, so the competitive score is still present.
	require.NotNil(t, out.StrategicScores.CompetitivePressure)
	assert.Equal(t, 50.0, *out.StrategicScores.CompetitivePressure)
}

func TestBuild_FiltersDeprecatedScenarios(t *testing.T) {
	reg, err := scenario.Default().Deprecate("high_visibility_low_ctr")
	require.NoError(t, err)
	e := NewEngine(reg, scenario.DefaultThresholds())

	out, err := e.Build(context.Background(), lowCTRRequest("pro"))
	require.NoError(t, err)
	assert.Empty(t, out.DetectedScenarios)
	assert.Empty(t, out.Recommendations)
}

func TestBuild_RejectsUnknownSignals(t *testing.T) {
	req := lowCTRRequest("pro")
	req.RawSignals["bogus_metric"] = 1
	_, err := newTestEngine().Build(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus_metric")
}

func TestBuild_TemporalDiagnostics(t *testing.T) {
	src := temporal.NewFixtureSource()
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for i, v := range []float64{4, 5, 6, 7, 8} {
		src.Add("camp-1", temporal.SignalRank, "avg_position", temporal.Point{Value: v, ObservedAt: base.AddDate(0, 0, 5*i)})
	}
	e := newTestEngine(WithSeriesSource(src))

	out, err := e.Build(context.Background(), Request{CampaignID: "camp-1", Window: testWindow, RawSignals: map[string]any{}, Tier: "pro"})
	require.NoError(t, err)
	assert.Contains(t, out.DetectedScenarios, "rank_negative_momentum")
}

func TestComputeScores_EnterpriseCompetitive(t *testing.T) {
	reg := scenario.Default()
	out := &Output{
		Meta: Meta{Tier: " ENTERPRISE "},
		Recommendations: []Recommendation{
			{ScenarioID: "competitive_position_gap", PriorityScore: 0.5, Confidence: 0.8, ImpactLevel: "medium"},
			{ScenarioID: "core_web_vitals_failure", PriorityScore: 2.0, Confidence: 1.5, ImpactLevel: "HIGH"},
			{ScenarioID: "not_in_registry", PriorityScore: 1, Confidence: 1, ImpactLevel: "high"},
		},
	}
	s := ComputeScores(out, reg)

	// competitive: weight .7*.8=.56, risk .5*2/3
	compRisk := 0.5 * 2.0 / 3.0
	require.NotNil(t, s.CompetitivePressure)
	assert.InDelta(t, round4(compRisk*100), *s.CompetitivePressure, 1e-9)
	// technical: priority and confidence clamp to 1, severity 1, risk 1
	assert.Equal(t, 0.0, s.TechnicalHealth)
	for _, v := range []float64{s.StrategyScore, s.RiskIndex, s.OpportunityIndex, s.LocalAuthority} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
	assert.Equal(t, 50.0, s.LocalAuthority)
}

func TestBuildSummary_TieBreaksOnLargerKey(t *testing.T) {
	comp := 40.0
	out := &Output{
		Recommendations: []Recommendation{
			{ScenarioID: "gbp_low_review_velocity", Confidence: 0.6},
			{ScenarioID: "unknown", Confidence: 0.2},
		},
		StrategicScores: &Scores{
			StrategyScore:       60,
			TechnicalHealth:     60,
			LocalAuthority:      60,
			RiskIndex:           40,
			OpportunityIndex:    40,
			CompetitivePressure: &comp,
		},
	}
	// Every dimension is 40; "technical_health_score" sorts last.
	sum := BuildSummary(out, scenario.Default())
	assert.Equal(t, "technical_health_score", sum.DominantScoreDimension)
	assert.Equal(t, "technical_stability", sum.StrategicTheme)
	assert.Equal(t, "improve_core_technical_reliability", sum.RecommendedFocusArea)
	assert.Equal(t, "gbp", sum.PrimaryIssueCategory)
	assert.InDelta(t, 0.55, sum.SummaryConfidence, 1e-12)
}

func TestBuildSummary_UnknownTopScenario(t *testing.T) {
	out := &Output{
		Recommendations: []Recommendation{{ScenarioID: "retired", Confidence: 1}},
		StrategicScores: &Scores{StrategyScore: 50, TechnicalHealth: 50, LocalAuthority: 50, RiskIndex: 10, OpportunityIndex: 90},
	}
	sum := BuildSummary(out, scenario.Default())
	assert.Equal(t, "neutral", sum.PrimaryIssueCategory)
	assert.Equal(t, "opportunity_index", sum.DominantScoreDimension)
	assert.Equal(t, "execute_high_opportunity_actions", sum.RecommendedFocusArea)
	assert.Equal(t, 0.5, sum.SummaryConfidence)
}
