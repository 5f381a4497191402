package strategy

import "github.com/sells-group/strategy-cli/internal/scenario"

const (
	dimRisk        = "risk_index"
	dimOpportunity = "opportunity_index"
	dimTechnical   = "technical_health_score"
	dimLocal       = "local_authority_score"
	dimCompetitive = "competitive_pressure_score"
	dimStrategy    = "strategy_score"
)

var themeByDimension = map[string]string{
	dimRisk:        "risk_containment",
	dimOpportunity: "growth_capture",
	dimTechnical:   "technical_stability",
	dimLocal:       "local_authority_build",
	dimCompetitive: "competitive_positioning",
	dimStrategy:    "balanced_execution",
}

var focusByTheme = map[string]string{
	"risk_containment":        "stabilize_high_risk_scenarios",
	"growth_capture":          "execute_high_opportunity_actions",
	"technical_stability":     "improve_core_technical_reliability",
	"local_authority_build":   "strengthen_local_reputation_and_presence",
	"competitive_positioning": "close_competitive_gaps",
	"balanced_execution":      "maintain_balanced_program_execution",
}

func neutralSummary() *Summary {
	return &Summary{
		PrimaryIssueCategory:   "neutral",
		DominantScoreDimension: dimStrategy,
		StrategicTheme:         themeByDimension[dimStrategy],
		RecommendedFocusArea:   focusByTheme[themeByDimension[dimStrategy]],
		SummaryConfidence:      neutral,
	}
}

// BuildSummary picks the dominant score dimension and maps it to a theme
// and focus area. Ties between dimensions go to the lexically larger key.
func BuildSummary(out *Output, reg *scenario.Registry) *Summary {
	scores := out.StrategicScores
	if scores == nil || len(out.Recommendations) == 0 {
		return neutralSummary()
	}

	top := out.Recommendations[0]
	category := "neutral"
	if sc, ok := reg.Get(top.ScenarioID); ok {
		category = sc.Category
	}

	competitive := -1.0
	if scores.CompetitivePressure != nil {
		competitive = *scores.CompetitivePressure
	}
	dims := map[string]float64{
		dimRisk:        scores.RiskIndex,
		dimOpportunity: scores.OpportunityIndex,
		dimTechnical:   100 - scores.TechnicalHealth,
		dimLocal:       100 - scores.LocalAuthority,
		dimCompetitive: competitive,
		dimStrategy:    100 - scores.StrategyScore,
	}
	dominant := ""
	for key, v := range dims {
		if dominant == "" || v > dims[dominant] || (v == dims[dominant] && key > dominant) {
			dominant = key
		}
	}
	theme := themeByDimension[dominant]

	concentration := 1.0 / float64(len(out.Recommendations))
	topID := top.ScenarioID
	return &Summary{
		PrimaryIssueCategory:   category,
		TopPriorityScenario:    &topID,
		DominantScoreDimension: dominant,
		StrategicTheme:         theme,
		RecommendedFocusArea:   focusByTheme[theme],
		SummaryConfidence:      round4(clamp((top.Confidence+(1-concentration))/2, 0, 1)),
	}
}
