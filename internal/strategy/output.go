// Package strategy turns raw campaign signals into ranked, evidence-backed
// recommendations with composite scores and an executive summary.
package strategy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/canonical"
	"github.com/sells-group/strategy-cli/internal/diagnostics"
)

// EngineVersion identifies the diagnostic pipeline.
const EngineVersion = "phase2-controlled-scope"

// Window is the evaluation window. Both bounds are inclusive.
type Window struct {
	From time.Time `json:"date_from"`
	To   time.Time `json:"date_to"`
}

// UnmarshalJSON accepts RFC 3339 timestamps or bare dates, which are read
// as midnight UTC.
func (w *Window) UnmarshalJSON(raw []byte) error {
	var doc struct {
		From string `json:"date_from"`
		To   string `json:"date_to"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return eris.Wrap(err, "strategy: parse window")
	}
	from, err := parseWindowTime(doc.From)
	if err != nil {
		return err
	}
	to, err := parseWindowTime(doc.To)
	if err != nil {
		return err
	}
	w.From, w.To = from, to
	return nil
}

func parseWindowTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("strategy: invalid window time %q", s)
}

// Reference is the opaque window reference cited by evidence.
func (w Window) Reference() string {
	return isoformat(w.From) + "__" + isoformat(w.To)
}

// isoformat renders t with a numeric UTC offset and microseconds only when
// they are non-zero.
func isoformat(t time.Time) string {
	layout := "2006-01-02T15:04:05"
	if t.Nanosecond()/1000 != 0 {
		layout += fmt.Sprintf(".%06d", t.Nanosecond()/1000)
	}
	return t.Format(layout + "-07:00")
}

// Recommendation is a ranked scenario with its narrative and evidence.
type Recommendation struct {
	ScenarioID           string                 `json:"scenario_id"`
	PriorityScore        float64                `json:"priority_score"`
	Diagnosis            string                 `json:"diagnosis"`
	RootCause            string                 `json:"root_cause"`
	RecommendedActions   []string               `json:"recommended_actions"`
	ExpectedOutcome      string                 `json:"expected_outcome"`
	AuthoritativeSources []string               `json:"authoritative_sources"`
	Confidence           float64                `json:"confidence"`
	ImpactLevel          string                 `json:"impact_level"`
	Evidence             []diagnostics.Evidence `json:"evidence"`
}

// CanonicalValue implements canonical.Valuer.
func (r Recommendation) CanonicalValue() (canonical.Value, error) {
	return canonical.Map(map[string]canonical.Value{
		"scenario_id":           canonical.String(r.ScenarioID),
		"priority_score":        canonical.Float(r.PriorityScore),
		"diagnosis":             canonical.String(r.Diagnosis),
		"root_cause":            canonical.String(r.RootCause),
		"recommended_actions":   stringList(r.RecommendedActions),
		"expected_outcome":      canonical.String(r.ExpectedOutcome),
		"authoritative_sources": stringList(r.AuthoritativeSources),
		"confidence":            canonical.Float(r.Confidence),
		"impact_level":          canonical.String(r.ImpactLevel),
		"evidence":              diagnostics.EvidenceList(r.Evidence),
	}), nil
}

// Scores are bounded [0,100] composites. CompetitivePressure is nil outside
// the enterprise tier.
type Scores struct {
	StrategyScore       float64  `json:"strategy_score"`
	TechnicalHealth     float64  `json:"technical_health_score"`
	CompetitivePressure *float64 `json:"competitive_pressure_score"`
	LocalAuthority      float64  `json:"local_authority_score"`
	RiskIndex           float64  `json:"risk_index"`
	OpportunityIndex    float64  `json:"opportunity_index"`
}

// CanonicalValue implements canonical.Valuer.
func (s Scores) CanonicalValue() (canonical.Value, error) {
	comp := canonical.Null()
	if s.CompetitivePressure != nil {
		comp = canonical.Float(*s.CompetitivePressure)
	}
	return canonical.Map(map[string]canonical.Value{
		"strategy_score":             canonical.Float(s.StrategyScore),
		"technical_health_score":     canonical.Float(s.TechnicalHealth),
		"competitive_pressure_score": comp,
		"local_authority_score":      canonical.Float(s.LocalAuthority),
		"risk_index":                 canonical.Float(s.RiskIndex),
		"opportunity_index":          canonical.Float(s.OpportunityIndex),
	}), nil
}

// Summary is the executive summary derived from scores and the top
// recommendation.
type Summary struct {
	PrimaryIssueCategory   string  `json:"primary_issue_category"`
	TopPriorityScenario    *string `json:"top_priority_scenario"`
	DominantScoreDimension string  `json:"dominant_score_dimension"`
	StrategicTheme         string  `json:"strategic_theme"`
	RecommendedFocusArea   string  `json:"recommended_focus_area"`
	SummaryConfidence      float64 `json:"summary_confidence"`
}

// CanonicalValue implements canonical.Valuer.
func (s Summary) CanonicalValue() (canonical.Value, error) {
	top := canonical.Null()
	if s.TopPriorityScenario != nil {
		top = canonical.String(*s.TopPriorityScenario)
	}
	return canonical.Map(map[string]canonical.Value{
		"primary_issue_category":   canonical.String(s.PrimaryIssueCategory),
		"top_priority_scenario":    top,
		"dominant_score_dimension": canonical.String(s.DominantScoreDimension),
		"strategic_theme":          canonical.String(s.StrategicTheme),
		"recommended_focus_area":   canonical.String(s.RecommendedFocusArea),
		"summary_confidence":       canonical.Float(s.SummaryConfidence),
	}), nil
}

// TemporalState is the momentum visibility block attached to meta.
type TemporalState struct {
	CurrentPhase       string    `json:"current_strategy_phase"`
	MomentumScore      float64   `json:"momentum_score"`
	TrendDirection     string    `json:"trend_direction"`
	VolatilityLevel    string    `json:"volatility_level"`
	ProfileVersionHash string    `json:"profile_version_hash"`
	ComputedAt         time.Time `json:"temporal_metric_computed_at"`
}

// CanonicalValue implements canonical.Valuer.
func (t TemporalState) CanonicalValue() (canonical.Value, error) {
	return canonical.Map(map[string]canonical.Value{
		"current_strategy_phase":      canonical.String(t.CurrentPhase),
		"momentum_score":              canonical.Float(t.MomentumScore),
		"trend_direction":             canonical.String(t.TrendDirection),
		"volatility_level":            canonical.String(t.VolatilityLevel),
		"profile_version_hash":        canonical.String(t.ProfileVersionHash),
		"temporal_metric_computed_at": canonical.String(isoformat(t.ComputedAt)),
	}), nil
}

// Meta carries run metadata.
type Meta struct {
	TotalScenariosDetected int            `json:"total_scenarios_detected"`
	GeneratedAt            time.Time      `json:"generated_at"`
	EngineVersion          string         `json:"engine_version"`
	Tier                   string         `json:"tier"`
	Temporal               *TemporalState `json:"temporal,omitempty"`
	Stamp                  *BuildStamp    `json:"-"`
}

// CanonicalValue implements canonical.Valuer.
func (m Meta) CanonicalValue() (canonical.Value, error) {
	fields := map[string]canonical.Value{
		"total_scenarios_detected": canonical.Int(int64(m.TotalScenariosDetected)),
		"generated_at":             canonical.String(isoformat(m.GeneratedAt)),
		"engine_version":           canonical.String(m.EngineVersion),
		"tier":                     canonical.String(m.Tier),
	}
	if m.Temporal != nil {
		fields["temporal"], _ = m.Temporal.CanonicalValue()
	}
	if m.Stamp != nil {
		for k, v := range m.Stamp.fields() {
			fields[k] = v
		}
	}
	return canonical.Map(fields), nil
}

// Output is the full strategy for one campaign window.
type Output struct {
	CampaignID        string           `json:"campaign_id"`
	Window            Window           `json:"window"`
	DetectedScenarios []string         `json:"detected_scenarios"`
	Recommendations   []Recommendation `json:"recommendations"`
	StrategicScores   *Scores          `json:"strategic_scores"`
	ExecutiveSummary  *Summary         `json:"executive_summary"`
	Meta              Meta             `json:"meta"`
}

// CanonicalValue implements canonical.Valuer.
func (o Output) CanonicalValue() (canonical.Value, error) {
	recs := make([]canonical.Value, len(o.Recommendations))
	for i, r := range o.Recommendations {
		recs[i], _ = r.CanonicalValue()
	}
	scores, summary := canonical.Null(), canonical.Null()
	if o.StrategicScores != nil {
		scores, _ = o.StrategicScores.CanonicalValue()
	}
	if o.ExecutiveSummary != nil {
		summary, _ = o.ExecutiveSummary.CanonicalValue()
	}
	meta, _ := o.Meta.CanonicalValue()
	return canonical.Map(map[string]canonical.Value{
		"campaign_id": canonical.String(o.CampaignID),
		"window": canonical.Map(map[string]canonical.Value{
			"date_from": canonical.Time(o.Window.From),
			"date_to":   canonical.Time(o.Window.To),
		}),
		"detected_scenarios": stringList(o.DetectedScenarios),
		"recommendations":    canonical.List(recs...),
		"strategic_scores":   scores,
		"executive_summary":  summary,
		"meta":               meta,
	}), nil
}

// MarshalJSON encodes the output canonically.
func (o Output) MarshalJSON() ([]byte, error) {
	v, err := o.CanonicalValue()
	if err != nil {
		return nil, err
	}
	return canonical.Encode(v), nil
}

func stringList(items []string) canonical.Value {
	out := make([]canonical.Value, len(items))
	for i, s := range items {
		out[i] = canonical.String(s)
	}
	return canonical.List(out...)
}
