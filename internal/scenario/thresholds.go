package scenario

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/canonical"
)

// Thresholds are the named numeric limits diagnostic modules compare
// signals against. Evidence cites them by their upper-snake name.
type Thresholds struct {
	// CTR.
	HighImpressions  float64 `yaml:"high_impressions" json:"HIGH_IMPRESSIONS_THRESHOLD"`
	CTRPositionMin   float64 `yaml:"ctr_position_min" json:"CTR_POSITION_MIN_THRESHOLD"`
	CTRPositionMax   float64 `yaml:"ctr_position_max" json:"CTR_POSITION_MAX_THRESHOLD"`
	CTRLow           float64 `yaml:"ctr_low" json:"CTR_LOW_THRESHOLD"`
	CTRCompetitorGap float64 `yaml:"ctr_competitor_gap" json:"CTR_COMPETITOR_GAP_THRESHOLD"`

	// Core Web Vitals.
	LCPSeconds        float64 `yaml:"lcp_seconds" json:"LCP_THRESHOLD_SECONDS"`
	CLS               float64 `yaml:"cls" json:"CLS_THRESHOLD"`
	INPMillis         float64 `yaml:"inp_ms" json:"INP_THRESHOLD_MS"`
	TTFBMillis        float64 `yaml:"ttfb_ms" json:"TTFB_THRESHOLD_MS"`
	CWVLCPWeight      float64 `yaml:"cwv_lcp_weight" json:"CWV_LCP_WEIGHT"`
	CWVCLSWeight      float64 `yaml:"cwv_cls_weight" json:"CWV_CLS_WEIGHT"`
	CWVINPWeight      float64 `yaml:"cwv_inp_weight" json:"CWV_INP_WEIGHT"`
	CWVTTFBWeight     float64 `yaml:"cwv_ttfb_weight" json:"CWV_TTFB_WEIGHT"`
	CWVSeverityCap    float64 `yaml:"cwv_severity_cap" json:"CWV_SEVERITY_CAP"`
	CWVBaseConf       float64 `yaml:"cwv_base_confidence" json:"CWV_BASE_CONFIDENCE"`
	CWVConfMultiplier float64 `yaml:"cwv_confidence_multiplier" json:"CWV_CONFIDENCE_MULTIPLIER"`

	// Ranking.
	RankingSeverePositionDrop   float64 `yaml:"ranking_severe_position_drop" json:"RANKING_SEVERE_POSITION_DROP_THRESHOLD"`
	RankingSevereTrafficDecline float64 `yaml:"ranking_severe_traffic_decline" json:"RANKING_SEVERE_TRAFFIC_DECLINE_THRESHOLD"`
	RankingPositionDrop         float64 `yaml:"ranking_position_drop" json:"RANKING_POSITION_DROP_THRESHOLD"`
	RankingTrafficDecline       float64 `yaml:"ranking_traffic_decline" json:"RANKING_TRAFFIC_DECLINE_THRESHOLD"`

	// GBP.
	GBPReviewVelocity      float64 `yaml:"gbp_review_velocity" json:"GBP_REVIEW_VELOCITY_THRESHOLD"`
	GBPReviewResponseRate  float64 `yaml:"gbp_review_response_rate" json:"GBP_REVIEW_RESPONSE_RATE_THRESHOLD"`
	GBPCompetitorReviewGap float64 `yaml:"gbp_competitor_review_gap" json:"GBP_COMPETITOR_REVIEW_COUNT_GAP_THRESHOLD"`

	// Competitor.
	CompetitorMinSignals  int     `yaml:"competitor_min_signals" json:"COMPETITOR_REQUIRED_SIGNAL_MIN_COUNT"`
	CompetitorRatingGap   float64 `yaml:"competitor_rating_gap" json:"COMPETITOR_RATING_GAP_THRESHOLD"`
	CompetitorPositionGap float64 `yaml:"competitor_position_gap" json:"COMPETITOR_POSITION_GAP_THRESHOLD"`

	// Temporal.
	TemporalRankSlope     float64 `yaml:"temporal_rank_slope" json:"TEMPORAL_RANK_SLOPE_THRESHOLD"`
	TemporalTrendStrength float64 `yaml:"temporal_trend_strength" json:"TEMPORAL_TREND_STRENGTH_REFERENCE"`

	// Confidence and magnitude levels.
	ConfidenceHigh   float64 `yaml:"confidence_high" json:"DIAGNOSTIC_CONFIDENCE_HIGH"`
	ConfidenceMedium float64 `yaml:"confidence_medium" json:"DIAGNOSTIC_CONFIDENCE_MEDIUM"`
	ConfidenceLow    float64 `yaml:"confidence_low" json:"DIAGNOSTIC_CONFIDENCE_LOW"`
	MagnitudeHigh    float64 `yaml:"magnitude_high" json:"HIGH_PRIORITY_SIGNAL_MAGNITUDE"`
	MagnitudeMedium  float64 `yaml:"magnitude_medium" json:"MEDIUM_PRIORITY_SIGNAL_MAGNITUDE"`
	MagnitudeLow     float64 `yaml:"magnitude_low" json:"LOW_PRIORITY_SIGNAL_MAGNITUDE"`
}

// DefaultThresholds returns the production threshold bundle.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighImpressions:  1000,
		CTRPositionMin:   1,
		CTRPositionMax:   10,
		CTRLow:           0.02,
		CTRCompetitorGap: 0.03,

		LCPSeconds:        2.5,
		CLS:               0.1,
		INPMillis:         200,
		TTFBMillis:        800,
		CWVLCPWeight:      0.35,
		CWVCLSWeight:      0.25,
		CWVINPWeight:      0.25,
		CWVTTFBWeight:     0.15,
		CWVSeverityCap:    2.0,
		CWVBaseConf:       0.55,
		CWVConfMultiplier: 0.4,

		RankingSeverePositionDrop:   5.0,
		RankingSevereTrafficDecline: -0.25,
		RankingPositionDrop:         3.0,
		RankingTrafficDecline:       -0.05,

		GBPReviewVelocity:      2.0,
		GBPReviewResponseRate:  0.7,
		GBPCompetitorReviewGap: 25,

		CompetitorMinSignals:  2,
		CompetitorRatingGap:   0.3,
		CompetitorPositionGap: 2.0,

		TemporalRankSlope:     0.05,
		TemporalTrendStrength: 0.2,

		ConfidenceHigh:   0.85,
		ConfidenceMedium: 0.65,
		ConfidenceLow:    0.4,
		MagnitudeHigh:    0.9,
		MagnitudeMedium:  0.6,
		MagnitudeLow:     0.3,
	}
}

// Validate checks that the bundle is internally consistent.
func (t Thresholds) Validate() error {
	var errs []string

	unit := map[string]float64{
		"ctr_low":             t.CTRLow,
		"confidence_high":     t.ConfidenceHigh,
		"confidence_medium":   t.ConfidenceMedium,
		"confidence_low":      t.ConfidenceLow,
		"magnitude_high":      t.MagnitudeHigh,
		"magnitude_medium":    t.MagnitudeMedium,
		"magnitude_low":       t.MagnitudeLow,
		"cwv_base_confidence": t.CWVBaseConf,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s must be in [0,1]", name))
		}
	}
	if t.CTRPositionMin > t.CTRPositionMax {
		errs = append(errs, "ctr_position_min must be <= ctr_position_max")
	}
	if t.CWVSeverityCap <= 0 {
		errs = append(errs, "cwv_severity_cap must be > 0")
	}
	if t.CompetitorMinSignals < 0 {
		errs = append(errs, "competitor_min_signals must be >= 0")
	}
	if t.ConfidenceLow > t.ConfidenceMedium || t.ConfidenceMedium > t.ConfidenceHigh {
		errs = append(errs, "confidence levels must be ordered low <= medium <= high")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("scenario: invalid thresholds: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BundleVersion fingerprints the bundle for replay version tuples.
func (t Thresholds) BundleVersion() (string, error) {
	v, err := canonical.FromJSON(t)
	if err != nil {
		return "", eris.Wrap(err, "scenario: encode thresholds")
	}
	return canonical.VersionFingerprint(v)
}
