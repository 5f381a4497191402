package model

import "time"

// TemporalSnapshot is one observed value of a campaign time series.
type TemporalSnapshot struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	SignalType  string    `json:"signal_type"`
	MetricName  string    `json:"metric_name"`
	MetricValue float64   `json:"metric_value"`
	ObservedAt  time.Time `json:"observed_at"`
	Source      string    `json:"source"`
	Confidence  float64   `json:"confidence"`
	VersionHash string    `json:"version_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// MomentumMetric is a derived momentum reading for a campaign. At most one
// row exists per (campaign, metric, computed_at).
type MomentumMetric struct {
	ID                string    `json:"id"`
	CampaignID        string    `json:"campaign_id"`
	MetricName        string    `json:"metric_name"`
	Slope             float64   `json:"slope"`
	Acceleration      float64   `json:"acceleration"`
	Volatility        float64   `json:"volatility"`
	WindowDays        int       `json:"window_days"`
	ComputedAt        time.Time `json:"computed_at"`
	DeterministicHash string    `json:"deterministic_hash"`
	ProfileVersion    string    `json:"profile_version"`
}

// PhaseHistory records a strategy phase change.
type PhaseHistory struct {
	ID            string    `json:"id"`
	CampaignID    string    `json:"campaign_id"`
	PriorPhase    string    `json:"prior_phase"`
	NewPhase      string    `json:"new_phase"`
	TriggerReason string    `json:"trigger_reason"`
	MomentumScore float64   `json:"momentum_score"`
	EffectiveDate time.Time `json:"effective_date"`
	VersionHash   string    `json:"version_hash"`
}
