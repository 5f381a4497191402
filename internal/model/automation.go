package model

import "time"

// Campaign is the subset of campaign state the strategy services read.
type Campaign struct {
	ID                   string    `json:"id"`
	TenantID             string    `json:"tenant_id"`
	Name                 string    `json:"name"`
	ManualAutomationLock bool      `json:"manual_automation_lock"`
	CreatedAt            time.Time `json:"created_at"`
}

// RecommendationStatus is the lifecycle state of a stored recommendation.
type RecommendationStatus string

const (
	RecommendationGenerated RecommendationStatus = "GENERATED"
	RecommendationValidated RecommendationStatus = "VALIDATED"
	RecommendationFailed    RecommendationStatus = "FAILED"
	RecommendationArchived  RecommendationStatus = "ARCHIVED"
)

// StoredRecommendation is a persisted recommendation tracked by the
// automation loop.
type StoredRecommendation struct {
	ID                 string               `json:"id"`
	TenantID           string               `json:"tenant_id"`
	CampaignID         string               `json:"campaign_id"`
	RecommendationType string               `json:"recommendation_type"`
	Rationale          string               `json:"rationale"`
	ConfidenceScore    float64              `json:"confidence_score"`
	RiskTier           int                  `json:"risk_tier"`
	Status             RecommendationStatus `json:"status"`
	CreatedAt          time.Time            `json:"created_at"`
}

// AutomationEvent is the durable record of one monthly evaluation. Snapshot
// and trace columns hold canonical JSON.
type AutomationEvent struct {
	ID               string    `json:"id"`
	CampaignID       string    `json:"campaign_id"`
	EvaluationDate   time.Time `json:"evaluation_date"`
	PriorPhase       string    `json:"prior_phase"`
	NewPhase         string    `json:"new_phase"`
	TriggeredRules   string    `json:"triggered_rules"`
	MomentumSnapshot string    `json:"momentum_snapshot"`
	ActionSummary    string    `json:"action_summary"`
	TracePayload     string    `json:"trace_payload"`
	DecisionHash     string    `json:"decision_hash"`
	VersionHash      string    `json:"version_hash"`
	CreatedAt        time.Time `json:"created_at"`
}

// RecommendationTransition is one status change made by the automation loop.
type RecommendationTransition struct {
	RecommendationID string               `json:"recommendation_id"`
	From             RecommendationStatus `json:"from"`
	To               RecommendationStatus `json:"to"`
}

// AutomationCommit is everything one evaluation writes. Stores apply it in a
// single transaction. Phase is nil when no phase change is recorded.
type AutomationCommit struct {
	Event       *AutomationEvent
	Transitions []RecommendationTransition
	Phase       *PhaseHistory
}
