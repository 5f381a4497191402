// Package automation runs the monthly phase state machine for a campaign:
// guardrails, phase rules, recommendation lifecycle and allocation, each
// evaluation recorded with a decision hash and trace.
package automation

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/canonical"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/observability"
	"github.com/sells-group/strategy-cli/internal/temporal"
	"github.com/sells-group/strategy-cli/internal/trace"
)

const (
	// EngineVersion is mixed into every decision hash.
	EngineVersion = "automation-loop-v1"
	// MomentumMetricName is the metric the state machine reads.
	MomentumMetricName = "rank_avg_position_momentum"

	metricWindow       = 6
	minHistory         = 3
	phaseTriggerReason = "automation_engine_rule_transition"
	isoLayout          = "2006-01-02T15:04:05-07:00"
)

// Evaluation statuses.
const (
	StatusEvaluated        = "evaluated"
	StatusFrozen           = "frozen"
	StatusAlreadyEvaluated = "already_evaluated"
	StatusCampaignNotFound = "campaign_not_found"
)

// Repository is the persistence the engine reads and writes.
type Repository interface {
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	// LatestMomentumMetrics returns up to limit rows, newest computed_at first.
	LatestMomentumMetrics(ctx context.Context, campaignID, metricName string, limit int) ([]model.MomentumMetric, error)
	LatestPhase(ctx context.Context, campaignID string) (*model.PhaseHistory, error)
	// ListRecommendations returns rows in the given statuses, newest first.
	ListRecommendations(ctx context.Context, campaignID string, statuses []model.RecommendationStatus) ([]model.StoredRecommendation, error)
	GetAutomationEvent(ctx context.Context, campaignID string, evaluationDate time.Time) (*model.AutomationEvent, error)
	// CommitAutomation writes the event, recommendation transitions and
	// optional phase row atomically and returns the event id.
	CommitAutomation(ctx context.Context, c model.AutomationCommit) (string, error)
}

// MomentumSnapshot is the momentum reading behind one evaluation.
type MomentumSnapshot struct {
	MomentumScore     float64 `json:"momentum_score"`
	Slope             float64 `json:"slope"`
	Volatility        float64 `json:"volatility"`
	MetricsConsidered int     `json:"metrics_considered"`
}

// CanonicalValue implements canonical.Valuer.
func (s MomentumSnapshot) CanonicalValue() (canonical.Value, error) {
	return canonical.Map(map[string]canonical.Value{
		"momentum_score":     canonical.Float(s.MomentumScore),
		"slope":              canonical.Float(s.Slope),
		"volatility":         canonical.Float(s.Volatility),
		"metrics_considered": canonical.Int(int64(s.MetricsConsidered)),
	}), nil
}

// ActionSummary is what an evaluation did to the campaign's recommendations.
type ActionSummary struct {
	RecommendationTransitions []model.RecommendationTransition `json:"recommendation_transitions"`
	AllocationWeights         map[string]float64               `json:"allocation_weights"`
	RecommendationCount       int                              `json:"recommendation_count"`
	Status                    string                           `json:"status"`
}

func transitionMaps(ts []model.RecommendationTransition) []map[string]any {
	out := make([]map[string]any, len(ts))
	for i, t := range ts {
		out[i] = map[string]any{
			"recommendation_id": t.RecommendationID,
			"from":              string(t.From),
			"to":                string(t.To),
		}
	}
	return out
}

func weightsMap(w map[string]float64) map[string]any {
	out := make(map[string]any, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// CanonicalValue implements canonical.Valuer.
func (a ActionSummary) CanonicalValue() (canonical.Value, error) {
	return canonical.From(map[string]any{
		"recommendation_transitions": transitionMaps(a.RecommendationTransitions),
		"allocation_weights":         weightsMap(a.AllocationWeights),
		"recommendation_count":       a.RecommendationCount,
		"status":                     a.Status,
	})
}

// Result is the outcome of Evaluate. Only CampaignID and Status are set for
// a missing campaign; a repeated evaluation also carries the date and the
// existing event id.
type Result struct {
	CampaignID       string            `json:"campaign_id"`
	Status           string            `json:"status"`
	EvaluationDate   string            `json:"evaluation_date,omitempty"`
	PriorPhase       string            `json:"prior_phase,omitempty"`
	NewPhase         string            `json:"new_phase,omitempty"`
	TriggeredRules   []string          `json:"triggered_rules,omitempty"`
	MomentumSnapshot *MomentumSnapshot `json:"momentum_snapshot,omitempty"`
	DecisionHash     string            `json:"decision_hash,omitempty"`
	EventID          string            `json:"event_id,omitempty"`
	ActionSummary    *ActionSummary    `json:"action_summary,omitempty"`
}

// Engine evaluates campaigns against the automation rules.
type Engine struct {
	repo       Repository
	emitter    observability.Emitter
	replayMode bool
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmitter sets the observability emitter.
func WithEmitter(e observability.Emitter) Option {
	return func(eng *Engine) { eng.emitter = e }
}

// WithReplayMode freezes every evaluation with replay_mode_active.
func WithReplayMode(on bool) Option {
	return func(eng *Engine) { eng.replayMode = on }
}

// WithClock overrides the evaluation clock.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) { eng.now = now }
}

// NewEngine creates an Engine over repo.
func NewEngine(repo Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:    repo,
		emitter: observability.NopEmitter{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ReplayModeFromEnv reports whether LSOS_REPLAY_MODE or REPLAY_MODE is "1".
func ReplayModeFromEnv() bool {
	return strings.TrimSpace(os.Getenv("LSOS_REPLAY_MODE")) == "1" ||
		strings.TrimSpace(os.Getenv("REPLAY_MODE")) == "1"
}

// MonthAnchor is midnight UTC on the first day of t's month.
func MonthAnchor(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Evaluate runs one monthly evaluation for campaignID. A zero at uses the
// engine clock. At most one evaluation is recorded per campaign and month.
//
// Guardrail hits freeze the evaluation: the phase is kept, no
// recommendation changes and no phase history are written, but the event
// is still recorded with its decision hash. The momentum reading and the
// phase the rules would have chosen are kept in the snapshot and trace.
func (e *Engine) Evaluate(ctx context.Context, campaignID string, at time.Time) (*Result, error) {
	if at.IsZero() {
		at = e.now()
	}
	anchor := MonthAnchor(at)
	anchorISO := anchor.Format(isoLayout)

	existing, err := e.repo.GetAutomationEvent(ctx, campaignID, anchor)
	if err != nil {
		return nil, eris.Wrap(err, "automation: load existing event")
	}
	if existing != nil {
		e.emitAutomation(ctx, campaignID, anchorISO, StatusAlreadyEvaluated, existing.DecisionHash)
		return &Result{
			CampaignID:     campaignID,
			Status:         StatusAlreadyEvaluated,
			EvaluationDate: anchorISO,
			EventID:        existing.ID,
		}, nil
	}

	campaign, err := e.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, eris.Wrap(err, "automation: load campaign")
	}
	if campaign == nil {
		return &Result{CampaignID: campaignID, Status: StatusCampaignNotFound}, nil
	}

	metrics, err := e.repo.LatestMomentumMetrics(ctx, campaignID, MomentumMetricName, metricWindow)
	if err != nil {
		return nil, eris.Wrap(err, "automation: load momentum metrics")
	}
	hits := guardrails(campaign, metrics, e.replayMode)

	priorPhase := PhaseStabilization
	latest, err := e.repo.LatestPhase(ctx, campaignID)
	if err != nil {
		return nil, eris.Wrap(err, "automation: load latest phase")
	}
	if latest != nil {
		priorPhase = latest.NewPhase
	}

	recs, err := e.repo.ListRecommendations(ctx, campaignID, []model.RecommendationStatus{
		model.RecommendationGenerated,
		model.RecommendationValidated,
		model.RecommendationFailed,
	})
	if err != nil {
		return nil, eris.Wrap(err, "automation: load recommendations")
	}

	var slope, volatility, momentum float64
	if len(metrics) > 0 {
		slope = metrics[0].Slope
		volatility = metrics[0].Volatility
		momentum = momentumScore(slope, volatility)
	}
	candidatePhase, candidateRules := phaseDecision(momentum, slope, volatility)

	frozen := len(hits) > 0
	var (
		newPhase        string
		triggeredRules  []string
		transitions     []model.RecommendationTransition
		allocation      map[string]float64
		status          string
		ruleEvaluations []map[string]any
	)
	if frozen {
		newPhase = priorPhase
		triggeredRules = hits
		allocation = make(map[string]float64, len(recs))
		for _, rec := range recs {
			allocation[rec.ID] = 0
		}
		status = StatusFrozen
		for _, rule := range hits {
			ruleEvaluations = append(ruleEvaluations, map[string]any{"rule": rule, "result": true, "source": "guardrail"})
		}
		if len(metrics) > 0 {
			for _, rule := range candidateRules {
				ruleEvaluations = append(ruleEvaluations, map[string]any{
					"rule":            rule,
					"result":          false,
					"source":          "suppressed_phase_decision",
					"candidate_phase": candidatePhase,
				})
			}
		}
	} else {
		newPhase = candidatePhase
		triggeredRules = candidateRules
		transitions = adjustRecommendations(momentum, recs)
		allocation = allocationWeights(momentum, recs)
		status = StatusEvaluated
		for _, rule := range triggeredRules {
			ruleEvaluations = append(ruleEvaluations, map[string]any{"rule": rule, "result": true, "source": "phase_decision"})
		}
	}
	if transitions == nil {
		transitions = []model.RecommendationTransition{}
	}

	action := ActionSummary{
		RecommendationTransitions: transitions,
		AllocationWeights:         allocation,
		RecommendationCount:       len(recs),
		Status:                    status,
	}
	snapshot := MomentumSnapshot{
		MomentumScore:     temporal.Round(momentum),
		Slope:             temporal.Round(slope),
		Volatility:        temporal.Round(volatility),
		MetricsConsidered: len(metrics),
	}

	recIDs := make([]string, len(recs))
	for i, rec := range recs {
		recIDs[i] = rec.ID
	}
	sort.Strings(recIDs)
	sortedRules := append([]string(nil), triggeredRules...)
	sort.Strings(sortedRules)

	decisionHash, err := canonical.Digest(map[string]any{
		"automation_engine_version": EngineVersion,
		"campaign_id":               campaignID,
		"evaluation_month":          anchor.Format("2006-01-02"),
		"prior_phase":               priorPhase,
		"new_phase":                 newPhase,
		"triggered_rules":           sortedRules,
		"recommendation_ids":        recIDs,
		"momentum_snapshot":         snapshot,
		"action_snapshot":           action,
	})
	if err != nil {
		return nil, eris.Wrap(err, "automation: decision hash")
	}

	decisionTrace, err := trace.Build(trace.Input{
		RuleEvaluations: ruleEvaluations,
		ThresholdValues: thresholdValues(),
		MomentumInputs: map[string]any{
			"momentum_score":     snapshot.MomentumScore,
			"slope":              snapshot.Slope,
			"volatility":         snapshot.Volatility,
			"metrics_considered": snapshot.MetricsConsidered,
		},
		VolatilityInputs:      map[string]any{"volatility": snapshot.Volatility},
		AllocationWeights:     weightsMap(allocation),
		ConfidenceAdjustments: transitionMaps(transitions),
	})
	if err != nil {
		return nil, eris.Wrap(err, "automation: build decision trace")
	}

	versionHash, err := canonical.VersionFingerprint(map[string]any{
		"engine_version":    EngineVersion,
		"campaign_id":       campaignID,
		"evaluation_date":   anchorISO,
		"prior_phase":       priorPhase,
		"new_phase":         newPhase,
		"triggered_rules":   triggeredRules,
		"momentum_snapshot": snapshot,
		"action_summary":    action,
		"decision_hash":     decisionHash,
		"trace_payload":     decisionTrace,
	})
	if err != nil {
		return nil, eris.Wrap(err, "automation: version hash")
	}

	event, err := buildEvent(campaignID, anchor, priorPhase, newPhase, sortedRules, snapshot, action, decisionTrace, decisionHash, versionHash)
	if err != nil {
		return nil, err
	}
	commit := model.AutomationCommit{Event: event}
	phaseChanged := !frozen && newPhase != priorPhase
	if !frozen {
		commit.Transitions = transitions
	}
	if phaseChanged {
		commit.Phase = &model.PhaseHistory{
			CampaignID:    campaignID,
			PriorPhase:    priorPhase,
			NewPhase:      newPhase,
			TriggerReason: phaseTriggerReason,
			MomentumScore: snapshot.MomentumScore,
			EffectiveDate: anchor,
			VersionHash:   versionHash,
		}
	}
	eventID, err := e.repo.CommitAutomation(ctx, commit)
	if err != nil {
		return nil, eris.Wrap(err, "automation: commit evaluation")
	}

	zap.L().Info("automation evaluation recorded",
		zap.String("campaign_id", campaignID),
		zap.String("status", status),
		zap.String("prior_phase", priorPhase),
		zap.String("new_phase", newPhase),
		zap.Strings("triggered_rules", triggeredRules),
	)

	observability.SafeEmit(observability.EventRuleTrigger, func() {
		e.emitter.RuleTrigger(ctx, observability.RuleTrigger{
			CampaignID:     campaignID,
			TriggeredRules: triggeredRules,
			DecisionHash:   decisionHash,
		})
	})
	e.emitAutomation(ctx, campaignID, anchorISO, status, decisionHash)
	if phaseChanged {
		observability.SafeEmit(observability.EventPhaseTransition, func() {
			e.emitter.PhaseTransition(ctx, observability.PhaseTransition{
				CampaignID:   campaignID,
				PriorPhase:   priorPhase,
				NewPhase:     newPhase,
				DecisionHash: decisionHash,
			})
		})
	}

	return &Result{
		CampaignID:       campaignID,
		Status:           status,
		EvaluationDate:   anchorISO,
		PriorPhase:       priorPhase,
		NewPhase:         newPhase,
		TriggeredRules:   triggeredRules,
		MomentumSnapshot: &snapshot,
		DecisionHash:     decisionHash,
		EventID:          eventID,
		ActionSummary:    &action,
	}, nil
}

func (e *Engine) emitAutomation(ctx context.Context, campaignID, date, status, hash string) {
	observability.SafeEmit(observability.EventAutomation, func() {
		e.emitter.AutomationEvent(ctx, observability.AutomationEvent{
			CampaignID:     campaignID,
			EvaluationDate: date,
			Status:         status,
			DecisionHash:   hash,
		})
	})
}

func buildEvent(
	campaignID string,
	anchor time.Time,
	prior, next string,
	sortedRules []string,
	snapshot MomentumSnapshot,
	action ActionSummary,
	decisionTrace canonical.Value,
	decisionHash, versionHash string,
) (*model.AutomationEvent, error) {
	rules, err := canonical.ToJSON(sortedRules)
	if err != nil {
		return nil, err
	}
	snap, err := canonical.ToJSON(snapshot)
	if err != nil {
		return nil, err
	}
	summary, err := canonical.ToJSON(action)
	if err != nil {
		return nil, err
	}
	tracePayload, err := trace.Serialize(decisionTrace)
	if err != nil {
		return nil, err
	}
	return &model.AutomationEvent{
		CampaignID:       campaignID,
		EvaluationDate:   anchor,
		PriorPhase:       prior,
		NewPhase:         next,
		TriggeredRules:   string(rules),
		MomentumSnapshot: string(snap),
		ActionSummary:    string(summary),
		TracePayload:     string(tracePayload),
		DecisionHash:     decisionHash,
		VersionHash:      versionHash,
	}, nil
}
