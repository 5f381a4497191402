// Package observability emits structured automation, replay and admission
// events and keeps the in-process counters behind health snapshots.
package observability

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Event names.
const (
	EventAutomation      = "automation_event"
	EventRuleTrigger     = "rule_trigger"
	EventPhaseTransition = "phase_transition"
	EventDrift           = "replay_drift"
)

// AutomationEvent records one automation evaluation.
type AutomationEvent struct {
	CampaignID     string
	EvaluationDate string
	Status         string
	DecisionHash   string
}

// RuleTrigger records the rules that fired in one evaluation.
type RuleTrigger struct {
	CampaignID     string
	TriggeredRules []string
	DecisionHash   string
}

// PhaseTransition records a committed phase change.
type PhaseTransition struct {
	CampaignID   string
	PriorPhase   string
	NewPhase     string
	DecisionHash string
}

// Drift records one replay mismatch.
type Drift struct {
	CaseID    string
	DriftType string
	Expected  string
	Actual    string
	Diff      string
}

// Emitter receives observability events. Implementations must not block.
type Emitter interface {
	AutomationEvent(ctx context.Context, e AutomationEvent)
	RuleTrigger(ctx context.Context, e RuleTrigger)
	PhaseTransition(ctx context.Context, e PhaseTransition)
	Drift(ctx context.Context, e Drift)
}

// ZapEmitter logs each event as one structured line and counts it.
type ZapEmitter struct {
	log     *zap.Logger
	metrics *Metrics
}

// NewZapEmitter creates a ZapEmitter. A nil logger uses zap.L(); a nil
// metrics registry disables counting.
func NewZapEmitter(log *zap.Logger, metrics *Metrics) *ZapEmitter {
	if log == nil {
		log = zap.L()
	}
	return &ZapEmitter{log: log.Named("observability"), metrics: metrics}
}

// AutomationEvent implements Emitter.
func (z *ZapEmitter) AutomationEvent(_ context.Context, e AutomationEvent) {
	z.log.Info(EventAutomation,
		zap.String("event", EventAutomation),
		zap.String("campaign_id", e.CampaignID),
		zap.String("evaluation_date", e.EvaluationDate),
		zap.String("status", e.Status),
		zap.String("decision_hash", e.DecisionHash),
	)
	z.metrics.recordAutomation(e.Status)
}

// RuleTrigger implements Emitter. Rules are logged sorted.
func (z *ZapEmitter) RuleTrigger(_ context.Context, e RuleTrigger) {
	rules := append([]string(nil), e.TriggeredRules...)
	sort.Strings(rules)
	z.log.Info(EventRuleTrigger,
		zap.String("event", EventRuleTrigger),
		zap.String("campaign_id", e.CampaignID),
		zap.Strings("triggered_rules", rules),
		zap.String("decision_hash", e.DecisionHash),
	)
}

// PhaseTransition implements Emitter.
func (z *ZapEmitter) PhaseTransition(_ context.Context, e PhaseTransition) {
	z.log.Info(EventPhaseTransition,
		zap.String("event", EventPhaseTransition),
		zap.String("campaign_id", e.CampaignID),
		zap.String("prior_phase", e.PriorPhase),
		zap.String("new_phase", e.NewPhase),
		zap.String("decision_hash", e.DecisionHash),
	)
	z.metrics.update(func(m *Metrics) { m.phaseTransitions++ })
}

// Drift implements Emitter.
func (z *ZapEmitter) Drift(_ context.Context, e Drift) {
	fields := []zap.Field{
		zap.String("event", EventDrift),
		zap.String("case_id", e.CaseID),
		zap.String("drift_type", e.DriftType),
		zap.String("expected", e.Expected),
		zap.String("actual", e.Actual),
	}
	if e.Diff != "" {
		fields = append(fields, zap.String("diff", e.Diff))
	}
	z.log.Warn(EventDrift, fields...)
	z.metrics.update(func(m *Metrics) { m.driftEvents++ })
}

// NopEmitter discards every event.
type NopEmitter struct{}

func (NopEmitter) AutomationEvent(context.Context, AutomationEvent) {}
func (NopEmitter) RuleTrigger(context.Context, RuleTrigger)         {}
func (NopEmitter) PhaseTransition(context.Context, PhaseTransition) {}
func (NopEmitter) Drift(context.Context, Drift)                     {}

// SafeEmit runs fn and swallows any panic so a misbehaving emitter never
// changes the caller's result.
func SafeEmit(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("observability: emitter panicked",
				zap.String("event", event),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
