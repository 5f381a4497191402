package automation

import (
	"math"
	"sort"

	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/temporal"
)

// Decision thresholds.
const (
	FreezeVolatilityCeiling      = 0.9
	PromotionConfidenceThreshold = 0.8
	NegativeMomentumThreshold    = -0.2
	PositiveMomentumThreshold    = 0.2
	DominanceMomentumThreshold   = 0.55
	recoverySlope                = 0.08
)

// Rule names recorded in triggered_rules.
const (
	RuleInsufficientHistory   = "insufficient_historical_window"
	RuleFreezeHighVolatility  = "freeze_high_volatility"
	RuleManualLock            = "manual_lock_mode"
	RuleReplayModeActive      = "replay_mode_active"
	RuleVolatilityAboveFreeze = "volatility_above_freeze_ceiling"
	RuleSustainedNegative     = "sustained_negative_slope"
	RuleDominanceReached      = "dominance_threshold_reached"
	RuleSustainedPositive     = "sustained_positive_slope"
	RuleDefaultStabilization  = "default_stabilization_band"
)

// Phases.
const (
	PhaseStabilization = "stabilization"
	PhaseRecovery      = "recovery"
	PhaseGrowth        = "growth"
	PhaseAcceleration  = "acceleration"
)

func thresholdValues() map[string]any {
	return map[string]any{
		"freeze_volatility_ceiling":      FreezeVolatilityCeiling,
		"promotion_confidence_threshold": PromotionConfidenceThreshold,
		"negative_momentum_threshold":    NegativeMomentumThreshold,
		"positive_momentum_threshold":    PositiveMomentumThreshold,
		"dominance_momentum_threshold":   DominanceMomentumThreshold,
	}
}

// guardrails returns the rules that freeze an evaluation, in check order.
func guardrails(c *model.Campaign, metrics []model.MomentumMetric, replayMode bool) []string {
	var rules []string
	if len(metrics) < minHistory {
		rules = append(rules, RuleInsufficientHistory)
	}
	if len(metrics) > 0 && metrics[0].Volatility >= FreezeVolatilityCeiling {
		rules = append(rules, RuleFreezeHighVolatility)
	}
	if c.ManualAutomationLock {
		rules = append(rules, RuleManualLock)
	}
	if replayMode {
		rules = append(rules, RuleReplayModeActive)
	}
	return rules
}

// momentumScore dampens the inverted slope by volatility. A falling average
// position is positive momentum.
func momentumScore(slope, volatility float64) float64 {
	m := -slope * (1 - math.Min(volatility, 1))
	return math.Max(-1, math.Min(1, m))
}

func phaseDecision(momentum, slope, volatility float64) (string, []string) {
	switch {
	case volatility >= FreezeVolatilityCeiling:
		return PhaseStabilization, []string{RuleVolatilityAboveFreeze}
	case slope >= recoverySlope || momentum <= NegativeMomentumThreshold:
		return PhaseRecovery, []string{RuleSustainedNegative}
	case momentum >= DominanceMomentumThreshold:
		return PhaseAcceleration, []string{RuleDominanceReached}
	case momentum >= PositiveMomentumThreshold:
		return PhaseGrowth, []string{RuleSustainedPositive}
	default:
		return PhaseStabilization, []string{RuleDefaultStabilization}
	}
}

func opportunityScore(rec model.StoredRecommendation) float64 {
	riskNorm := math.Max(0, math.Min(1, 1-float64(rec.RiskTier)/4))
	return math.Max(0, rec.ConfidenceScore*riskNorm)
}

// allocationWeights spreads positive momentum across recommendations by
// opportunity. Without positive weight every recommendation gets 0.
func allocationWeights(momentum float64, recs []model.StoredRecommendation) map[string]float64 {
	raw := make(map[string]float64, len(recs))
	var total float64
	for _, rec := range recs {
		w := temporal.Round(math.Max(0, momentum) * opportunityScore(rec))
		raw[rec.ID] = w
		total += w
	}
	out := make(map[string]float64, len(raw))
	for id, w := range raw {
		if total <= 0 {
			out[id] = 0
			continue
		}
		out[id] = temporal.Round(w / total)
	}
	return out
}

func isActive(s model.RecommendationStatus) bool {
	return s == model.RecommendationGenerated || s == model.RecommendationValidated
}

// adjustRecommendations promotes confident recommendations under positive
// momentum and archives those whose type keeps failing or whose campaign is
// losing momentum. recs is updated in place.
func adjustRecommendations(momentum float64, recs []model.StoredRecommendation) []model.RecommendationTransition {
	failedByType := map[string]int{}
	for _, rec := range recs {
		if rec.Status == model.RecommendationFailed {
			failedByType[rec.RecommendationType]++
		}
	}

	var transitions []model.RecommendationTransition
	for i := range recs {
		rec := &recs[i]
		from := rec.Status
		to := from
		switch {
		case from == model.RecommendationGenerated && rec.ConfidenceScore >= PromotionConfidenceThreshold && momentum > PositiveMomentumThreshold:
			to = model.RecommendationValidated
		case isActive(from) && failedByType[rec.RecommendationType] >= 2:
			to = model.RecommendationArchived
		case isActive(from) && momentum < NegativeMomentumThreshold:
			to = model.RecommendationArchived
		}
		if to != from {
			rec.Status = to
			transitions = append(transitions, model.RecommendationTransition{RecommendationID: rec.ID, From: from, To: to})
		}
	}
	sort.Slice(transitions, func(i, j int) bool {
		a, b := transitions[i], transitions[j]
		if a.RecommendationID != b.RecommendationID {
			return a.RecommendationID < b.RecommendationID
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	return transitions
}
