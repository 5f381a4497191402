package strategy

import (
	"math"
	"strings"

	"github.com/sells-group/strategy-cli/internal/scenario"
)

const neutral = 0.5

var impactSeverity = map[string]float64{
	scenario.ImpactLow:    1.0 / 3.0,
	scenario.ImpactMedium: 2.0 / 3.0,
	scenario.ImpactHigh:   1.0,
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func to100(v float64) float64 {
	return round4(clamp(v*100, 0, 100))
}

type weighted struct {
	values  []float64
	weights []float64
}

func (w *weighted) add(v, weight float64) {
	w.values = append(w.values, v)
	w.weights = append(w.weights, weight)
}

// avg is the weighted mean clamped to [0,1], or neutral when empty or
// weightless.
func (w weighted) avg() float64 {
	if len(w.values) == 0 {
		return neutral
	}
	var total, sum float64
	for i, v := range w.values {
		total += w.weights[i]
		sum += v * w.weights[i]
	}
	if total <= 0 {
		return neutral
	}
	return clamp(sum/total, 0, 1)
}

// ComputeScores derives the composite scores from the ranked
// recommendations. Recommendations whose scenario is missing from reg are
// ignored.
func ComputeScores(out *Output, reg *scenario.Registry) *Scores {
	enterprise := strings.ToLower(strings.TrimSpace(out.Meta.Tier)) == "enterprise"
	if len(out.Recommendations) == 0 {
		s := &Scores{
			StrategyScore:    to100(neutral),
			TechnicalHealth:  to100(neutral),
			LocalAuthority:   to100(neutral),
			RiskIndex:        to100(neutral),
			OpportunityIndex: to100(neutral),
		}
		if enterprise {
			comp := to100(neutral)
			s.CompetitivePressure = &comp
		}
		return s
	}

	var risk, opportunity, technical, local, competitive weighted
	for _, rec := range out.Recommendations {
		sc, ok := reg.Get(rec.ScenarioID)
		if !ok {
			continue
		}
		impact := clamp(sc.ImpactWeight, 0, 1)
		confidence := clamp(rec.Confidence, 0, 1)
		prio := clamp(rec.PriorityScore, 0, 1)
		severity, ok := impactSeverity[strings.ToLower(rec.ImpactLevel)]
		if !ok {
			severity = impactSeverity[scenario.ImpactMedium]
		}

		weight := impact * confidence
		riskSignal := clamp(prio*severity, 0, 1)
		oppSignal := clamp(prio*confidence*(1-severity/2), 0, 1)

		risk.add(riskSignal, weight)
		opportunity.add(oppSignal, weight)
		switch sc.Category {
		case "technical":
			technical.add(riskSignal, weight)
		case "gbp", "local":
			local.add(riskSignal, weight)
		case "competitive":
			competitive.add(riskSignal, weight)
		}
	}

	riskNorm := risk.avg()
	oppNorm := opportunity.avg()
	techHealth := 1 - technical.avg()
	localAuthority := 1 - local.avg()

	compHealth := neutral
	var compPressure *float64
	if enterprise {
		p := competitive.avg()
		compHealth = 1 - p
		scaled := to100(p)
		compPressure = &scaled
	}

	var composite weighted
	for _, v := range []float64{techHealth, localAuthority, compHealth, 1 - riskNorm, oppNorm} {
		composite.add(v, 1)
	}

	return &Scores{
		StrategyScore:       to100(composite.avg()),
		TechnicalHealth:     to100(techHealth),
		CompetitivePressure: compPressure,
		LocalAuthority:      to100(localAuthority),
		RiskIndex:           to100(riskNorm),
		OpportunityIndex:    to100(oppNorm),
	}
}
