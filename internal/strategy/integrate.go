package strategy

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/canonical"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/temporal"
)

const (
	momentumMetricName   = "rank_avg_position_momentum"
	minIntegrationPoints = 3
)

// TemporalStore is the persistence the integrator needs.
type TemporalStore interface {
	temporal.SeriesSource
	UpsertMomentumMetric(ctx context.Context, m *model.MomentumMetric) error
	LatestPhase(ctx context.Context, campaignID string) (*model.PhaseHistory, error)
	AppendPhase(ctx context.Context, h *model.PhaseHistory) error
}

// Integrator folds rank momentum into a built strategy and records the
// resulting momentum metric and phase.
type Integrator struct {
	store TemporalStore
}

// NewIntegrator creates an Integrator backed by store.
func NewIntegrator(store TemporalStore) *Integrator {
	return &Integrator{store: store}
}

// Integrate reads the average-position series for the profile window, adjusts
// the strategy score, upserts the momentum metric, appends phase history on a
// phase change and attaches the temporal state to out. It returns nil when
// fewer than three points are available.
func (i *Integrator) Integrate(ctx context.Context, out *Output, profile temporal.Profile) (*TemporalState, error) {
	w := out.Window
	from := w.To.AddDate(0, 0, -profile.TrendWindowDays)
	if w.From.After(from) {
		from = w.From
	}
	points, err := i.store.Series(ctx, temporal.SeriesQuery{
		CampaignID: out.CampaignID,
		SignalType: temporal.SignalRank,
		Metric:     "avg_position",
		From:       from,
		To:         w.To,
	})
	if err != nil {
		return nil, eris.Wrap(err, "strategy: load rank series")
	}
	if len(points) < minIntegrationPoints {
		return nil, nil
	}
	values, timestamps := temporal.Split(points)

	slope, err := temporal.Slope(values, timestamps)
	if err != nil {
		return nil, err
	}
	accel, err := temporal.Acceleration(values, timestamps)
	if err != nil {
		return nil, err
	}
	strength := temporal.TrendStrength(values)
	vol := temporal.Volatility(values)

	// Lower average position is better, so a falling series is positive momentum.
	momentum := clamp(-slope*strength, -1, 1)
	penalty := clamp(vol*profile.VolatilityPenaltyWeight, 0, 1)

	if out.StrategicScores != nil {
		direction := 1.0
		if slope > 0 {
			direction = -1.0
		}
		base := out.StrategicScores.StrategyScore / 100
		adjusted := clamp(base+profile.MomentumWeight*strength*direction-penalty, 0, 1)
		out.StrategicScores.StrategyScore = round4(adjusted * 100)
	}

	profileHash, err := profile.VersionHash()
	if err != nil {
		return nil, err
	}
	material := strings.Join([]string{
		out.CampaignID,
		isoformat(w.From),
		isoformat(w.To),
		momentumMetricName,
		canonical.FormatFloat(slope),
		canonical.FormatFloat(accel),
		canonical.FormatFloat(vol),
		profileHash,
	}, "|")

	if err := i.store.UpsertMomentumMetric(ctx, &model.MomentumMetric{
		CampaignID:        out.CampaignID,
		MetricName:        momentumMetricName,
		Slope:             slope,
		Acceleration:      accel,
		Volatility:        vol,
		WindowDays:        profile.TrendWindowDays,
		ComputedAt:        w.To,
		DeterministicHash: canonical.SHA256Hex([]byte(material)),
		ProfileVersion:    profileHash,
	}); err != nil {
		return nil, eris.Wrap(err, "strategy: upsert momentum metric")
	}

	phase, reason := phaseForMomentum(momentum, slope, vol)
	latest, err := i.store.LatestPhase(ctx, out.CampaignID)
	if err != nil {
		return nil, eris.Wrap(err, "strategy: load latest phase")
	}
	if latest == nil || latest.NewPhase != phase {
		prior := "none"
		if latest != nil {
			prior = latest.NewPhase
		}
		if err := i.store.AppendPhase(ctx, &model.PhaseHistory{
			CampaignID:    out.CampaignID,
			PriorPhase:    prior,
			NewPhase:      phase,
			TriggerReason: reason,
			MomentumScore: momentum,
			EffectiveDate: w.To,
			VersionHash:   profileHash,
		}); err != nil {
			return nil, eris.Wrap(err, "strategy: append phase history")
		}
		zap.L().Info("strategy phase changed",
			zap.String("campaign_id", out.CampaignID),
			zap.String("prior_phase", prior),
			zap.String("new_phase", phase),
			zap.String("reason", reason),
		)
	}

	state := &TemporalState{
		CurrentPhase:       phase,
		MomentumScore:      temporal.Round(momentum),
		TrendDirection:     trendDirection(slope),
		VolatilityLevel:    volatilityLevel(vol),
		ProfileVersionHash: profileHash,
		ComputedAt:         w.To,
	}
	out.Meta.Temporal = state
	return state, nil
}

func phaseForMomentum(momentum, slope, vol float64) (string, string) {
	switch {
	case momentum <= -0.2 || slope > 0.08:
		return "recovery", "negative momentum or steep decline slope"
	case vol >= 0.8:
		return "stabilization", "volatility ceiling exceeded"
	case momentum <= 0.1:
		return "stabilization", "momentum below growth threshold"
	case momentum <= 0.3:
		return "growth", "momentum in growth band"
	case momentum <= 0.5:
		return "acceleration", "momentum in acceleration band"
	default:
		return "dominance", "sustained high momentum"
	}
}

func trendDirection(slope float64) string {
	switch {
	case slope < -0.01:
		return "improving"
	case slope > 0.01:
		return "declining"
	default:
		return "flat"
	}
}

func volatilityLevel(vol float64) string {
	switch {
	case vol >= 0.8:
		return "high"
	case vol >= 0.3:
		return "medium"
	default:
		return "low"
	}
}
