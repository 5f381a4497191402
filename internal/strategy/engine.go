package strategy

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/diagnostics"
	"github.com/sells-group/strategy-cli/internal/priority"
	"github.com/sells-group/strategy-cli/internal/scenario"
	"github.com/sells-group/strategy-cli/internal/signal"
	"github.com/sells-group/strategy-cli/internal/temporal"
)

// Request is the input to a strategy build.
type Request struct {
	CampaignID string         `json:"campaign_id"`
	Window     Window         `json:"window"`
	RawSignals map[string]any `json:"raw_signals"`
	Tier       string         `json:"tier"`
}

// Engine runs the diagnostic pipeline against a scenario registry and a
// threshold bundle.
type Engine struct {
	registry   *scenario.Registry
	thresholds scenario.Thresholds
	series     temporal.SeriesSource
}

// Option configures an Engine.
type Option func(*Engine)

// WithSeriesSource enables the temporal diagnostics over src.
func WithSeriesSource(src temporal.SeriesSource) Option {
	return func(e *Engine) { e.series = src }
}

// NewEngine creates an engine. A nil registry uses the embedded catalog.
func NewEngine(registry *scenario.Registry, thresholds scenario.Thresholds, opts ...Option) *Engine {
	if registry == nil {
		registry = scenario.Default()
	}
	e := &Engine{registry: registry, thresholds: thresholds}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's scenario registry.
func (e *Engine) Registry() *scenario.Registry { return e.registry }

// Thresholds returns the engine's threshold bundle.
func (e *Engine) Thresholds() scenario.Thresholds { return e.thresholds }

// Build produces the strategy for one campaign window. The output depends
// only on the request, the registry and the thresholds.
func (e *Engine) Build(ctx context.Context, req Request) (*Output, error) {
	signals, err := signal.Build(req.RawSignals)
	if err != nil {
		return nil, err
	}
	ref := req.Window.Reference()
	th := e.thresholds

	var results []diagnostics.Result
	results = append(results, diagnostics.CTR(signals, ref, req.Tier, th)...)
	results = append(results, diagnostics.CoreWebVitals(signals, ref, th)...)
	results = append(results, diagnostics.Ranking(signals, ref, th)...)
	results = append(results, diagnostics.GBP(signals, ref, req.Tier, th)...)
	if req.Tier == diagnostics.TierEnterprise {
		results = append(results, diagnostics.Competitor(signals, ref, th)...)
	}
	if e.series != nil {
		temporalResults, err := diagnostics.Temporal(ctx, e.series, diagnostics.TemporalQuery{
			CampaignID: req.CampaignID,
			From:       req.Window.From,
			To:         req.Window.To,
			Window:     ref,
			Tier:       req.Tier,
		}, th)
		if err != nil {
			return nil, eris.Wrap(err, "strategy: temporal diagnostics")
		}
		results = append(results, temporalResults...)
	}

	inputs := make([]priority.Input, 0, len(results))
	byID := make(map[string]diagnostics.Result, len(results))
	for _, r := range results {
		if !e.registry.Active(r.ScenarioID) {
			continue
		}
		sc, _ := e.registry.Get(r.ScenarioID)
		byID[r.ScenarioID] = r
		inputs = append(inputs, priority.Input{
			ScenarioID:      r.ScenarioID,
			ImpactWeight:    sc.ImpactWeight,
			SignalMagnitude: r.SignalMagnitude,
			Confidence:      r.Confidence,
		})
	}

	if err := priority.Validate(inputs); err != nil {
		return nil, eris.Wrap(err, "strategy: rank diagnostics")
	}
	ranked := priority.Rank(inputs)
	out := &Output{
		CampaignID:        req.CampaignID,
		Window:            req.Window,
		DetectedScenarios: make([]string, 0, len(ranked)),
		Recommendations:   make([]Recommendation, 0, len(ranked)),
		Meta: Meta{
			TotalScenariosDetected: len(ranked),
			GeneratedAt:            req.Window.To,
			EngineVersion:          EngineVersion,
			Tier:                   req.Tier,
		},
	}
	for _, item := range ranked {
		sc, _ := e.registry.Get(item.ScenarioID)
		diag := byID[item.ScenarioID]
		out.DetectedScenarios = append(out.DetectedScenarios, item.ScenarioID)
		out.Recommendations = append(out.Recommendations, Recommendation{
			ScenarioID:           sc.ID,
			PriorityScore:        item.PriorityScore,
			Diagnosis:            sc.Diagnosis,
			RootCause:            sc.RootCause,
			RecommendedActions:   sc.RecommendedActions,
			ExpectedOutcome:      sc.ExpectedOutcome,
			AuthoritativeSources: sc.AuthoritativeSources,
			Confidence:           diag.Confidence,
			ImpactLevel:          sc.ImpactLevel,
			Evidence:             diag.Evidence,
		})
	}

	out.StrategicScores = ComputeScores(out, e.registry)
	out.ExecutiveSummary = BuildSummary(out, e.registry)
	return out, nil
}
