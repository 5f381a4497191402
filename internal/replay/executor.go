package replay

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/strategy"
)

// StrategyBuilder builds a strategy for one request.
type StrategyBuilder interface {
	Build(ctx context.Context, req strategy.Request) (*strategy.Output, error)
}

// EngineExecutor replays cases through the strategy engine. The case input
// carries window, raw_signals and tier; the campaign comes from the case.
type EngineExecutor struct {
	Builder StrategyBuilder
}

// Execute implements Executor.
func (e EngineExecutor) Execute(ctx context.Context, c Case) (map[string]any, error) {
	req, err := requestFor(c)
	if err != nil {
		return nil, err
	}
	out, err := e.Builder.Build(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "replay: build case %s", c.CaseID)
	}
	v, err := out.CanonicalValue()
	if err != nil {
		return nil, eris.Wrapf(err, "replay: canonical output for %s", c.CaseID)
	}
	payload, ok := v.Interface().(map[string]any)
	if !ok {
		return nil, eris.Errorf("replay: output for %s is not an object", c.CaseID)
	}
	return payload, nil
}

func requestFor(c Case) (strategy.Request, error) {
	raw, err := json.Marshal(c.InputPayload)
	if err != nil {
		return strategy.Request{}, eris.Wrapf(err, "replay: encode input for %s", c.CaseID)
	}
	var req strategy.Request
	if err := decodeJSON(raw, &req); err != nil {
		return strategy.Request{}, eris.Wrapf(err, "replay: decode input for %s", c.CaseID)
	}
	req.CampaignID = c.CampaignID
	if req.Tier == "" {
		req.Tier = "pro"
	}
	if req.RawSignals == nil {
		req.RawSignals = map[string]any{}
	}
	return req, nil
}
