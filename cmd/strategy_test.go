package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/strategy-cli/internal/canonical"
	"github.com/sells-group/strategy-cli/internal/store"
	"github.com/sells-group/strategy-cli/internal/strategy"
)

const lowCTRInput = `{
	"campaign_id": "camp-1",
	"window": {"date_from": "2026-01-01", "date_to": "2026-01-31"},
	"raw_signals": {"impressions": 5000, "avg_position": 4, "ctr": 0.01},
	"tier": "pro"
}`

func lowCTRRequest() strategy.Request {
	return strategy.Request{
		CampaignID: "camp-1",
		Window: strategy.Window{
			From: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		},
		RawSignals: map[string]any{"impressions": 5000, "avg_position": 4, "ctr": 0.01},
		Tier:       "pro",
	}
}

func TestStrategyBuild_Command(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "input.json", lowCTRInput)

	out, err := execute(t, dir, "strategy", "build", "--input", input, "--persist=false")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Contains(t, doc, "output")
	assert.Len(t, doc["output_hash"], 64)

	output := doc["output"].(map[string]any)
	assert.Equal(t, []any{"high_visibility_low_ctr"}, output["detected_scenarios"])
}

func TestStrategyBuild_RejectsUnknownSignals(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "input.json", `{
		"campaign_id": "camp-1",
		"window": {"date_from": "2026-01-01", "date_to": "2026-01-31"},
		"raw_signals": {"not_a_signal": 1},
		"tier": "pro"
	}`)

	_, err := execute(t, dir, "strategy", "build", "--input", input, "--persist=false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy build")
}

func TestRunStrategyBuild_Deterministic(t *testing.T) {
	ctx := context.Background()
	a, err := runStrategyBuild(ctx, nil, nil, lowCTRRequest(), "", false)
	require.NoError(t, err)
	b, err := runStrategyBuild(ctx, nil, nil, lowCTRRequest(), "", false)
	require.NoError(t, err)
	assert.Equal(t, canonical.Encode(a), canonical.Encode(b))
}

func TestRunStrategyBuild_PersistNeedsStore(t *testing.T) {
	_, err := runStrategyBuild(context.Background(), nil, nil, lowCTRRequest(), "t1", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need a store")
}

func TestRunStrategyBuild_PersistIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "strategy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	first, err := runStrategyBuild(ctx, st, st, lowCTRRequest(), "tenant-a", true)
	require.NoError(t, err)
	second, err := runStrategyBuild(ctx, st, st, lowCTRRequest(), "tenant-a", true)
	require.NoError(t, err)
	assert.Equal(t, canonical.Encode(first), canonical.Encode(second))

	exec, err := st.GetExecutionByKey(ctx, "tenant-a", strategy.OperationStrategyBuild, strategy.IdempotencyKey(lowCTRRequest()))
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.NotEmpty(t, exec.OutputPayload)
}

func TestStrategySimulate_Command(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "sim.json", `{
		"baseline": {"avg_rank_position": 8, "organic_traffic": 1000, "conversions": 20},
		"delta": {"rank_shift": -2, "traffic_delta_rate": 0.1, "conversion_delta_rate": 0.05},
		"confidence_range": {"low": 0.6, "high": 0.9}
	}`)

	out, err := execute(t, dir, "strategy", "simulate", "--input", input)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "delta-simulator-v1", doc["simulator_version"])
	assert.Contains(t, doc, "confidence_adjusted_range")
}
