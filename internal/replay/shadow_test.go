package replay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/strategy-cli/internal/observability"
)

type gate bool

func (g gate) ShadowReplayAllowed(context.Context) bool { return bool(g) }

func shadowCase() Case {
	return Case{
		CaseID:     "case-1",
		TenantID:   "t1",
		CampaignID: "c1",
		ExpectedOutput: map[string]any{
			"generated_at": "2026-01-01T00:00:00Z",
			"recommendations": []any{
				map[string]any{"scenario_id": "a", "confidence": 0.9},
				map[string]any{"scenario_id": "b", "confidence": 0.7},
			},
		},
	}
}

func fixed(out map[string]any) (Executor, *int32) {
	var calls int32
	return ExecutorFunc(func(context.Context, Case) (map[string]any, error) {
		atomic.AddInt32(&calls, 1)
		return out, nil
	}), &calls
}

func TestShadowRunner_DriftOnEveryAxis(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	metrics := observability.NewMetrics()
	exec, _ := fixed(map[string]any{
		"recommendations": []any{
			map[string]any{"scenario_id": "b", "confidence": 0.7},
			map[string]any{"scenario_id": "a", "confidence": 0.65},
		},
	})
	r, err := NewShadowRunner(ShadowConfig{SampleRatePercent: 100, MaxConcurrency: 2}, gate(true), exec,
		observability.NewZapEmitter(zap.New(core), metrics), metrics)
	require.NoError(t, err)

	events, err := r.Run(context.Background(), shadowCase())
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, DriftHash, events[0].DriftType)
	require.NotNil(t, events[0].Diff)
	assert.Contains(t, *events[0].Diff, "--- expected")
	assert.Equal(t, DriftOrdering, events[1].DriftType)
	assert.Equal(t, []string{"a", "b"}, events[1].Expected)
	assert.Equal(t, DriftConfidenceBand, events[2].DriftType)
	assert.Nil(t, events[2].Diff)

	assert.Equal(t, 3, logs.FilterMessage(observability.EventDrift).Len())
	snap := metrics.Snapshot()
	assert.Equal(t, 1, snap.ReplayRuns)
	assert.Equal(t, 1, snap.ReplayFailures)
	assert.Equal(t, 3, snap.DriftEvents)
}

func TestShadowRunner_IgnoresVolatileFields(t *testing.T) {
	c := shadowCase()
	exec, _ := fixed(map[string]any{
		"generated_at":    "2026-02-02T00:00:00Z",
		"recommendations": c.ExpectedOutput["recommendations"],
	})
	metrics := observability.NewMetrics()
	r, err := NewShadowRunner(ShadowConfig{SampleRatePercent: 100}, gate(true), exec, nil, metrics)
	require.NoError(t, err)

	events, err := r.Run(context.Background(), c)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 0, metrics.Snapshot().ReplayFailures)
}

func TestShadowRunner_SkipsWhenGatedOrUnsampled(t *testing.T) {
	exec, calls := fixed(map[string]any{})

	closed, err := NewShadowRunner(ShadowConfig{SampleRatePercent: 100}, gate(false), exec, nil, nil)
	require.NoError(t, err)
	events, err := closed.Run(context.Background(), shadowCase())
	require.NoError(t, err)
	assert.Nil(t, events)

	// bucket 3490 is above a 34% rate
	unsampled, err := NewShadowRunner(ShadowConfig{SampleRatePercent: 34}, gate(true), exec, nil, nil)
	require.NoError(t, err)
	events, err = unsampled.Run(context.Background(), shadowCase())
	require.NoError(t, err)
	assert.Nil(t, events)

	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestShadowRunner_CancellationAbortsBeforeEmission(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx, cancel := context.WithCancel(context.Background())
	exec := ExecutorFunc(func(context.Context, Case) (map[string]any, error) {
		cancel()
		return map[string]any{}, nil
	})
	r, err := NewShadowRunner(ShadowConfig{SampleRatePercent: 100}, gate(true), exec, observability.NewZapEmitter(zap.New(core), nil), nil)
	require.NoError(t, err)

	events, err := r.Run(ctx, shadowCase())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, events)
	assert.Zero(t, logs.Len())
}

func TestShadowRunner_PropagatesExecutorErrors(t *testing.T) {
	boom := errors.New("executor down")
	exec := ExecutorFunc(func(context.Context, Case) (map[string]any, error) { return nil, boom })
	r, err := NewShadowRunner(ShadowConfig{SampleRatePercent: 100}, gate(true), exec, nil, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), shadowCase())
	assert.ErrorIs(t, err, boom)
}

func TestNewShadowRunner_Validates(t *testing.T) {
	exec, _ := fixed(nil)
	_, err := NewShadowRunner(ShadowConfig{SampleRatePercent: 101}, gate(true), exec, nil, nil)
	assert.Error(t, err)
	_, err = NewShadowRunner(ShadowConfig{}, nil, exec, nil, nil)
	assert.Error(t, err)
}
