package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/strategy-cli/internal/canonical"
)

func TestSerialize_KeyOrderIndependent(t *testing.T) {
	a, err := Serialize(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	b, err := Serialize(map[string]any{"a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(a))
	assert.Equal(t, a, b)

	ha, err := Hash(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	hb, err := Hash(map[string]any{"a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)
}

func TestHash_FloatRepresentationIndependent(t *testing.T) {
	h1, err := Hash(map[string]any{"momentum": 0.1234561})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"momentum": 0.12345649})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestBuild(t *testing.T) {
	v, err := Build(Input{
		RuleEvaluations:   []map[string]any{{"rule": "sustained_positive_slope", "source": "phase_decision", "triggered": true}},
		ThresholdValues:   map[string]any{"freeze_volatility": 0.9},
		MomentumInputs:    map[string]any{"slope": -0.33333333333, "momentum_score": 0.25},
		AllocationWeights: map[string]any{"rec-1": 1.0},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"allocation_weights", "confidence_adjustments", "momentum_inputs",
		"rule_evaluations", "threshold_values", "volatility_inputs",
	}, v.Keys())

	momentum, ok := v.Field("momentum_inputs")
	require.True(t, ok)
	slope, ok := momentum.Field("slope")
	require.True(t, ok)
	assert.Equal(t, -0.333333, slope.FloatValue())

	assert.Equal(t,
		`{"allocation_weights":{"rec-1":1.0},"confidence_adjustments":[],"momentum_inputs":{"momentum_score":0.25,"slope":-0.333333},`+
			`"rule_evaluations":[{"rule":"sustained_positive_slope","source":"phase_decision","triggered":true}],`+
			`"threshold_values":{"freeze_volatility":0.9},"volatility_inputs":{}}`,
		string(canonical.Encode(v)))
}
