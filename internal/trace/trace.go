// Package trace assembles the auditable record behind an automation
// decision.
package trace

import (
	"github.com/sells-group/strategy-cli/internal/canonical"
)

// Precision is the number of decimal places every float in a trace is
// rounded to.
const Precision = 6

// Input is the raw material of a decision trace.
type Input struct {
	RuleEvaluations       []map[string]any
	ThresholdValues       map[string]any
	MomentumInputs        map[string]any
	VolatilityInputs      map[string]any
	AllocationWeights     map[string]any
	ConfidenceAdjustments []map[string]any
}

// Build canonicalizes the trace: floats rounded to Precision, map keys
// sorted recursively.
func Build(in Input) (canonical.Value, error) {
	return canonical.Normalize(map[string]any{
		"rule_evaluations":       orEmptyList(in.RuleEvaluations),
		"threshold_values":       orEmptyMap(in.ThresholdValues),
		"momentum_inputs":        orEmptyMap(in.MomentumInputs),
		"volatility_inputs":      orEmptyMap(in.VolatilityInputs),
		"allocation_weights":     orEmptyMap(in.AllocationWeights),
		"confidence_adjustments": orEmptyList(in.ConfidenceAdjustments),
	}, Precision)
}

func orEmptyList(l []map[string]any) []map[string]any {
	if l == nil {
		return []map[string]any{}
	}
	return l
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Serialize returns the compact sorted-key JSON of payload after
// canonicalization.
func Serialize(payload any) ([]byte, error) {
	v, err := canonical.Normalize(payload, Precision)
	if err != nil {
		return nil, err
	}
	return canonical.Encode(v), nil
}

// Hash is the hex SHA-256 of Serialize(payload).
func Hash(payload any) (string, error) {
	raw, err := Serialize(payload)
	if err != nil {
		return "", err
	}
	return canonical.SHA256Hex(raw), nil
}
