package replay

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/canonical"
)

// Confidence band bounds.
const (
	BandHighMin   = 0.8
	BandMediumMin = 0.6
)

const recommendationsPath = "recommendations"

var volatileKeys = map[string]bool{
	"generated_at": true,
	"request_id":   true,
	"trace_id":     true,
	"created_at":   true,
	"updated_at":   true,
	"detected_at":  true,
}

// StripVolatile removes timestamps and request identifiers at every depth.
func StripVolatile(payload any) any {
	switch t := payload.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			if volatileKeys[k] {
				continue
			}
			out[k] = StripVolatile(v)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = StripVolatile(v)
		}
		return out
	default:
		return payload
	}
}

// CompareHashes compares the canonical output hashes of both payloads.
func CompareHashes(expected, actual any) (match bool, expectedHash, actualHash string, err error) {
	expectedHash, err = canonical.OutputHash(expected)
	if err != nil {
		return false, "", "", eris.Wrap(err, "replay: hash expected")
	}
	actualHash, err = canonical.OutputHash(actual)
	if err != nil {
		return false, "", "", eris.Wrap(err, "replay: hash actual")
	}
	return expectedHash == actualHash, expectedHash, actualHash, nil
}

// CompareOrdering compares the scenario_id sequence of the recommendations.
func CompareOrdering(expected, actual map[string]any) (bool, []string, []string) {
	e, a := ordering(expected), ordering(actual)
	return slices.Equal(e, a), e, a
}

// CompareConfidenceBands compares the banded confidence of each
// recommendation.
func CompareConfidenceBands(expected, actual map[string]any) (bool, []string, []string) {
	e, a := confidenceBands(expected), confidenceBands(actual)
	return slices.Equal(e, a), e, a
}

// DiffPayload renders a unified diff of the indented canonical JSON of both
// payloads. Identical payloads produce an empty string.
func DiffPayload(expected, actual any) (string, error) {
	e, err := indented(expected)
	if err != nil {
		return "", err
	}
	a, err := indented(actual)
	if err != nil {
		return "", err
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(e),
		B:        difflib.SplitLines(a),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  3,
	})
	if err != nil {
		return "", eris.Wrap(err, "replay: unified diff")
	}
	return strings.TrimSuffix(diff, "\n"), nil
}

// Band buckets a confidence value.
func Band(confidence float64) string {
	switch {
	case confidence >= BandHighMin:
		return "high"
	case confidence >= BandMediumMin:
		return "medium"
	default:
		return "low"
	}
}

func indented(payload any) (string, error) {
	v, err := canonical.Normalize(payload, canonical.DefaultPrecision)
	if err != nil {
		return "", eris.Wrap(err, "replay: canonicalize for diff")
	}
	return string(canonical.EncodeIndent(v, "  ")), nil
}

func recommendations(payload map[string]any) []any {
	items, _ := payload[recommendationsPath].([]any)
	return items
}

func ordering(payload map[string]any) []string {
	out := []string{}
	for _, item := range recommendations(payload) {
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := rec["scenario_id"].(string); ok {
			out = append(out, id)
		}
	}
	return out
}

func confidenceBands(payload map[string]any) []string {
	out := []string{}
	for _, item := range recommendations(payload) {
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if c, ok := number(rec["confidence"]); ok {
			out = append(out, Band(c))
		}
	}
	return out
}

// orderingSignature is the per-position fingerprint of the recommendation
// list used by corpus runs.
func orderingSignature(payload map[string]any) []any {
	out := []any{}
	for i, item := range recommendations(payload) {
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		confidence, _ := number(rec["confidence"])
		out = append(out, map[string]any{
			"index":           i,
			"scenario_id":     rec["scenario_id"],
			"priority_score":  rec["priority_score"],
			"impact_level":    rec["impact_level"],
			"confidence_band": Band(confidence),
		})
	}
	return out
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
