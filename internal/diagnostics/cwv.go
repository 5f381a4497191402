package diagnostics

import (
	"math"

	"github.com/sells-group/strategy-cli/internal/scenario"
	"github.com/sells-group/strategy-cli/internal/signal"
)

// CoreWebVitals accumulates a weighted severity over every failing vital
// and emits a single result. No failures means no result.
func CoreWebVitals(s *signal.Model, window string, th scenario.Thresholds) []Result {
	checks := []struct {
		name   string
		value  *float64
		limit  float64
		weight float64
		ref    string
	}{
		{"lcp", s.LCP, th.LCPSeconds, th.CWVLCPWeight, "LCP_THRESHOLD_SECONDS"},
		{"cls", s.CLS, th.CLS, th.CWVCLSWeight, "CLS_THRESHOLD"},
		{"inp", s.INP, th.INPMillis, th.CWVINPWeight, "INP_THRESHOLD_MS"},
		{"ttfb", s.TTFB, th.TTFBMillis, th.CWVTTFBWeight, "TTFB_THRESHOLD_MS"},
	}

	var failures []Evidence
	var weighted float64
	for _, c := range checks {
		if c.value == nil || *c.value <= c.limit {
			continue
		}
		weighted += boundedRatio(*c.value, c.limit, th.CWVSeverityCap) * c.weight
		failures = append(failures, ev(c.name, Num(*c.value), c.ref, CmpGT, Num(c.limit), window))
	}
	if len(failures) == 0 {
		return nil
	}

	magnitude := math.Min(weighted/th.CWVSeverityCap, 1)
	confidence := math.Min(th.CWVBaseConf+magnitude*th.CWVConfMultiplier, 1)
	return []Result{{
		ScenarioID:      "core_web_vitals_failure",
		Confidence:      confidence,
		SignalMagnitude: magnitude,
		Evidence:        failures,
	}}
}

func boundedRatio(value, limit, ceiling float64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Min(value/limit, ceiling)
}
