// Package diagnostics inspects a signal model and emits diagnostic results
// for the scenarios whose trigger conditions hold.
package diagnostics

import (
	"github.com/sells-group/strategy-cli/internal/canonical"
)

// Comparators used in evidence.
const (
	CmpLT           = "<"
	CmpLTE          = "<="
	CmpGT           = ">"
	CmpGTE          = ">="
	CmpBetween      = "between"
	CmpDiff         = "-"
	CmpClassifiedAs = "classified_as"
)

// TierEnterprise gates competitor comparisons. The match is exact.
const TierEnterprise = "enterprise"

type readingKind uint8

const (
	readingNone readingKind = iota
	readingNum
	readingFlag
)

// Reading is a nullable number-or-bool signal value.
type Reading struct {
	kind readingKind
	num  float64
	flag bool
}

// Num wraps a numeric reading.
func Num(f float64) Reading { return Reading{kind: readingNum, num: f} }

// Flag wraps a boolean reading.
func Flag(b bool) Reading { return Reading{kind: readingFlag, flag: b} }

// None is the absent reading.
func None() Reading { return Reading{} }

// Float returns the numeric value and whether the reading is numeric.
func (r Reading) Float() (float64, bool) { return r.num, r.kind == readingNum }

// IsNone reports whether the reading is absent.
func (r Reading) IsNone() bool { return r.kind == readingNone }

// CanonicalValue implements canonical.Valuer.
func (r Reading) CanonicalValue() (canonical.Value, error) {
	switch r.kind {
	case readingNum:
		return canonical.Float(r.num), nil
	case readingFlag:
		return canonical.Bool(r.flag), nil
	default:
		return canonical.Null(), nil
	}
}

// MarshalJSON encodes the reading as a JSON number, bool or null.
func (r Reading) MarshalJSON() ([]byte, error) {
	v, _ := r.CanonicalValue()
	return canonical.Encode(v), nil
}

// Evidence is one signal-versus-threshold comparison. ThresholdReference
// names the threshold rather than repeating its value.
type Evidence struct {
	SignalName         string  `json:"signal_name"`
	SignalValue        Reading `json:"signal_value"`
	ThresholdReference string  `json:"threshold_reference"`
	Comparator         string  `json:"comparator"`
	ComparativeValue   Reading `json:"comparative_value"`
	WindowReference    string  `json:"window_reference"`
}

// CanonicalValue implements canonical.Valuer.
func (e Evidence) CanonicalValue() (canonical.Value, error) {
	sv, _ := e.SignalValue.CanonicalValue()
	cv, _ := e.ComparativeValue.CanonicalValue()
	return canonical.Map(map[string]canonical.Value{
		"signal_name":         canonical.String(e.SignalName),
		"signal_value":        sv,
		"threshold_reference": canonical.String(e.ThresholdReference),
		"comparator":          canonical.String(e.Comparator),
		"comparative_value":   cv,
		"window_reference":    canonical.String(e.WindowReference),
	}), nil
}

// Result is the output of one diagnostic trigger.
type Result struct {
	ScenarioID      string     `json:"scenario_id"`
	Confidence      float64    `json:"confidence"`
	SignalMagnitude float64    `json:"signal_magnitude"`
	Evidence        []Evidence `json:"evidence"`
}

// EvidenceList converts evidence to a canonical list.
func EvidenceList(evidence []Evidence) canonical.Value {
	items := make([]canonical.Value, len(evidence))
	for i, e := range evidence {
		items[i], _ = e.CanonicalValue()
	}
	return canonical.List(items...)
}

func ev(name string, value Reading, ref, cmp string, comparative Reading, window string) Evidence {
	return Evidence{
		SignalName:         name,
		SignalValue:        value,
		ThresholdReference: ref,
		Comparator:         cmp,
		ComparativeValue:   comparative,
		WindowReference:    window,
	}
}
