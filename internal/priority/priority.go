// Package priority scores diagnostic results and orders them into a
// deterministic total order.
package priority

import (
	"errors"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

var validate = validator.New()

// Input is one candidate for ranking. Weight, magnitude and confidence are
// fractions in [0,1].
type Input struct {
	ScenarioID      string  `validate:"required"`
	ImpactWeight    float64 `validate:"gte=0,lte=1"`
	SignalMagnitude float64 `validate:"gte=0,lte=1"`
	Confidence      float64 `validate:"gte=0,lte=1"`
}

// Validate checks that in is a rankable candidate.
func (in Input) Validate() error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return eris.Errorf("priority: %s %s must satisfy %s=%s, got %v",
				in.ScenarioID, f.Field(), f.Tag(), f.Param(), f.Value())
		}
		return eris.Wrap(err, "priority: validate input")
	}
	return nil
}

// Validate checks every input and reports the first violation.
func Validate(inputs []Input) error {
	for _, in := range inputs {
		if err := in.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Ranked is a scored candidate.
type Ranked struct {
	ScenarioID    string
	PriorityScore float64
	ImpactWeight  float64
}

// Score is impact weight times signal magnitude times confidence.
func Score(impactWeight, signalMagnitude, confidence float64) float64 {
	return impactWeight * signalMagnitude * confidence
}

// Rank orders inputs by descending score, then descending impact weight,
// then ascending scenario id. Callers validate inputs first; Rank itself
// does not reject out-of-range values.
func Rank(inputs []Input) []Ranked {
	out := make([]Ranked, len(inputs))
	for i, in := range inputs {
		out[i] = Ranked{
			ScenarioID:    in.ScenarioID,
			PriorityScore: Score(in.ImpactWeight, in.SignalMagnitude, in.Confidence),
			ImpactWeight:  in.ImpactWeight,
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if a.ImpactWeight != b.ImpactWeight {
			return a.ImpactWeight > b.ImpactWeight
		}
		return a.ScenarioID < b.ScenarioID
	})
	return out
}
