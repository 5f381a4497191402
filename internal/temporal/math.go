// Package temporal provides the time-series statistics behind momentum,
// phase and trajectory decisions. Every function is pure: identical input,
// including input order, yields identical output.
package temporal

import (
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

const (
	// Precision is the number of decimal places all outputs are rounded to.
	Precision = 6
	// Version identifies the statistics implementation.
	Version = "temporal-math-v1"

	epsilon    = 1e-12
	secondsDay = 86400.0
)

// ErrLengthMismatch is returned when values and timestamps differ in length.
var ErrLengthMismatch = eris.New("temporal: values and timestamps must have identical lengths")

// Round rounds v to Precision decimal places.
func Round(v float64) float64 {
	p := math.Pow10(Precision)
	return math.Round(v*p) / p
}

func isZero(v float64) bool {
	return math.Abs(v) <= epsilon
}

type sample struct {
	at    time.Time
	idx   int
	value float64
}

// sortPairs orders the samples by (timestamp, original index).
func sortPairs(values []float64, timestamps []time.Time) ([]float64, []time.Time, error) {
	if len(values) != len(timestamps) {
		return nil, nil, ErrLengthMismatch
	}
	samples := make([]sample, len(values))
	for i := range values {
		samples[i] = sample{at: timestamps[i], idx: i, value: values[i]}
	}
	sort.SliceStable(samples, func(i, j int) bool {
		if !samples[i].at.Equal(samples[j].at) {
			return samples[i].at.Before(samples[j].at)
		}
		return samples[i].idx < samples[j].idx
	})
	outV := make([]float64, len(samples))
	outT := make([]time.Time, len(samples))
	for i, s := range samples {
		outV[i] = s.value
		outT[i] = s.at
	}
	return outV, outT, nil
}

// timeAxisDays converts ordered timestamps to elapsed days since the first.
// When every offset is zero the positional index is used instead.
func timeAxisDays(timestamps []time.Time) []float64 {
	if len(timestamps) == 0 {
		return nil
	}
	start := timestamps[0]
	axis := make([]float64, len(timestamps))
	allZero := true
	for i, ts := range timestamps {
		axis[i] = ts.Sub(start).Seconds() / secondsDay
		if !isZero(axis[i]) {
			allZero = false
		}
	}
	if allZero {
		for i := range axis {
			axis[i] = float64(i)
		}
	}
	return axis
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// linearSlope is the ordinary least-squares slope of values against axis.
func linearSlope(values, axis []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mx := mean(axis)
	my := mean(values)
	var numer, denom float64
	for i := range values {
		dx := axis[i] - mx
		denom += dx * dx
		numer += dx * (values[i] - my)
	}
	if isZero(denom) {
		return 0
	}
	return numer / denom
}

func indexAxis(n int) []float64 {
	axis := make([]float64, n)
	for i := range axis {
		axis[i] = float64(i)
	}
	return axis
}

// Slope is the least-squares slope of value per elapsed day.
func Slope(values []float64, timestamps []time.Time) (float64, error) {
	v, ts, err := sortPairs(values, timestamps)
	if err != nil {
		return 0, err
	}
	if len(v) < 2 {
		return 0, nil
	}
	return Round(linearSlope(v, timeAxisDays(ts))), nil
}

// Acceleration is the least-squares slope of the segment-to-segment slopes,
// each placed at its segment midpoint. Zero-duration segments are skipped.
func Acceleration(values []float64, timestamps []time.Time) (float64, error) {
	v, ts, err := sortPairs(values, timestamps)
	if err != nil {
		return 0, err
	}
	if len(v) < 3 {
		return 0, nil
	}
	axis := timeAxisDays(ts)
	var slopes, mid []float64
	for i := 1; i < len(v); i++ {
		dt := axis[i] - axis[i-1]
		if isZero(dt) {
			continue
		}
		slopes = append(slopes, (v[i]-v[i-1])/dt)
		mid = append(mid, (axis[i]+axis[i-1])/2)
	}
	if len(slopes) < 2 {
		return 0, nil
	}
	return Round(linearSlope(slopes, mid)), nil
}

// Volatility is the population standard deviation of values.
func Volatility(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var variance float64
	for _, x := range values {
		variance += (x - m) * (x - m)
	}
	variance /= float64(len(values))
	return Round(math.Sqrt(variance))
}

// DecayHalfLife solves for the half-life, in samples, of an exponential
// decay from the first to the last value. Series that do not decay yield 0.
func DecayHalfLife(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	start, end := values[0], values[len(values)-1]
	if start <= 0 || end <= 0 || end >= start {
		return 0
	}
	ratio := end / start
	if isZero(ratio-1) || ratio <= 0 {
		return 0
	}
	halfLife := float64(len(values)-1) * math.Log(0.5) / math.Log(ratio)
	return Round(math.Max(halfLife, 0))
}

// TrendStrength is the absolute index slope normalized by volatility and
// capped at 1. A flat-volatility series is 1 when it moves at all.
func TrendStrength(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	slope := math.Abs(linearSlope(values, indexAxis(len(values))))
	vol := Volatility(values)
	if isZero(vol) {
		if slope > 0 {
			return 1
		}
		return 0
	}
	return Round(math.Min(1, slope/(vol+1e-9)))
}
