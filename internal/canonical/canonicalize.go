package canonical

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of decimal places floats are quantized to.
const DefaultPrecision = 6

const (
	timeLayout = "2006-01-02T15:04:05Z"
	dateLayout = "2006-01-02"
)

// ErrNegativePrecision is returned when a negative precision is requested.
var ErrNegativePrecision = eris.New("canonical: precision must be non-negative")

// QuantizeFloat rounds v half-up (ties away from zero) to precision decimal
// places. Rounding operates on the shortest decimal representation of v, so
// 0.1234565 rounds to 0.123457 even though its binary value is slightly
// below the tie.
func QuantizeFloat(v float64, precision int) (float64, error) {
	if precision < 0 {
		return 0, ErrNegativePrecision
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.Errorf("canonical: cannot quantize non-finite float %v", v)
	}
	q := decimal.NewFromFloat(v).Round(int32(precision))
	f, _ := q.Float64()
	return f, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Canonicalize returns a copy of v with floats and decimals quantized to
// precision, times rendered as UTC strings and dates as ISO dates. List
// order is preserved. Map keys are emitted in sorted order by the encoder.
func Canonicalize(v Value, precision int) (Value, error) {
	if precision < 0 {
		return Value{}, ErrNegativePrecision
	}
	return canonicalize(v, precision)
}

func canonicalize(v Value, precision int) (Value, error) {
	switch v.kind {
	case KindNull, KindBool, KindInt, KindString:
		return v, nil
	case KindFloat:
		f, err := QuantizeFloat(v.f, precision)
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case KindDecimal:
		f, err := QuantizeFloat(v.d.InexactFloat64(), precision)
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case KindTime:
		return String(formatTime(v.t)), nil
	case KindDate:
		return String(v.t.Format(dateLayout)), nil
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			cv, err := canonicalize(item, precision)
			if err != nil {
				return Value{}, err
			}
			items[i] = cv
		}
		return Value{kind: KindList, list: items}, nil
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			cv, err := canonicalize(item, precision)
			if err != nil {
				return Value{}, err
			}
			m[k] = cv
		}
		return Value{kind: KindMap, m: m}, nil
	default:
		return Value{}, eris.Errorf("canonical: unknown kind %d", v.kind)
	}
}

// Normalize converts x with From and canonicalizes it at precision.
func Normalize(x any, precision int) (Value, error) {
	v, err := From(x)
	if err != nil {
		return Value{}, err
	}
	return Canonicalize(v, precision)
}
