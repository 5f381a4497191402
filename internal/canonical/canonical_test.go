package canonical

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantizeFloat_HalfUpOnShortestRepr(t *testing.T) {
	tests := []struct {
		in   float64
		prec int
		want float64
	}{
		{0.1234565, 6, 0.123457},
		{-0.1234565, 6, -0.123457},
		{0.1234564, 6, 0.123456},
		{2.5, 0, 3},
		{-2.5, 0, -3},
		{1.0, 6, 1.0},
		{0.0000004, 6, 0.0},
	}
	for _, tt := range tests {
		got, err := QuantizeFloat(tt.in, tt.prec)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "QuantizeFloat(%v, %d)", tt.in, tt.prec)
	}
}

func TestQuantizeFloat_Errors(t *testing.T) {
	_, err := QuantizeFloat(1.0, -1)
	assert.ErrorIs(t, err, ErrNegativePrecision)

	_, err = Canonicalize(Float(1.0), -1)
	assert.ErrorIs(t, err, ErrNegativePrecision)
}

func TestCanonicalize_KeyOrderIndependent(t *testing.T) {
	a, err := ParseJSON([]byte(`{"b":{"y":1,"x":[3,2,1]},"a":0.30000000000000004}`))
	require.NoError(t, err)
	b, err := ParseJSON([]byte(`{"a":0.3,"b":{"x":[3,2,1],"y":1}}`))
	require.NoError(t, err)

	ha, err := OutputHash(a)
	require.NoError(t, err)
	hb, err := OutputHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	raw, err := ToJSON(a)
	require.NoError(t, err)
	assert.Equal(t, `{"a":0.3,"b":{"x":[3,2,1],"y":1}}`, string(raw))
}

func TestCanonicalize_ListOrderPreserved(t *testing.T) {
	raw, err := ToJSON([]any{"c", "a", "b"})
	require.NoError(t, err)
	assert.Equal(t, `["c","a","b"]`, string(raw))
}

func TestCanonicalize_Times(t *testing.T) {
	loc := time.FixedZone("plus2", 2*60*60)
	ts := time.Date(2026, 3, 1, 10, 30, 15, 999, loc)

	v, err := Normalize(map[string]any{
		"at":  ts,
		"day": Date(ts),
	}, DefaultPrecision)
	require.NoError(t, err)
	assert.Equal(t, `{"at":"2026-03-01T08:30:15Z","day":"2026-03-01"}`, string(Encode(v)))
}

func TestCanonicalize_DecimalAndInts(t *testing.T) {
	raw, err := ToJSON(map[string]any{
		"d": decimal.RequireFromString("1.23456789"),
		"i": 7,
		"f": 7.0,
		"n": nil,
		"t": true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"d":1.234568,"f":7.0,"i":7,"n":null,"t":true}`, string(raw))
}

func TestFrom_RejectsUnsupportedTypes(t *testing.T) {
	type opaque struct{ X int }
	_, err := From(opaque{X: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")

	_, err = From(map[string]any{"nested": []any{opaque{}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested")
}

func TestFromJSON_StructRoundTrip(t *testing.T) {
	type payload struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
		Count int     `json:"count"`
	}
	v, err := FromJSON(payload{Name: "x", Score: 0.5, Count: 3})
	require.NoError(t, err)
	assert.Equal(t, `{"count":3,"name":"x","score":0.5}`, string(Encode(v)))
}

func TestEncode_EscapesNonASCII(t *testing.T) {
	assert.Equal(t, `"caf\u00e9 \"q\" \ud83d\ude00"`, string(Encode(String("café \"q\" 😀"))))
	assert.Equal(t, `"<a&b>"`, string(Encode(String("<a&b>"))))
}

func TestEncode_FloatForms(t *testing.T) {
	assert.Equal(t, "120.0", string(Encode(Float(120))))
	assert.Equal(t, "1e-07", string(Encode(Float(1e-7))))
	assert.Equal(t, "1e+16", string(Encode(Float(1e16))))
	assert.Equal(t, "-0.25", string(Encode(Float(-0.25))))
}

func TestEncodeIndent(t *testing.T) {
	v, err := From(map[string]any{"b": []any{1.5, map[string]any{}}, "a": []any{}})
	require.NoError(t, err)
	want := "{\n  \"a\": [],\n  \"b\": [\n    1.5,\n    {}\n  ]\n}"
	assert.Equal(t, want, string(EncodeIndent(v, "  ")))
}

func TestHashes(t *testing.T) {
	assert.Equal(t, "a52dd81bfd5e4e66d96b9f598382f6cbf8c5c3897654e6ae9055e03620fcf38e", BuildHash("a", "b", "c"))

	h, err := InputHash(map[string]any{"b": []any{1.5, "x"}, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, "253252306831c7a53e616d2fac19ec1f21555d2c739d3366d5fa6399d3cce7be", h)

	v1, err := VersionFingerprint(map[string]string{"engine_version": "x", "registry_version": "y"})
	require.NoError(t, err)
	v2, err := VersionFingerprint(map[string]any{"registry_version": "y", "engine_version": "x"})
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 64)
}

func TestValueAccessors(t *testing.T) {
	v := Map(map[string]Value{"z": Int(1), "a": List(Float(0.5), Null())})
	assert.Equal(t, []string{"a", "z"}, v.Keys())

	a, ok := v.Field("a")
	require.True(t, ok)
	assert.Equal(t, KindList, a.Kind())
	items := a.Items()
	require.Len(t, items, 2)
	n, ok := items[0].Number()
	assert.True(t, ok)
	assert.Equal(t, 0.5, n)
	assert.True(t, items[1].IsNull())

	plain := v.Interface().(map[string]any)
	assert.Equal(t, int64(1), plain["z"])
}
