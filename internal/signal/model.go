// Package signal normalizes raw campaign signals into the fixed schema the
// diagnostic modules consume.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

// SchemaVersion identifies the signal schema for replay version tuples.
const SchemaVersion = "signal-schema-v1"

// Model is the canonical signal record. Nil means the signal is absent.
type Model struct {
	Clicks               *float64 `json:"clicks" validate:"omitempty,gte=0"`
	Impressions          *float64 `json:"impressions" validate:"omitempty,gte=0"`
	CTR                  *float64 `json:"ctr" validate:"omitempty,gte=0,lte=1"`
	AvgPosition          *float64 `json:"avg_position" validate:"omitempty,gte=0"`
	PositionDelta        *float64 `json:"position_delta"`
	TrafficGrowthPercent *float64 `json:"traffic_growth_percent"`
	Sessions             *float64 `json:"sessions" validate:"omitempty,gte=0"`
	Conversions          *float64 `json:"conversions" validate:"omitempty,gte=0"`

	ProfileViews       *float64 `json:"profile_views" validate:"omitempty,gte=0"`
	DirectionRequests  *float64 `json:"direction_requests" validate:"omitempty,gte=0"`
	PhoneCalls         *float64 `json:"phone_calls" validate:"omitempty,gte=0"`
	PhotoViews         *float64 `json:"photo_views" validate:"omitempty,gte=0"`
	ReviewCount        *float64 `json:"review_count" validate:"omitempty,gte=0"`
	ReviewVelocity     *float64 `json:"review_velocity" validate:"omitempty,gte=0"`
	AvgRating          *float64 `json:"avg_rating" validate:"omitempty,gte=0,lte=5"`
	ReviewResponseRate *float64 `json:"review_response_rate" validate:"omitempty,gte=0,lte=1"`

	LCP  *float64 `json:"lcp" validate:"omitempty,gte=0"`
	CLS  *float64 `json:"cls" validate:"omitempty,gte=0"`
	INP  *float64 `json:"inp" validate:"omitempty,gte=0"`
	TTFB *float64 `json:"ttfb" validate:"omitempty,gte=0"`

	IndexCoverageErrors   *float64 `json:"index_coverage_errors" validate:"omitempty,gte=0"`
	CrawlErrors           *float64 `json:"crawl_errors" validate:"omitempty,gte=0"`
	MobileUsabilityErrors *float64 `json:"mobile_usability_errors" validate:"omitempty,gte=0"`
	StructuredDataPresent *bool    `json:"structured_data_present"`
	DuplicateTitleFlag    *bool    `json:"duplicate_title_flag"`
	CannibalizationFlag   *bool    `json:"cannibalization_flag"`

	CompetitorAvgPosition    *float64 `json:"competitor_avg_position" validate:"omitempty,gte=0"`
	CompetitorCTREstimate    *float64 `json:"competitor_ctr_estimate" validate:"omitempty,gte=0,lte=1"`
	CompetitorLCP            *float64 `json:"competitor_lcp" validate:"omitempty,gte=0"`
	CompetitorWordCount      *float64 `json:"competitor_word_count" validate:"omitempty,gte=0"`
	CompetitorSchemaPresence *bool    `json:"competitor_schema_presence"`
	CompetitorReviewCount    *float64 `json:"competitor_review_count" validate:"omitempty,gte=0"`
	CompetitorRating         *float64 `json:"competitor_rating" validate:"omitempty,gte=0,lte=5"`
}

// Aliases maps provider-specific field names onto canonical names.
var Aliases = map[string]string{
	"gbp_total_views":           "profile_views",
	"gbp_direction_requests":    "direction_requests",
	"gbp_calls":                 "phone_calls",
	"gbp_photo_views":           "photo_views",
	"total_reviews":             "review_count",
	"review_velocity_90d":       "review_velocity",
	"average_rating":            "avg_rating",
	"competitor_average_rating": "competitor_rating",
	"LCP":                       "lcp",
	"CLS":                       "cls",
	"INP":                       "inp",
	"TTFB":                      "ttfb",
}

type fieldInfo struct {
	index  int
	isBool bool
}

var (
	fields   map[string]fieldInfo
	validate *validator.Validate
)

func init() {
	fields = make(map[string]fieldInfo)
	rt := reflect.TypeOf(Model{})
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		fields[jsonName(f)] = fieldInfo{index: i, isBool: f.Type.Elem().Kind() == reflect.Bool}
	}
	validate = validator.New()
	validate.RegisterTagNameFunc(jsonName)
}

func jsonName(f reflect.StructField) string {
	return strings.Split(f.Tag.Get("json"), ",")[0]
}

// Fields returns the sorted canonical field names.
func Fields() []string {
	out := make([]string, 0, len(fields))
	for name := range fields {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Normalize applies the alias table and rejects unknown field names. Two raw
// keys that resolve to the same canonical field are a conflict rather than a
// silent overwrite. The returned map is keyed by canonical name.
func Normalize(raw map[string]any) (map[string]any, error) {
	normalized := make(map[string]any, len(raw))
	sources := make(map[string][]string, len(raw))
	var unknown []string
	for key, value := range raw {
		name := key
		if alias, ok := Aliases[key]; ok {
			name = alias
		}
		if _, ok := fields[name]; !ok {
			unknown = append(unknown, key)
			continue
		}
		sources[name] = append(sources[name], key)
		normalized[name] = value
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, eris.Errorf("signal: unknown signal fields: [%s]", strings.Join(unknown, " "))
	}

	var conflicting []string
	for _, keys := range sources {
		if len(keys) > 1 {
			conflicting = append(conflicting, keys...)
		}
	}
	if len(conflicting) > 0 {
		sort.Strings(conflicting)
		return nil, eris.Errorf("signal: conflicting signal fields: [%s]", strings.Join(conflicting, " "))
	}
	return normalized, nil
}

// Build normalizes raw and validates every field against its type and
// bounds. Any violation prevents a model from being produced.
func Build(raw map[string]any) (*Model, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	m := &Model{}
	rv := reflect.ValueOf(m).Elem()
	names := make([]string, 0, len(normalized))
	for name := range normalized {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := normalized[name]
		if value == nil {
			continue
		}
		info := fields[name]
		target := rv.Field(info.index)
		if info.isBool {
			b, ok := value.(bool)
			if !ok {
				return nil, eris.Errorf("signal: field %s must be a boolean, got %T", name, value)
			}
			target.Set(reflect.ValueOf(&b))
			continue
		}
		f, err := toFloat(value)
		if err != nil {
			return nil, eris.Wrapf(err, "signal: field %s", name)
		}
		target.Set(reflect.ValueOf(&f))
	}
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			}
			return nil, eris.Errorf("signal: invalid signal values: %s", strings.Join(msgs, "; "))
		}
		return nil, eris.Wrap(err, "signal: validate")
	}
	return m, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, eris.Wrapf(err, "not a number: %q", n.String())
		}
		return f, nil
	default:
		return 0, eris.Errorf("must be a number, got %T", v)
	}
}

// CompetitorSignalCount counts the competitor signals that are present.
func (m *Model) CompetitorSignalCount() int {
	n := 0
	for _, present := range []bool{
		m.CompetitorAvgPosition != nil,
		m.CompetitorCTREstimate != nil,
		m.CompetitorLCP != nil,
		m.CompetitorWordCount != nil,
		m.CompetitorSchemaPresence != nil,
		m.CompetitorReviewCount != nil,
		m.CompetitorRating != nil,
	} {
		if present {
			n++
		}
	}
	return n
}
