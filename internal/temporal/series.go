package temporal

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// SignalType groups temporal snapshots by their origin.
type SignalType string

// Known signal types.
const (
	SignalRank       SignalType = "rank"
	SignalReview     SignalType = "review"
	SignalCompetitor SignalType = "competitor"
	SignalContent    SignalType = "content"
	SignalAuthority  SignalType = "authority"
	SignalTraffic    SignalType = "traffic"
	SignalConversion SignalType = "conversion"
	SignalCustom     SignalType = "custom"
)

// Valid reports whether t is a known signal type.
func (t SignalType) Valid() bool {
	switch t {
	case SignalRank, SignalReview, SignalCompetitor, SignalContent,
		SignalAuthority, SignalTraffic, SignalConversion, SignalCustom:
		return true
	}
	return false
}

// Point is one observation of a metric.
type Point struct {
	Value      float64   `yaml:"value" json:"value"`
	ObservedAt time.Time `yaml:"observed_at" json:"observed_at"`
}

// SeriesQuery selects observations of one metric in an inclusive window.
type SeriesQuery struct {
	CampaignID string
	SignalType SignalType
	Metric     string
	From       time.Time
	To         time.Time
}

// SeriesSource supplies ordered metric observations.
type SeriesSource interface {
	Series(ctx context.Context, q SeriesQuery) ([]Point, error)
}

// SourceKind selects a SeriesSource implementation.
type SourceKind string

// Supported series sources.
const (
	SourceStore   SourceKind = "store"
	SourceFixture SourceKind = "fixture"
)

// Split separates points into parallel value and timestamp slices.
func Split(points []Point) ([]float64, []time.Time) {
	values := make([]float64, len(points))
	stamps := make([]time.Time, len(points))
	for i, p := range points {
		values[i] = p.Value
		stamps[i] = p.ObservedAt
	}
	return values, stamps
}

type fixtureSeries struct {
	CampaignID string     `yaml:"campaign_id"`
	SignalType SignalType `yaml:"signal_type"`
	Metric     string     `yaml:"metric"`
	Points     []Point    `yaml:"points"`
}

type fixtureFile struct {
	Series []fixtureSeries `yaml:"series"`
}

// FixtureSource serves synthetic series loaded from YAML.
type FixtureSource struct {
	series []fixtureSeries
}

// LoadFixture reads a YAML fixture file of the form
//
//	series:
//	  - campaign_id: c1
//	    signal_type: rank
//	    metric: avg_position
//	    points:
//	      - {value: 12, observed_at: 2026-01-01T00:00:00Z}
func LoadFixture(path string) (*FixtureSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "temporal: read fixture %s", path)
	}
	return ParseFixture(raw)
}

// ParseFixture parses fixture YAML.
func ParseFixture(raw []byte) (*FixtureSource, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrap(err, "temporal: parse fixture")
	}
	for _, s := range f.Series {
		if !s.SignalType.Valid() {
			return nil, eris.Errorf("temporal: fixture has unknown signal type %q", s.SignalType)
		}
		if s.CampaignID == "" || s.Metric == "" {
			return nil, eris.New("temporal: fixture series needs campaign_id and metric")
		}
	}
	return &FixtureSource{series: f.Series}, nil
}

// NewFixtureSource builds a source from in-memory points.
func NewFixtureSource() *FixtureSource {
	return &FixtureSource{}
}

// Add appends observations for one metric.
func (s *FixtureSource) Add(campaignID string, signalType SignalType, metric string, points ...Point) {
	s.series = append(s.series, fixtureSeries{
		CampaignID: campaignID,
		SignalType: signalType,
		Metric:     metric,
		Points:     points,
	})
}

// Series returns the matching observations ordered by observation time.
func (s *FixtureSource) Series(ctx context.Context, q SeriesQuery) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Point
	for _, fs := range s.series {
		if fs.CampaignID != q.CampaignID || fs.SignalType != q.SignalType || fs.Metric != q.Metric {
			continue
		}
		for _, p := range fs.Points {
			if p.ObservedAt.Before(q.From) || p.ObservedAt.After(q.To) {
				continue
			}
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ObservedAt.Before(out[j].ObservedAt)
	})
	return out, nil
}
