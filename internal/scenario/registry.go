// Package scenario holds the catalog of diagnosable scenarios and the
// numeric thresholds the diagnostic modules compare signals against.
package scenario

import (
	_ "embed"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/strategy-cli/internal/canonical"
)

//go:embed registry.yaml
var registryYAML []byte

// Impact levels.
const (
	ImpactLow    = "low"
	ImpactMedium = "medium"
	ImpactHigh   = "high"
)

// Scenario is one catalog entry.
type Scenario struct {
	ID                   string   `yaml:"id" json:"scenario_id" validate:"required"`
	Version              string   `yaml:"version" json:"version_id" validate:"required"`
	Category             string   `yaml:"category" json:"category" validate:"required"`
	Diagnosis            string   `yaml:"diagnosis" json:"diagnosis" validate:"required"`
	RootCause            string   `yaml:"root_cause" json:"root_cause"`
	RecommendedActions   []string `yaml:"recommended_actions" json:"recommended_actions"`
	ExpectedOutcome      string   `yaml:"expected_outcome" json:"expected_outcome"`
	AuthoritativeSources []string `yaml:"authoritative_sources" json:"authoritative_sources"`
	ConfidenceWeight     float64  `yaml:"confidence_weight" json:"confidence_weight" validate:"gte=0,lte=1"`
	ImpactWeight         float64  `yaml:"impact_weight" json:"impact_weight" validate:"gte=0,lte=1"`
	ImpactLevel          string   `yaml:"impact_level" json:"impact_level" validate:"oneof=low medium high"`
	Deprecated           bool     `yaml:"deprecated" json:"deprecated"`
}

// Registry indexes scenarios by id.
type Registry struct {
	ordered []Scenario
	byID    map[string]Scenario
	version string
}

var validate = validator.New()

// Load parses a YAML catalog and validates every entry.
func Load(raw []byte) (*Registry, error) {
	var doc struct {
		Scenarios []Scenario `yaml:"scenarios"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "scenario: parse registry")
	}
	for _, s := range doc.Scenarios {
		if err := validate.Struct(s); err != nil {
			return nil, eris.Wrapf(err, "scenario: invalid entry %q", s.ID)
		}
	}
	return newRegistry(doc.Scenarios)
}

func newRegistry(scenarios []Scenario) (*Registry, error) {
	r := &Registry{byID: make(map[string]Scenario, len(scenarios))}
	entries := make([]any, 0, len(scenarios))
	for _, s := range scenarios {
		if _, dup := r.byID[s.ID]; dup {
			return nil, eris.Errorf("scenario: duplicate id %q", s.ID)
		}
		r.byID[s.ID] = s
		r.ordered = append(r.ordered, s)
		entries = append(entries, map[string]any{
			"scenario_id":       s.ID,
			"version_id":        s.Version,
			"category":          s.Category,
			"confidence_weight": s.ConfidenceWeight,
			"impact_weight":     s.ImpactWeight,
			"impact_level":      s.ImpactLevel,
			"deprecated":        s.Deprecated,
		})
	}
	v, err := canonical.VersionFingerprint(entries)
	if err != nil {
		return nil, eris.Wrap(err, "scenario: fingerprint registry")
	}
	r.version = v
	return r, nil
}

// Default returns the embedded catalog. It panics if the embedded YAML is
// invalid, which the package tests guard against.
func Default() *Registry {
	r, err := Load(registryYAML)
	if err != nil {
		panic(err)
	}
	return r
}

// Get looks up a scenario by id.
func (r *Registry) Get(id string) (Scenario, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// Active reports whether id is registered and not deprecated.
func (r *Registry) Active(id string) bool {
	s, ok := r.byID[id]
	return ok && !s.Deprecated
}

// All returns the scenarios in catalog order.
func (r *Registry) All() []Scenario {
	out := make([]Scenario, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// IDs returns the sorted scenario ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Version is the fingerprint of the catalog's scoring-relevant fields.
func (r *Registry) Version() string { return r.version }

// Deprecate returns a copy of r with the named scenarios marked deprecated.
func (r *Registry) Deprecate(ids ...string) (*Registry, error) {
	mark := make(map[string]bool, len(ids))
	for _, id := range ids {
		mark[id] = true
	}
	scenarios := r.All()
	for i := range scenarios {
		if mark[scenarios[i].ID] {
			scenarios[i].Deprecated = true
		}
	}
	return newRegistry(scenarios)
}
