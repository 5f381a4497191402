// Package replay re-executes recorded strategy cases and reports drift
// between the recorded and the recomputed output.
package replay

import (
	"bytes"
	"embed"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Drift types.
const (
	DriftHash           = "hash"
	DriftOrdering       = "ordering"
	DriftConfidenceBand = "confidence_band"
	DriftPayload        = "payload"
)

// VersionTuple pins the engine, threshold bundle, registry and signal
// schema a case was recorded against.
type VersionTuple struct {
	EngineVersion          string `json:"engine_version"`
	ThresholdBundleVersion string `json:"threshold_bundle_version"`
	RegistryVersion        string `json:"registry_version"`
	SignalSchemaVersion    string `json:"signal_schema_version"`
}

func (v VersionTuple) fields() map[string]any {
	return map[string]any{
		"engine_version":           v.EngineVersion,
		"threshold_bundle_version": v.ThresholdBundleVersion,
		"registry_version":         v.RegistryVersion,
		"signal_schema_version":    v.SignalSchemaVersion,
	}
}

// Case is one recorded input with its expected output.
type Case struct {
	CaseID         string         `json:"case_id"`
	TenantID       string         `json:"tenant_id"`
	CampaignID     string         `json:"campaign_id"`
	InputPayload   map[string]any `json:"input_payload"`
	ExpectedOutput map[string]any `json:"expected_output"`
	VersionTuple   VersionTuple   `json:"version_tuple"`
}

// StableKey identifies the case for shadow sampling.
func (c Case) StableKey() string {
	return c.TenantID + ":" + c.CampaignID + ":" + c.CaseID
}

// DriftEvent is one axis on which the recomputed output disagreed with the
// recorded one. Expected and Actual hold a string or a []string.
type DriftEvent struct {
	CaseID     string    `json:"case_id"`
	TenantID   string    `json:"tenant_id"`
	CampaignID string    `json:"campaign_id"`
	DriftType  string    `json:"drift_type"`
	Expected   any       `json:"expected"`
	Actual     any       `json:"actual"`
	Diff       *string   `json:"diff"`
	DetectedAt time.Time `json:"detected_at"`
}

// Report summarizes one corpus run.
type Report struct {
	CorpusVersion string       `json:"corpus_version"`
	TotalCases    int          `json:"total_cases"`
	PassedCases   int          `json:"passed_cases"`
	FailedCases   int          `json:"failed_cases"`
	DriftEvents   []DriftEvent `json:"drift_events"`
	GeneratedAt   time.Time    `json:"generated_at"`
}

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	caseSchema     = "schemas/case.schema.json"
	manifestSchema = "schemas/corpus_manifest.schema.json"
)

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error
)

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		for _, name := range []string{caseSchema, manifestSchema} {
			data, err := schemaFS.ReadFile(name)
			if err != nil {
				schemaErr = eris.Wrapf(err, "replay: read %s", name)
				return
			}
			if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
				schemaErr = eris.Wrapf(err, "replay: add schema %s", name)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, 2)
		for _, name := range []string{caseSchema, manifestSchema} {
			s, err := compiler.Compile(name)
			if err != nil {
				schemaErr = eris.Wrapf(err, "replay: compile %s", name)
				return
			}
			out[name] = s
		}
		schemas = out
	})
	return schemas, schemaErr
}

func validate(schemaName string, raw []byte) error {
	compiled, err := compileSchemas()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return eris.Wrap(err, "replay: decode document")
	}
	if err := compiled[schemaName].Validate(doc); err != nil {
		return eris.Wrapf(err, "replay: %s", schemaName)
	}
	return nil
}

// decodeJSON decodes raw keeping integer and float literals apart.
func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// ParseCase validates raw against the case schema and decodes it.
func ParseCase(raw []byte) (Case, error) {
	if err := validate(caseSchema, raw); err != nil {
		return Case{}, err
	}
	var c Case
	if err := decodeJSON(raw, &c); err != nil {
		return Case{}, eris.Wrap(err, "replay: decode case")
	}
	return c, nil
}
