package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/canonical"
)

const bootstrapID = "_bootstrap_"

// ErrManifestMismatch is returned when a manifest's digest differs from the
// pinned one.
var ErrManifestMismatch = eris.New("replay: manifest digest mismatch")

// ManifestCase is one entry of a corpus manifest. Refs are relative to the
// manifest's directory.
type ManifestCase struct {
	CaseID       string       `json:"case_id"`
	TenantID     string       `json:"tenant_id"`
	CampaignID   string       `json:"campaign_id"`
	InputRef     string       `json:"input_ref"`
	ExpectedRef  string       `json:"expected_ref"`
	VersionTuple VersionTuple `json:"version_tuple"`
}

// Manifest lists the cases of a replay corpus.
type Manifest struct {
	CorpusVersion string         `json:"corpus_version"`
	Cases         []ManifestCase `json:"cases"`
}

// GoldenCase is the manifest entry for one built golden case.
type GoldenCase struct {
	CaseID        string `json:"case_id"`
	CaseResultRef string `json:"case_result_ref"`
	InputHash     string `json:"input_hash"`
	OutputHash    string `json:"output_hash"`
	BuildHash     string `json:"build_hash"`
}

// GoldenManifest indexes the golden artifacts written by BuildGolden.
type GoldenManifest struct {
	CorpusVersion string       `json:"corpus_version"`
	GeneratedAt   string       `json:"generated_at"`
	CaseCount     int          `json:"case_count"`
	Cases         []GoldenCase `json:"cases"`
}

// LoadManifest reads and validates the corpus manifest at path, including
// the presence of every referenced file.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "replay: read manifest %s", path)
	}
	if err := validate(manifestSchema, raw); err != nil {
		return nil, err
	}
	var m Manifest
	if err := decodeJSON(raw, &m); err != nil {
		return nil, eris.Wrap(err, "replay: decode manifest")
	}
	if m.CorpusVersion == "" {
		m.CorpusVersion = "unknown"
	}
	root := filepath.Dir(path)
	for _, c := range m.Cases {
		for _, ref := range []string{c.InputRef, c.ExpectedRef} {
			if _, err := os.Stat(filepath.Join(root, ref)); err != nil {
				return nil, eris.Wrapf(err, "replay: case %s references missing %s", c.CaseID, ref)
			}
		}
	}
	return &m, nil
}

func loadObject(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "replay: read %s", path)
	}
	var out map[string]any
	if err := decodeJSON(raw, &out); err != nil {
		return nil, eris.Wrapf(err, "replay: decode %s", path)
	}
	return out, nil
}

func writeIndented(path string, payload any) error {
	v, err := canonical.From(payload)
	if err != nil {
		return eris.Wrapf(err, "replay: encode %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "replay: create %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, canonical.EncodeIndent(v, "  "), 0o644); err != nil {
		return eris.Wrapf(err, "replay: write %s", path)
	}
	return nil
}

// BuildGolden fingerprints every case of the corpus under corpusRoot and
// writes per-case results plus a manifest under outputRoot.
func BuildGolden(corpusRoot, outputRoot string, now time.Time) (*GoldenManifest, error) {
	m, err := LoadManifest(filepath.Join(corpusRoot, "manifest.json"))
	if err != nil {
		return nil, err
	}

	out := &GoldenManifest{
		CorpusVersion: m.CorpusVersion,
		GeneratedAt:   now.UTC().Format("2006-01-02T15:04:05.000000-07:00"),
		CaseCount:     len(m.Cases),
		Cases:         make([]GoldenCase, 0, len(m.Cases)),
	}
	for _, c := range m.Cases {
		input, err := loadObject(filepath.Join(corpusRoot, c.InputRef))
		if err != nil {
			return nil, err
		}
		expected, err := loadObject(filepath.Join(corpusRoot, c.ExpectedRef))
		if err != nil {
			return nil, err
		}

		inHash, err := canonical.InputHash(input)
		if err != nil {
			return nil, eris.Wrapf(err, "replay: input hash for %s", c.CaseID)
		}
		outHash, err := canonical.OutputHash(expected)
		if err != nil {
			return nil, eris.Wrapf(err, "replay: output hash for %s", c.CaseID)
		}
		versionHash, err := canonical.VersionFingerprint(c.VersionTuple.fields())
		if err != nil {
			return nil, eris.Wrapf(err, "replay: version fingerprint for %s", c.CaseID)
		}
		buildHash := canonical.BuildHash(inHash, outHash, versionHash)

		ref := "case_results/" + c.CaseID + ".json"
		err = writeIndented(filepath.Join(outputRoot, ref), map[string]any{
			"case_id":                 c.CaseID,
			"tenant_id":               c.TenantID,
			"campaign_id":             c.CampaignID,
			"version_tuple":           c.VersionTuple.fields(),
			"version_fingerprint":     versionHash,
			"input_hash":              inHash,
			"output_hash":             outHash,
			"build_hash":              buildHash,
			"recommendation_ordering": ordering(expected),
			"confidence_bands":        confidenceBands(expected),
			"expected_ref":            c.ExpectedRef,
			"input_ref":               c.InputRef,
		})
		if err != nil {
			return nil, err
		}
		out.Cases = append(out.Cases, GoldenCase{
			CaseID:        c.CaseID,
			CaseResultRef: ref,
			InputHash:     inHash,
			OutputHash:    outHash,
			BuildHash:     buildHash,
		})
	}

	cases := make([]any, len(out.Cases))
	for i, c := range out.Cases {
		cases[i] = map[string]any{
			"case_id":         c.CaseID,
			"case_result_ref": c.CaseResultRef,
			"input_hash":      c.InputHash,
			"output_hash":     c.OutputHash,
			"build_hash":      c.BuildHash,
		}
	}
	err = writeIndented(filepath.Join(outputRoot, "manifest.json"), map[string]any{
		"corpus_version": out.CorpusVersion,
		"generated_at":   out.GeneratedAt,
		"case_count":     out.CaseCount,
		"cases":          cases,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("replay: golden artifacts built",
		zap.String("corpus_version", out.CorpusVersion),
		zap.Int("cases", out.CaseCount),
		zap.String("output", outputRoot),
	)
	return out, nil
}

// RunCorpus replays every case of the manifest at manifestPath through
// executor, in manifest order. Besides the shadow axes it compares a
// per-position ordering signature. Executor errors abort the run.
func RunCorpus(ctx context.Context, manifestPath string, executor Executor, now time.Time) (*Report, error) {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	root := filepath.Dir(manifestPath)

	var events []DriftEvent
	for _, item := range m.Cases {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "replay: corpus run cancelled")
		}
		input, err := loadObject(filepath.Join(root, item.InputRef))
		if err != nil {
			return nil, err
		}
		expected, err := loadObject(filepath.Join(root, item.ExpectedRef))
		if err != nil {
			return nil, err
		}
		c := Case{
			CaseID:         item.CaseID,
			TenantID:       item.TenantID,
			CampaignID:     item.CampaignID,
			InputPayload:   input,
			ExpectedOutput: expected,
			VersionTuple:   item.VersionTuple,
		}
		actual, err := executor.Execute(ctx, c)
		if err != nil {
			return nil, eris.Wrapf(err, "replay: execute case %s", c.CaseID)
		}

		caseEvents, err := compareCase(c, actual, now, true)
		if err != nil {
			return nil, err
		}
		events = append(events, caseEvents...)
	}

	failed := map[string]bool{}
	for _, ev := range events {
		failed[ev.CaseID] = true
	}
	if events == nil {
		events = []DriftEvent{}
	}
	report := &Report{
		CorpusVersion: m.CorpusVersion,
		TotalCases:    len(m.Cases),
		PassedCases:   len(m.Cases) - len(failed),
		FailedCases:   len(failed),
		DriftEvents:   events,
		GeneratedAt:   now,
	}
	zap.L().Info("replay: corpus run finished",
		zap.String("corpus_version", report.CorpusVersion),
		zap.Int("total", report.TotalCases),
		zap.Int("failed", report.FailedCases),
	)
	return report, nil
}

// BootstrapReport describes a run that could not start, such as a corpus
// that fails validation.
func BootstrapReport(cause error, now time.Time) *Report {
	return &Report{
		CorpusVersion: "unknown",
		FailedCases:   1,
		DriftEvents: []DriftEvent{{
			CaseID:     bootstrapID,
			TenantID:   bootstrapID,
			CampaignID: bootstrapID,
			DriftType:  DriftPayload,
			Expected:   "valid_replay_corpus",
			Actual:     cause.Error(),
			DetectedAt: now,
		}},
		GeneratedAt: now,
	}
}

// FileSHA256 streams the file at path through SHA-256.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "replay: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "replay: read %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyManifest checks the manifest at path against the pinned hex digest.
// It returns the actual digest either way.
func VerifyManifest(path, expectedSHA string) (string, error) {
	actual, err := FileSHA256(path)
	if err != nil {
		return "", err
	}
	want := strings.ToLower(strings.TrimSpace(expectedSHA))
	if actual != want {
		return actual, eris.Wrapf(ErrManifestMismatch, "expected %s, got %s", want, actual)
	}
	return actual, nil
}
