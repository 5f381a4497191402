package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/strategy-cli/internal/replay"
)

func TestReplayVerifyManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := writeFile(t, dir, "manifest.json", `{"corpus_version":"v1","cases":[]}`)
	sum, err := replay.FileSHA256(manifest)
	require.NoError(t, err)

	out, err := execute(t, dir, "replay", "verify-manifest", "--manifest", manifest, "--sha256", sum)
	require.NoError(t, err)

	var doc map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "ok", doc["status"])
	assert.Equal(t, sum, doc["sha256"])
}

func TestReplayVerifyManifest_Mismatch(t *testing.T) {
	dir := t.TempDir()
	manifest := writeFile(t, dir, "manifest.json", `{"corpus_version":"v1","cases":[]}`)

	_, err := execute(t, dir, "replay", "verify-manifest", "--manifest", manifest, "--sha256", "deadbeef")
	require.Error(t, err)
	assert.True(t, eris.Is(err, replay.ErrManifestMismatch))
}

func TestReplayRun_InvalidCorpusWritesBootstrapReport(t *testing.T) {
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "report.json")

	_, err := execute(t, dir, "replay", "run", "--manifest", filepath.Join(dir, "missing.json"), "--report", reportPath)
	require.Error(t, err)

	raw, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report replay.Report
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, "unknown", report.CorpusVersion)
	assert.Equal(t, 1, report.FailedCases)
	require.Len(t, report.DriftEvents, 1)
	assert.Equal(t, "valid_replay_corpus", report.DriftEvents[0].Expected)
}
