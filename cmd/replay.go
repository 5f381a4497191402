package main

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/observability"
	"github.com/sells-group/strategy-cli/internal/replay"
	"github.com/sells-group/strategy-cli/internal/scenario"
	"github.com/sells-group/strategy-cli/internal/strategy"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay the engine against golden corpora",
}

// replayEngine is the engine replayed cases run through. It has no series
// source so outputs depend on the case input alone.
func replayEngine() *strategy.Engine {
	return strategy.NewEngine(scenario.Default(), scenario.DefaultThresholds())
}

// -- replay build-golden --

var replayBuildGoldenCmd = &cobra.Command{
	Use:   "build-golden",
	Short: "Fingerprint a corpus and write golden artifacts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		corpus, _ := cmd.Flags().GetString("corpus")
		output, _ := cmd.Flags().GetString("output")

		m, err := replay.BuildGolden(corpus, output, time.Now())
		if err != nil {
			return eris.Wrap(err, "replay build-golden")
		}
		return writeJSON(cmd.OutOrStdout(), m)
	},
}

// -- replay run --

var replayRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a corpus offline and write a drift report",
	Long:  "Replays every case of the manifest through the strategy engine. Exits non-zero when any case drifts or the corpus is invalid.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		manifest, _ := cmd.Flags().GetString("manifest")
		reportPath, _ := cmd.Flags().GetString("report")

		now := time.Now().UTC()
		report, runErr := replay.RunCorpus(ctx, manifest, replay.EngineExecutor{Builder: replayEngine()}, now)
		if runErr != nil {
			zap.L().Error("replay: corpus run failed", zap.Error(runErr))
			report = replay.BootstrapReport(runErr, now)
		}
		for i := 0; i < report.TotalCases; i++ {
			metrics.RecordReplay(i < report.FailedCases)
		}

		if err := writeReport(cmd, reportPath, report); err != nil {
			return err
		}
		if runErr != nil {
			return eris.Wrap(runErr, "replay run")
		}
		if report.FailedCases > 0 {
			return eris.Errorf("replay run: %d of %d cases drifted", report.FailedCases, report.TotalCases)
		}
		return nil
	},
}

func writeReport(cmd *cobra.Command, path string, report *replay.Report) error {
	if path == "" || path == "-" {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create report %s", path)
	}
	defer f.Close() //nolint:errcheck
	return writeJSON(f, report)
}

// -- replay verify-manifest --

var replayVerifyManifestCmd = &cobra.Command{
	Use:   "verify-manifest",
	Short: "Check a corpus manifest against its pinned SHA-256",
	RunE: func(cmd *cobra.Command, _ []string) error {
		manifest, _ := cmd.Flags().GetString("manifest")
		expected, _ := cmd.Flags().GetString("sha256")

		actual, err := replay.VerifyManifest(manifest, expected)
		if err != nil {
			return eris.Wrap(err, "replay verify-manifest")
		}
		return writeJSON(cmd.OutOrStdout(), map[string]string{
			"manifest": manifest,
			"sha256":   actual,
			"status":   "ok",
		})
	},
}

// -- replay shadow --

var replayShadowCmd = &cobra.Command{
	Use:   "shadow",
	Short: "Shadow-replay one live case under admission control",
	Long:  "Re-executes a recorded case when shadow replay is admitted and the case is sampled, emitting drift events for every mismatch.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("replay"); err != nil {
			return err
		}
		casePath, _ := cmd.Flags().GetString("case")

		raw, err := os.ReadFile(casePath)
		if err != nil {
			return eris.Wrapf(err, "read case %s", casePath)
		}
		c, err := replay.ParseCase(raw)
		if err != nil {
			return err
		}

		ctrl, closeCtrl, err := newController()
		if err != nil {
			return err
		}
		defer closeCtrl()

		runner, err := replay.NewShadowRunner(replay.ShadowConfig{
			SampleRatePercent: cfg.ShadowReplay.SampleRatePercent,
			MaxConcurrency:    cfg.ShadowReplay.MaxConcurrency,
			MaxPerSecond:      cfg.ShadowReplay.MaxPerSecond,
		}, ctrl, replay.EngineExecutor{Builder: replayEngine()}, observability.NewZapEmitter(zap.L(), metrics), metrics)
		if err != nil {
			return err
		}

		events, err := runner.Run(ctx, c)
		if err != nil {
			return eris.Wrap(err, "replay shadow")
		}
		if events == nil {
			events = []replay.DriftEvent{}
		}
		return writeJSON(cmd.OutOrStdout(), events)
	},
}

func init() {
	replayBuildGoldenCmd.Flags().String("corpus", "", "corpus root containing manifest.json")
	replayBuildGoldenCmd.Flags().String("output", "", "directory for golden artifacts")
	_ = replayBuildGoldenCmd.MarkFlagRequired("corpus")
	_ = replayBuildGoldenCmd.MarkFlagRequired("output")

	replayRunCmd.Flags().String("manifest", "", "path to the corpus manifest")
	replayRunCmd.Flags().String("report", "-", "where to write the drift report (- for stdout)")
	_ = replayRunCmd.MarkFlagRequired("manifest")

	replayVerifyManifestCmd.Flags().String("manifest", "", "path to the corpus manifest")
	replayVerifyManifestCmd.Flags().String("sha256", "", "pinned hex SHA-256 of the manifest")
	_ = replayVerifyManifestCmd.MarkFlagRequired("manifest")
	_ = replayVerifyManifestCmd.MarkFlagRequired("sha256")

	replayShadowCmd.Flags().String("case", "", "path to a replay case JSON file")
	_ = replayShadowCmd.MarkFlagRequired("case")

	replayCmd.AddCommand(replayBuildGoldenCmd, replayRunCmd, replayVerifyManifestCmd, replayShadowCmd)
	rootCmd.AddCommand(replayCmd)
}
