package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/strategy-cli/internal/canonical"
	"github.com/sells-group/strategy-cli/internal/idempotency"
	"github.com/sells-group/strategy-cli/internal/scenario"
	"github.com/sells-group/strategy-cli/internal/simulate"
	"github.com/sells-group/strategy-cli/internal/store"
	"github.com/sells-group/strategy-cli/internal/strategy"
	"github.com/sells-group/strategy-cli/internal/temporal"
)

var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Build and simulate campaign strategies",
}

// -- strategy build --

var strategyBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run the strategy engine on an input payload",
	Long: "Reads a JSON payload with campaign_id, window, raw_signals and tier and prints the canonical strategy output. " +
		"With --persist the build is idempotent per tenant and folds temporal momentum into the stored state.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("strategy"); err != nil {
			return err
		}

		input, _ := cmd.Flags().GetString("input")
		tenant, _ := cmd.Flags().GetString("tenant")
		persist, _ := cmd.Flags().GetBool("persist")

		var req strategy.Request
		if err := readInput(input, &req); err != nil {
			return err
		}
		if req.RawSignals == nil {
			req.RawSignals = map[string]any{}
		}

		var st store.Store
		if persist || cfg.Engine.SeriesSource != string(temporal.SourceFixture) {
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck
			st = s
		}
		src, err := seriesSource(st)
		if err != nil {
			return err
		}

		v, err := runStrategyBuild(ctx, st, src, req, tenant, persist)
		if err != nil {
			return eris.Wrap(err, "strategy build")
		}
		return writeCanonical(cmd.OutOrStdout(), v)
	},
}

// runStrategyBuild builds req. Persisted builds go through the idempotent
// builder and need st; ad-hoc builds return the output with its hash.
func runStrategyBuild(ctx context.Context, st store.Store, src temporal.SeriesSource, req strategy.Request, tenant string, persist bool) (canonical.Value, error) {
	engine := strategy.NewEngine(scenario.Default(), scenario.DefaultThresholds(), strategy.WithSeriesSource(src))
	if persist {
		if st == nil {
			return canonical.Value{}, eris.New("persisted builds need a store")
		}
		b := strategy.NewBuilder(engine, idempotency.NewService(st), strategy.NewIntegrator(st))
		return b.Build(ctx, tenant, req)
	}

	out, err := engine.Build(ctx, req)
	if err != nil {
		return canonical.Value{}, err
	}
	v, err := out.CanonicalValue()
	if err != nil {
		return canonical.Value{}, err
	}
	hash, err := canonical.OutputHash(v)
	if err != nil {
		return canonical.Value{}, err
	}
	return canonical.Map(map[string]canonical.Value{
		"output":      v,
		"output_hash": canonical.String(hash),
	}), nil
}

// -- strategy simulate --

type simulateInput struct {
	Baseline        simulate.Baseline        `json:"baseline"`
	Delta           simulate.Delta           `json:"delta"`
	ConfidenceRange simulate.ConfidenceRange `json:"confidence_range"`
}

var strategySimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Project a recommendation delta onto baseline metrics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		input, _ := cmd.Flags().GetString("input")

		var in simulateInput
		if err := readInput(input, &in); err != nil {
			return err
		}
		res, err := simulate.Simulate(in.Baseline, in.Delta, in.ConfidenceRange)
		if err != nil {
			return eris.Wrap(err, "strategy simulate")
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

// -- strategy recover-stale --

var strategyRecoverStaleCmd = &cobra.Command{
	Use:   "recover-stale",
	Short: "Fail executions stuck in RUNNING past a timeout",
	Long:  "Marks persisted builds that have been RUNNING longer than --timeout as FAILED so the next build with the same key can retry.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("automation"); err != nil {
			return err
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")
		batch, _ := cmd.Flags().GetInt("batch")
		if timeout <= 0 {
			return eris.New("strategy recover-stale: --timeout must be positive")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		report, err := idempotency.NewService(st).RecoverStale(ctx, timeout, batch)
		if err != nil {
			return eris.Wrap(err, "strategy recover-stale")
		}
		return writeJSON(cmd.OutOrStdout(), report)
	},
}

func init() {
	strategyBuildCmd.Flags().String("input", "-", "path to the JSON input payload (- for stdin)")
	strategyBuildCmd.Flags().String("tenant", "default", "tenant id for persisted builds")
	strategyBuildCmd.Flags().Bool("persist", false, "store the build and its temporal state")

	strategySimulateCmd.Flags().String("input", "-", "path to a JSON file with baseline, delta and confidence_range")

	strategyRecoverStaleCmd.Flags().Duration("timeout", 30*time.Minute, "age after which a RUNNING execution is considered stale")
	strategyRecoverStaleCmd.Flags().Int("batch", 100, "maximum executions recovered per run")

	strategyCmd.AddCommand(strategyBuildCmd, strategySimulateCmd, strategyRecoverStaleCmd)
	rootCmd.AddCommand(strategyCmd)
}
