package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/strategy-cli/internal/automation"
	"github.com/sells-group/strategy-cli/internal/observability"
)

// metrics holds the process counters shared by every command.
var metrics = observability.NewMetrics()

var automationCmd = &cobra.Command{
	Use:   "automation",
	Short: "Run monthly campaign automation",
}

var automationEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate campaigns against the automation rules",
	Long:  "Runs one monthly evaluation per campaign against the configured store. Re-running within the same month returns the recorded event.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := cfg.Validate("automation"); err != nil {
			return err
		}

		campaigns, _ := cmd.Flags().GetStringSlice("campaign")
		dateStr, _ := cmd.Flags().GetString("date")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if len(campaigns) == 0 {
			return eris.New("automation evaluate: at least one --campaign is required")
		}

		var at time.Time
		if dateStr != "" {
			d, err := time.Parse("2006-01-02", dateStr)
			if err != nil {
				return eris.Wrapf(err, "automation evaluate: invalid --date %q", dateStr)
			}
			at = d
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine := automation.NewEngine(st,
			automation.WithEmitter(observability.NewZapEmitter(zap.L(), metrics)),
			automation.WithReplayMode(cfg.Engine.ReplayMode || automation.ReplayModeFromEnv()),
		)

		results := make([]*automation.Result, len(campaigns))
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(max(1, concurrency))
		for i, id := range campaigns {
			i, id := i, id
			g.Go(func() error {
				res, err := engine.Evaluate(gCtx, id, at)
				if err != nil {
					return eris.Wrapf(err, "automation evaluate %s", id)
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if len(results) == 1 {
			return writeJSON(cmd.OutOrStdout(), results[0])
		}
		return writeJSON(cmd.OutOrStdout(), results)
	},
}

func init() {
	automationEvaluateCmd.Flags().StringSlice("campaign", nil, "campaign id to evaluate (repeatable)")
	automationEvaluateCmd.Flags().String("date", "", "evaluation date (YYYY-MM-DD), defaults to today")
	automationEvaluateCmd.Flags().Int("concurrency", 4, "campaigns evaluated in parallel")

	automationCmd.AddCommand(automationEvaluateCmd)
	rootCmd.AddCommand(automationCmd)
}
