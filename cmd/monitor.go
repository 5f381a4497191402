package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Evaluate health alerts",
	Long:  "Collects replay, starvation and portfolio drift metrics, evaluates them against the monitoring thresholds and posts alerts to the configured webhook.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		campaigns, _ := cmd.Flags().GetStringSlice("campaign")
		watch, _ := cmd.Flags().GetBool("watch")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ctrl, closeCtrl, err := newController()
		if err != nil {
			return err
		}
		defer closeCtrl()

		collector := monitoring.NewCollector(metrics, ctrl, st, campaigns)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)

		if watch {
			checker.Run(ctx)
			return nil
		}
		alerts := checker.Check(ctx, zap.L())
		if alerts == nil {
			alerts = []monitoring.Alert{}
		}
		return writeJSON(cmd.OutOrStdout(), alerts)
	},
}

func init() {
	monitorCmd.Flags().StringSlice("campaign", nil, "campaign id sampled for portfolio drift (repeatable)")
	monitorCmd.Flags().Bool("watch", false, "keep checking on the configured interval until interrupted")

	rootCmd.AddCommand(monitorCmd)
}
