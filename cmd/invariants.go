package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/governance"
	"github.com/sells-group/strategy-cli/internal/store"
)

var invariantsCmd = &cobra.Command{
	Use:   "invariants",
	Short: "Startup governance invariants",
}

var invariantsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check schema, threshold bundle and version lock invariants against Postgres",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("invariants"); err != nil {
			return err
		}
		runtime, _ := cmd.Flags().GetString("runtime")

		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		})
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		err = governance.RunStartupInvariants(ctx, st.Pool(), governance.Config{
			Runtime:         runtime,
			ExpectedSchema:  cfg.Invariants.ExpectedSchema,
			CodeFingerprint: cfg.Invariants.CodeFingerprint,
			Skip:            cfg.Invariants.Skip,
		})
		if err != nil {
			return eris.Wrap(err, "invariants check")
		}
		zap.L().Info("invariants check passed", zap.String("runtime", runtime))
		return nil
	},
}

func init() {
	invariantsCheckCmd.Flags().String("runtime", "cli", "runtime name recorded with failures and matched against the version lock")

	invariantsCmd.AddCommand(invariantsCheckCmd)
	rootCmd.AddCommand(invariantsCmd)
}
