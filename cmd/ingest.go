package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load campaigns, recommendations and temporal snapshots into the store",
}

var ingestCampaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Create or update a campaign",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("automation"); err != nil {
			return err
		}

		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			return eris.New("ingest campaign: --id is required")
		}
		tenant, _ := cmd.Flags().GetString("tenant")
		name, _ := cmd.Flags().GetString("name")
		lock, _ := cmd.Flags().GetBool("manual-lock")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		c := &model.Campaign{ID: id, TenantID: tenant, Name: name, ManualAutomationLock: lock}
		if err := st.UpsertCampaign(ctx, c); err != nil {
			return err
		}
		zap.L().Info("campaign upserted", zap.String("campaign_id", id), zap.Bool("manual_lock", lock))
		return writeJSON(cmd.OutOrStdout(), c)
	},
}

var ingestSnapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Append temporal snapshots",
	Long:  "Reads a JSON array of temporal snapshots (campaign_id, signal_type, metric_name, metric_value, observed_at) and appends them to the series store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("automation"); err != nil {
			return err
		}
		input, _ := cmd.Flags().GetString("input")

		var snaps []model.TemporalSnapshot
		if err := readInput(input, &snaps); err != nil {
			return err
		}
		for i, sn := range snaps {
			if sn.CampaignID == "" || sn.MetricName == "" || sn.ObservedAt.IsZero() {
				return eris.Errorf("ingest snapshots: row %d needs campaign_id, metric_name and observed_at", i)
			}
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.InsertSnapshots(ctx, snaps)
		if err != nil {
			return err
		}
		zap.L().Info("snapshots ingested", zap.Int64("rows", n))
		return writeJSON(cmd.OutOrStdout(), map[string]int64{"inserted": n})
	},
}

var ingestRecommendationsCmd = &cobra.Command{
	Use:   "recommendations",
	Short: "Upsert stored recommendations",
	Long:  "Reads a JSON array of recommendations and upserts them by id. Rows without a status start as GENERATED.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("automation"); err != nil {
			return err
		}
		input, _ := cmd.Flags().GetString("input")

		var recs []model.StoredRecommendation
		if err := readInput(input, &recs); err != nil {
			return err
		}
		for i := range recs {
			if recs[i].CampaignID == "" {
				return eris.Errorf("ingest recommendations: row %d has no campaign_id", i)
			}
			if recs[i].Status == "" {
				recs[i].Status = model.RecommendationGenerated
			}
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertRecommendations(ctx, recs)
		if err != nil {
			return err
		}
		zap.L().Info("recommendations ingested", zap.Int64("rows", n))
		return writeJSON(cmd.OutOrStdout(), map[string]int64{"upserted": n})
	},
}

func init() {
	ingestCampaignCmd.Flags().String("id", "", "campaign id")
	ingestCampaignCmd.Flags().String("tenant", "default", "tenant id")
	ingestCampaignCmd.Flags().String("name", "", "display name")
	ingestCampaignCmd.Flags().Bool("manual-lock", false, "block automation for this campaign")
	ingestSnapshotsCmd.Flags().String("input", "-", "JSON array of temporal snapshots")
	ingestRecommendationsCmd.Flags().String("input", "-", "JSON array of recommendations")

	ingestCmd.AddCommand(ingestCampaignCmd, ingestSnapshotsCmd, ingestRecommendationsCmd)
	rootCmd.AddCommand(ingestCmd)
}
