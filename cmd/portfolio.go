package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/strategy-cli/internal/portfolio"
)

var portfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Portfolio allocation, momentum and drift",
}

var portfolioAllocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Reallocate budget shares across campaigns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		input, _ := cmd.Flags().GetString("input")
		maxShift, _ := cmd.Flags().GetFloat64("max-shift")

		var campaigns []portfolio.CampaignInput
		if err := readInput(input, &campaigns); err != nil {
			return err
		}
		res := portfolio.Allocate(campaigns, maxShift)
		v, err := res.CanonicalValue()
		if err != nil {
			return err
		}
		return writeCanonical(cmd.OutOrStdout(), v)
	},
}

var portfolioMomentumCmd = &cobra.Command{
	Use:   "momentum",
	Short: "Roll campaign momentum up to the portfolio",
	RunE: func(cmd *cobra.Command, _ []string) error {
		input, _ := cmd.Flags().GetString("input")

		var campaigns []portfolio.CampaignMomentum
		if err := readInput(input, &campaigns); err != nil {
			return err
		}
		v, err := portfolio.WeightedMomentum(campaigns).CanonicalValue()
		if err != nil {
			return err
		}
		return writeCanonical(cmd.OutOrStdout(), v)
	},
}

var portfolioDriftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Detect systemic negative momentum",
	Long:  "Reads a JSON array of campaign momentum values and reports whether enough of them are negative to flag systemic drift.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		input, _ := cmd.Flags().GetString("input")

		var values []float64
		if err := readInput(input, &values); err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), portfolio.DetectSystemicDrift(values))
	},
}

func init() {
	portfolioAllocateCmd.Flags().String("input", "-", "JSON array of campaign_id, current_allocation, opportunity_score")
	portfolioAllocateCmd.Flags().Float64("max-shift", portfolio.DefaultMaxShift, "largest allowed change to one allocation")
	portfolioMomentumCmd.Flags().String("input", "-", "JSON array of campaign momentum rows")
	portfolioDriftCmd.Flags().String("input", "-", "JSON array of momentum values")

	portfolioCmd.AddCommand(portfolioAllocateCmd, portfolioMomentumCmd, portfolioDriftCmd)
	rootCmd.AddCommand(portfolioCmd)
}
