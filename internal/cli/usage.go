package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/neoclaw-ai/interviewer/internal/config"
	"github.com/neoclaw-ai/interviewer/internal/costs"
	"github.com/spf13/cobra"
)

func newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show spend totals from the cost ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			spend, err := costs.New(cfg.CostsPath()).Spend(cmd.Context(), time.Now())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "today: $%.4f\n", spend.TodayUSD)
			fmt.Fprintf(out, "month: $%.4f\n", spend.MonthUSD)
			names := make([]string, 0, len(spend.ByProvider))
			for name := range spend.ByProvider {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				fmt.Fprintf(out, "  %s (month): $%.4f\n", name, spend.ByProvider[name])
			}
			return nil
		},
	}
}
