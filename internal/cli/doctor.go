package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeinonenight/podcast-insight/internal/config"
	"github.com/codeinonenight/podcast-insight/internal/diagnostics"
	"github.com/codeinonenight/podcast-insight/internal/domain"
)

func newDoctorCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools and API credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			report := diagnostics.NewChecker().Run(cfg)
			for _, item := range report.Items {
				mark := "ok"
				if item.Status == domain.DiagnosticStatusFail {
					mark = "FAIL"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", mark, item.Name, item.Message)
				if item.Hint != "" && item.Status == domain.DiagnosticStatusFail {
					fmt.Fprintf(cmd.OutOrStdout(), "       hint: %s\n", item.Hint)
				}
			}

			if report.HasFailures {
				return fmt.Errorf("some checks failed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All checks passed.")
			return nil
		},
	}
}
