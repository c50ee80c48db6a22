package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeinonenight/podcast-insight/internal/bootstrap"
	"github.com/codeinonenight/podcast-insight/internal/config"
	"github.com/codeinonenight/podcast-insight/internal/domain"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			app, err := bootstrap.New(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initializing service: %w", err)
			}

			report := app.Checker.Run(cfg)
			for _, item := range report.Items {
				if item.Status == domain.DiagnosticStatusFail {
					app.Logger.Warn("startup check failed", "check", item.ID, "message", item.Message, "hint", item.Hint)
				}
			}

			return app.Run()
		},
	}
}
