package cli

import (
	"github.com/spf13/cobra"

	"github.com/codeinonenight/podcast-insight/internal/version"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "podcast-insight",
		Short: "Extract, transcribe, and analyze podcast and video content",
		Long:  "An HTTP service that extracts audio from podcast and video URLs, transcribes it through an external speech-to-text API, and derives summaries, topics, mindmaps, and insights with an LLM.",
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newDoctorCmd(&configPath))

	return rootCmd
}
