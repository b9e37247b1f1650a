package cmd

import (
	"github.com/spf13/cobra"

	"storyme-server/modules/common/logger"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "storyme-server",
	Short: "StoryMe - illustrated storybook generation server",
	Long: `StoryMe turns a story script and a cast of characters into one
illustration per scene, using Flux (Runware) or Gemini image generation.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(logLevel, logFormat)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug/info/warn/error), serve defaults to LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (json/console), serve defaults to LOG_FORMAT")
}
