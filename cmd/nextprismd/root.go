package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/LoopeyTheGreat/next-prism/internal/corelog"
)

var rootConfiguration struct {
	configPath string
	logLevel   string
}

var rootCommand = &cobra.Command{
	Use:   "nextprismd",
	Short: "nextprismd watches Nextcloud/custom photo folders and drives PhotoPrism/Nextcloud re-indexing",
}

func init() {
	flags := rootCommand.PersistentFlags()
	flags.StringVar(&rootConfiguration.configPath, "config", "/etc/nextprism/config.yaml", "path to the YAML config file")
	flags.StringVar(&rootConfiguration.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	cobra.EnableCommandSorting = false

	rootCommand.AddCommand(
		runCommand,
		rescanCommand,
		statsCommand,
	)
}

// configureLogging applies rootConfiguration.logLevel to the package-wide
// root logger every component derives from (internal/corelog).
func configureLogging() {
	level, err := logrus.ParseLevel(rootConfiguration.logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	corelog.Root.Logger.SetLevel(level)
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCommand.Execute(); err != nil {
		fatal(err)
	}
}
