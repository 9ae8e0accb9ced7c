// Package cmd wires the fleetsim CLI. Each service runs as its own
// subcommand against the shared RabbitMQ exchange; `run` and `compare`
// execute the whole pipeline in-process instead.
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fleetsim/fleetsim/config"
)

var (
	logLevel   string // Log verbosity level
	configFile string // Optional YAML settings overlay
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "fleetsim",
	Short: "Deterministic AMR fleet simulator and dispatcher",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return nil
	},
}

// loadConfig parses the environment plus the optional --config overlay.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	if configFile != "" {
		if err := cfg.ApplyFile(configFile); err != nil {
			logrus.Fatalf("config file %s: %v", configFile, err)
		}
	}
	return cfg
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to YAML settings overlay")
}
