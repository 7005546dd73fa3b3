// Command tracer links slices across sections into neuron traces by solving
// an integer program over precomputed segment hypotheses.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"slice_tracer/pkg/config"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "tracer",
	Short: "Trace neurons through a stack of segmented sections",
	Long: `tracer builds a constraint problem around a seed slice, hands it to an
external ILP solver and returns the connected components of the solution.

Subcommands:
  serve   - Run the HTTP API
  trace   - Run one trace and print the result as JSON
  import  - Load a JSON dataset into a badger or postgres store`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to YAML config file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(importCmd)
}

// loadConfig reads the config and installs the default logger.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return cfg, nil, fmt.Errorf("invalid --log-level: %w", err)
		}
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
