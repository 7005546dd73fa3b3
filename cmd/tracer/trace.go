package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"slice_tracer/pkg/constraint"
	"slice_tracer/pkg/problem"
	"slice_tracer/pkg/region"
	"slice_tracer/pkg/tracing"
)

var (
	traceNodeID         string
	traceX, traceY      float64
	traceSection        uint32
	traceMode           string
	traceAll            bool
	traceMinComponent   int
	traceIncludeTermini bool
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Run one trace and print the result as JSON",
	Long: `Trace from a seed slice given either by node id or by a point on a section.

Examples:
  tracer trace --config tracer.yaml --node-id 12_3041 --mode force
  tracer trace --x 1024 --y 2048 --section 12 --mode permissive --all`,
	Args: cobra.NoArgs,
	RunE: runTrace,
}

func init() {
	traceCmd.Flags().StringVar(&traceNodeID, "node-id", "", "Seed slice node id (<section>_<slice>)")
	traceCmd.Flags().Float64Var(&traceX, "x", 0, "Seed point x")
	traceCmd.Flags().Float64Var(&traceY, "y", 0, "Seed point y")
	traceCmd.Flags().Uint32Var(&traceSection, "section", 0, "Seed point section")
	traceCmd.Flags().StringVar(&traceMode, "mode", "", "Exclusivity mode: force or permissive")
	traceCmd.Flags().BoolVar(&traceAll, "all", false, "Return every component, not only the seed's")
	traceCmd.Flags().IntVar(&traceMinComponent, "min-component-size", -1,
		"Minimum component size (config default when negative)")
	traceCmd.Flags().BoolVar(&traceIncludeTermini, "include-termini", false, "Mark start and end slices")

	traceCmd.MarkFlagRequired("mode")
	traceCmd.MarkFlagsRequiredTogether("x", "y", "section")
	traceCmd.MarkFlagsMutuallyExclusive("node-id", "x")
	traceCmd.MarkFlagsOneRequired("node-id", "x")
}

// traceRequest builds the request from flags and config defaults.
func traceRequest(cmd *cobra.Command, stack int64, defaults constraint.Priors, minSize int, termini bool) (tracing.Request, error) {
	if traceMode != "force" && traceMode != "permissive" {
		return tracing.Request{}, fmt.Errorf("--mode must be force or permissive, got %q", traceMode)
	}
	sense, err := problem.ParseSense(traceMode)
	if err != nil {
		return tracing.Request{}, err
	}

	req := tracing.Request{
		Params:           constraint.Params{Sense: sense, Priors: defaults},
		AllComponents:    traceAll,
		MinComponentSize: minSize,
		IncludeTermini:   termini,
	}
	if traceNodeID != "" {
		req.Seed = region.Seed{NodeID: traceNodeID}
	} else {
		req.Seed = region.Seed{X: traceX, Y: traceY, Section: traceSection, Stack: stack}
	}
	if traceMinComponent >= 0 {
		req.MinComponentSize = traceMinComponent
	}
	if cmd.Flags().Changed("include-termini") {
		req.IncludeTermini = traceIncludeTermini
	}
	return req, nil
}

func runTrace(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := traceRequest(cmd, cfg.Region.Stack, cfg.Trace.Priors, cfg.Trace.MinComponentSize, cfg.Trace.IncludeTermini)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	resp, err := newEngine(cfg, st, logger).Trace(ctx, req)
	if err != nil {
		var runErr *tracing.RunError
		if errors.As(err, &runErr) {
			return fmt.Errorf("%s (run %s, %s): %w", tracing.Code(err), runErr.RunID, runErr.State, err)
		}
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
