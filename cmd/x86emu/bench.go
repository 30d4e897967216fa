package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/x86emu/benchmarks"
	"github.com/sarchlab/x86emu/timing/latency"
)

func newBenchCmd() *cobra.Command {
	var (
		format       string
		core         bool
		timingConfig string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run the timing microbenchmarks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := benchmarks.DefaultConfig()
			config.Output = cmd.OutOrStdout()
			if timingConfig != "" {
				t, err := latency.LoadConfig(timingConfig)
				if err != nil {
					return err
				}
				if err := t.Validate(); err != nil {
					return fmt.Errorf("invalid timing config: %w", err)
				}
				config.Timing = t
			}

			harness := benchmarks.NewHarness(config)
			if core {
				harness.AddBenchmarks(benchmarks.GetCoreBenchmarks())
			} else {
				harness.AddBenchmarks(benchmarks.GetMicrobenchmarks())
			}
			results := harness.RunAll()

			switch format {
			case "text":
				harness.PrintResults(results)
			case "csv":
				harness.PrintCSV(results)
			case "json":
				return harness.PrintJSON(results)
			default:
				return fmt.Errorf("unknown format %q (text, csv, json)", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format (text, csv, json)")
	cmd.Flags().BoolVar(&core, "core", false, "Run only the loop, matrix and branch benchmarks")
	cmd.Flags().StringVar(&timingConfig, "timing-config", "", "Timing configuration JSON file")
	return cmd
}
