// Command tagbench measures pool throughput by tagging the same sentence many
// times.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/tagpool/internal/backend/echo"
	"github.com/seantiz/tagpool/internal/config"
)

func newRootCmd() *cobra.Command {
	var (
		o          benchOptions
		taggerArgs string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:          "tagbench",
		Short:        "Measure tagging throughput of a worker pool",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o.Backend.Args = strings.Fields(taggerArgs)
			if verbose {
				o.Logger = config.NewLogger(cmd.ErrOrStderr(), slog.LevelDebug)
			}

			res, err := runBench(cmd.Context(), o)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "strategy:   %s\n", o.Strategy)
			fmt.Fprintf(out, "backend:    %s\n", o.Backend.Name)
			fmt.Fprintf(out, "jobs:       %d (%d completed, %d failed)\n", res.Jobs, res.Completed, res.Failed)
			fmt.Fprintf(out, "lines:      %d\n", res.Lines)
			fmt.Fprintf(out, "elapsed:    %s\n", res.Elapsed.Round(time.Millisecond))
			fmt.Fprintf(out, "throughput: %.1f jobs/s\n", res.Throughput())
			if res.FirstErr != nil {
				fmt.Fprintf(out, "first error: %v\n", res.FirstErr)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&o.Jobs, "jobs", "n", 10000, "number of jobs to submit")
	f.IntVarP(&o.Workers, "workers", "w", 0, "pool size (0 means one per CPU)")
	f.StringVarP(&o.Strategy, "strategy", "s", config.StrategyInProcess, "inprocess or subprocess")
	f.StringVar(&o.WorkerBin, "worker-bin", "", "tagpool-worker executable for the subprocess strategy")
	f.StringVarP(&o.Backend.Name, "backend", "b", echo.Name, "tagging engine")
	f.StringVar(&o.Backend.Bin, "tagger-bin", "tree-tagger", "tagger executable for the treetagger engine")
	f.StringVar(&taggerArgs, "tagger-args", "", "extra tagger arguments, space separated")
	f.StringVar(&o.Backend.Lang, "lang", "english", "tagger language")
	f.StringVarP(&o.Text, "text", "t", defaultSentence, "text each job tags")
	f.BoolVarP(&verbose, "verbose", "v", false, "log pool events to stderr")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
