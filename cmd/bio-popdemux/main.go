// bio-popdemux demultiplexes paired-end reads of an experiment by population
// index and builds per-population UMI libraries.
//
// Typical use, from the directory holding input_data/ and Outputs/:
//
//	bio-popdemux run example
//
// or step by step:
//
//	bio-popdemux scaffold example
//	bio-popdemux index example
//	bio-popdemux umi example
//	bio-popdemux stats example
package main

import (
	"context"
	"os"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/popgen/popdemux/pipeline"
	"v.io/x/lib/cmdline"
)

func registerFlags(cmd *cmdline.Command, opts *pipeline.Opts) {
	*opts = pipeline.DefaultOpts
	cmd.Flags.StringVar(&opts.InputRoot, "input", opts.InputRoot, "Directory holding one input directory per experiment")
	cmd.Flags.StringVar(&opts.OutputRoot, "output", opts.OutputRoot, "Directory receiving one output directory per experiment")
	cmd.Flags.BoolVar(&opts.Gzip, "gzip", opts.Gzip, "Read and write gzip-compressed FASTQ destinations")
}

func newCmd(name, short string, run func(ctx context.Context, env *cmdline.Env, name string, opts pipeline.Opts) error) (*cmdline.Command, *pipeline.Opts) {
	opts := &pipeline.Opts{}
	cmd := &cmdline.Command{
		Name:     name,
		Short:    short,
		ArgsName: "experiment",
	}
	registerFlags(cmd, opts)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return env.UsageErrorf("%s takes one experiment name, but got %v", name, argv)
		}
		return run(vcontext.Background(), env, argv[0], *opts)
	})
	return cmd, opts
}

func newCmdScaffold() *cmdline.Command {
	cmd, _ := newCmd("scaffold", "Create the population destinations of an experiment",
		func(ctx context.Context, _ *cmdline.Env, name string, opts pipeline.Opts) error {
			e, err := pipeline.Open(ctx, name, opts)
			if err != nil {
				return err
			}
			return pipeline.Scaffold(ctx, e)
		})
	return cmd
}

func newCmdIndex() *cmdline.Command {
	var threshold *int
	cmd, opts := newCmd("index", "Demultiplex the raw reads of an experiment by population index",
		func(ctx context.Context, _ *cmdline.Env, name string, opts pipeline.Opts) error {
			opts.ShortThreshold = *threshold
			e, err := pipeline.Open(ctx, name, opts)
			if err != nil {
				return err
			}
			_, err = pipeline.Demultiplex(ctx, e, opts)
			return err
		})
	threshold = cmd.Flags.Int("short-threshold", opts.ShortThreshold, "Pairs with a read shorter than this go to the short bucket")
	return cmd
}

func newCmdUMI() *cmdline.Command {
	var umiLength, parallelism *int
	cmd, opts := newCmd("umi", "Build the UMI library of every population of an experiment",
		func(ctx context.Context, _ *cmdline.Env, name string, opts pipeline.Opts) error {
			opts.UMILength, opts.Parallelism = *umiLength, *parallelism
			e, err := pipeline.Open(ctx, name, opts)
			if err != nil {
				return err
			}
			_, err = pipeline.BuildLibraries(ctx, e, opts)
			return err
		})
	umiLength = cmd.Flags.Int("umi-length", opts.UMILength, "Length of the run of N marking the UMI in the primers")
	parallelism = cmd.Flags.Int("parallelism", opts.Parallelism, "Number of libraries built concurrently")
	return cmd
}

func newCmdStats() *cmdline.Command {
	var histogramMax *int
	cmd, opts := newCmd("stats", "Summarize the UMI libraries of an experiment",
		func(ctx context.Context, env *cmdline.Env, name string, opts pipeline.Opts) error {
			opts.HistogramMax = *histogramMax
			e, err := pipeline.Open(ctx, name, opts)
			if err != nil {
				return err
			}
			_, err = pipeline.Stats(ctx, e, opts, env.Stdout)
			return err
		})
	histogramMax = cmd.Flags.Int("histogram-max", opts.HistogramMax, "Last bin of the pairs-per-UMI histogram")
	return cmd
}

func newCmdRun() *cmdline.Command {
	var threshold, umiLength, parallelism, histogramMax *int
	cmd, opts := newCmd("run", "Run every step on an experiment",
		func(ctx context.Context, env *cmdline.Env, name string, opts pipeline.Opts) error {
			opts.ShortThreshold, opts.UMILength = *threshold, *umiLength
			opts.Parallelism, opts.HistogramMax = *parallelism, *histogramMax
			return pipeline.Run(ctx, name, opts, env.Stdout)
		})
	threshold = cmd.Flags.Int("short-threshold", opts.ShortThreshold, "Pairs with a read shorter than this go to the short bucket")
	umiLength = cmd.Flags.Int("umi-length", opts.UMILength, "Length of the run of N marking the UMI in the primers")
	parallelism = cmd.Flags.Int("parallelism", opts.Parallelism, "Number of libraries built concurrently")
	histogramMax = cmd.Flags.Int("histogram-max", opts.HistogramMax, "Last bin of the pairs-per-UMI histogram")
	return cmd
}

func newCmdRoot() *cmdline.Command {
	return &cmdline.Command{
		Name:     "bio-popdemux",
		Short:    "Demultiplex paired-end reads by population and build UMI libraries",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdScaffold(),
			newCmdIndex(),
			newCmdUMI(),
			newCmdStats(),
			newCmdRun(),
		},
	}
}

func main() {
	shutdown := grail.Init()
	cmdline.HideGlobalFlagsExcept()
	env := cmdline.EnvFromOS()
	err := cmdline.ParseAndRun(newCmdRoot(), env, os.Args[1:])
	if err != nil {
		log.Debug.Printf("exiting: %v", err)
	}
	shutdown()
	os.Exit(cmdline.ExitCode(err, env.Stderr))
}
