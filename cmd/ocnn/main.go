// Package main provides the ocnn command: training, testing and evaluation
// of the octree point-cloud autoencoder.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/born-ml/ocnn/internal/autoencoder"
	"github.com/born-ml/ocnn/internal/dataset"
	"github.com/born-ml/ocnn/internal/solver"
)

const version = "v0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "ocnn: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "ocnn %s - octree point-cloud autoencoder\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  train     Train a model (-config file.yaml)")
	fmt.Fprintln(w, "  test      Average the test losses of a checkpoint")
	fmt.Fprintln(w, "  evaluate  Write reconstructions of the test set")
	fmt.Fprintln(w, "  synth     Generate a synthetic primitive dataset")
	fmt.Fprintln(w, "  version   Show version")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return flag.ErrHelp
	}
	switch cmd := args[0]; cmd {
	case "version":
		fmt.Fprintf(stdout, "ocnn %s\n", version)
		return nil
	case solver.RunTrain, solver.RunTest, solver.RunEvaluate:
		return runSolver(ctx, cmd, args[1:], stderr)
	case "synth":
		return runSynth(args[1:], stdout, stderr)
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return nil
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runSolver(ctx context.Context, mode string, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet(mode, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML configuration file (required)")
	logdir := fs.String("logdir", "", "Override solver.logdir")
	ckpt := fs.String("ckpt", "", "Override solver.ckpt")
	maxEpoch := fs.Int("max_epoch", 0, "Override solver.max_epoch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		fs.Usage()
		return errors.New("-config is required")
	}

	cfg, err := solver.Load(*configPath)
	if err != nil {
		return err
	}
	cfg.Solver.Run = mode
	if *logdir != "" {
		cfg.Solver.Logdir = *logdir
	}
	if *ckpt != "" {
		cfg.Solver.Ckpt = *ckpt
	}
	if *maxEpoch > 0 {
		cfg.Solver.MaxEpoch = *maxEpoch
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := solver.NewLogger(cfg.Log, stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	s := solver.New(cfg, autoencoder.New(cfg, logger), logger)
	if err := s.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("interrupted", "epoch", s.Epoch())
		}
		return err
	}
	logger.Info("done", "run", mode, "epoch", s.Epoch(), "run_id", s.RunID())
	return nil
}

func runSynth(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "data/synth", "Output directory")
	n := fs.Int("n", 100, "Number of point clouds")
	pts := fs.Int("points", 3000, "Points per cloud")
	ratio := fs.Float64("test_ratio", 0.2, "Fraction of clouds listed for testing")
	seed := fs.Int64("seed", 0, "Random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := dataset.Synthesize(*out, dataset.SynthConfig{
		Samples:   *n,
		Points:    *pts,
		TestRatio: *ratio,
		Seed:      *seed,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %d clouds\n  train list: %s\n  test list:  %s\n", len(res.Files), res.TrainList, res.TestList)
	return nil
}
