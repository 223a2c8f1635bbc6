// Package main provides the meta-learning CLI.
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

	"github.com/born-ml/maml/internal/config"
	"github.com/born-ml/maml/internal/dataset"
	"github.com/born-ml/maml/internal/maml"
	"github.com/born-ml/maml/internal/metrics"
	"github.com/born-ml/maml/internal/trainer"
)

const version = "v0.1.0-dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "maml: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return nil
	}
	switch args[0] {
	case "version":
		fmt.Fprintf(stdout, "maml %s\n", version)
		return nil
	case "train":
		return train(args[1:], stderr)
	case "eval":
		return eval(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Model-Agnostic Meta-Learning")
	fmt.Fprintf(w, "Version: %s\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  train      Meta-train on sinusoid regression tasks")
	fmt.Fprintln(w, "  eval       Evaluate a checkpoint on held-out tasks")
	fmt.Fprintln(w, "  version    Show version")
}

// common registers the flags shared by train and eval.
type common struct {
	cfgPath  string
	logLevel string
	logJSON  bool
	o        config.Overrides
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.cfgPath, "config", "", "Path to YAML config (defaults when empty)")
	fs.StringVar(&c.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.BoolVar(&c.logJSON, "log-json", false, "Emit JSON logs")
	fs.IntVar(&c.o.MetaBatchSize, "meta-batch-size", 0, "Tasks per meta-iteration")
	fs.IntVar(&c.o.NumUpdates, "num-updates", 0, "Inner gradient steps")
	fs.Float64Var(&c.o.UpdateLR, "update-lr", 0, "Inner-loop step size")
	fs.StringVar(&c.o.CheckpointDir, "checkpoint-dir", "", "Checkpoint directory")
	fs.Uint64Var(&c.o.Seed, "seed", 0, "PRNG seed")
	fs.IntVar(&c.o.Parallelism, "parallelism", 0, "Tasks adapted concurrently")
}

func (c *common) load() (*config.Config, error) {
	cfg := config.Default()
	if c.cfgPath != "" {
		var err error
		if cfg, err = config.Load(c.cfgPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyOverrides(c.o)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *common) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.logLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.logJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func train(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c common
	c.register(fs)
	fs.IntVar(&c.o.Iterations, "iterations", 0, "Meta-iterations")
	fs.Float64Var(&c.o.MetaLR, "meta-lr", 0, "Outer-loop step size")
	fs.StringVar(&c.o.Objective, "objective", "", "Post-adaptation objective: weighted or mean")
	fs.IntVar(&c.o.LogEvery, "log-every", 0, "Log every N iterations")
	fs.StringVar(&c.o.Resume, "resume", "", `Checkpoint to resume from, or "latest"`)
	stopGrad := fs.Bool("stop-grad", false, "Use the first-order approximation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "stop-grad" {
			c.o.StopGrad = stopGrad
		}
	})

	cfg, err := c.load()
	if err != nil {
		return err
	}
	logger, err := c.logger(stderr)
	if err != nil {
		return err
	}

	learner, err := maml.NewLearner(cfg.MAML, maml.Options{
		Logger: logger,
		Sink:   metrics.LogSink{Logger: logger},
	})
	if err != nil {
		return err
	}
	trainTasks, err := dataset.NewSinusoid(dataset.SinusoidConfig{
		NumTrain: cfg.Data.NumTrain, NumTest: cfg.Data.NumTest,
		Seed: cfg.Data.Seed, VaryCounts: cfg.Data.VaryCounts,
	})
	if err != nil {
		return err
	}
	evalTasks, err := dataset.NewSinusoid(dataset.SinusoidConfig{
		NumTrain: cfg.Data.NumTrain, NumTest: cfg.Data.NumTest, Seed: cfg.Data.EvalSeed,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := trainer.Run(ctx, learner, trainTasks, evalTasks, trainer.RunConfig{
		Iterations:         cfg.Train.Iterations,
		PretrainIterations: cfg.Train.PretrainIterations,
		MetaBatchSize:      cfg.MAML.MetaBatchSize,
		LogEvery:           cfg.Train.LogEvery,
		EvalEvery:          cfg.Train.EvalEvery,
		EvalTasks:          cfg.Train.EvalTasks,
		SaveEvery:          cfg.Train.SaveEvery,
		CheckpointDir:      cfg.Train.CheckpointDir,
		Resume:             cfg.Train.Resume,
	}, logger)
	if errors.Is(err, context.Canceled) {
		logger.Warn("training interrupted", "iterations", sum.Iterations)
		return nil
	}
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	logger.Info("training done",
		"run_id", sum.RunID,
		"iterations", sum.Iterations,
		"skipped", sum.Skipped,
		"checkpoint", sum.LastCheckpoint,
	)
	return nil
}

func eval(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c common
	c.register(fs)
	checkpoint := fs.String("checkpoint", "latest", `Checkpoint file, or "latest" in -checkpoint-dir`)
	tasks := fs.Int("tasks", 0, "Held-out tasks (default: eval_tasks from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	logger, err := c.logger(stderr)
	if err != nil {
		return err
	}

	path := *checkpoint
	if path == "latest" {
		if path, err = trainer.LatestCheckpoint(cfg.Train.CheckpointDir); err != nil {
			return err
		}
		if path == "" {
			return fmt.Errorf("no checkpoint in %s", cfg.Train.CheckpointDir)
		}
	}
	ckpt, err := trainer.LoadCheckpoint(path)
	if err != nil {
		return err
	}

	learner, err := maml.NewLearner(cfg.MAML, maml.Options{Logger: logger})
	if err != nil {
		return err
	}
	if err := learner.LoadStateDict(ckpt.State); err != nil {
		return err
	}

	n := cfg.Train.EvalTasks
	if *tasks > 0 {
		n = *tasks
	}
	src, err := dataset.NewSinusoid(dataset.SinusoidConfig{
		NumTrain: cfg.Data.NumTrain, NumTest: cfg.Data.NumTest, Seed: cfg.Data.EvalSeed,
	})
	if err != nil {
		return err
	}
	report, err := learner.Evaluate(src.Batch(n), ckpt.Iteration)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "checkpoint %s (run %s, iteration %d)\n", path, ckpt.RunID, ckpt.Iteration)
	fmt.Fprintf(stdout, "%s: %.6f\n", maml.PreUpdateSummary(maml.PrefixVal), report.PreLoss)
	for j, v := range report.PostLosses {
		fmt.Fprintf(stdout, "%s: %.6f\n", maml.PostUpdateSummary(maml.PrefixVal, j+1), v)
	}
	return nil
}
