// Package trainer drives meta-training: it draws task batches, steps the
// learner, evaluates on held-out tasks and writes checkpoints.
package trainer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/born-ml/maml/internal/maml"
	"github.com/born-ml/maml/internal/metrics"
)

// TaskSource draws meta-batches.
type TaskSource interface {
	Batch(n int) *maml.Batch
}

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Iterations         int    // Meta-iterations, counted from 0 across resumes
	PretrainIterations int    // Leading iterations that take the pretrain path
	MetaBatchSize      int    // Tasks per iteration
	LogEvery           int    // Log cadence (default: 100)
	EvalEvery          int    // Evaluation cadence, 0 disables
	EvalTasks          int    // Tasks per evaluation batch
	SaveEvery          int    // Checkpoint cadence, 0 disables
	CheckpointDir      string // Where checkpoints go
	Resume             string // Checkpoint to resume from, "latest" for the newest in CheckpointDir
}

// Summary reports what a run did.
type Summary struct {
	RunID          string
	StartIteration int
	Iterations     int     // Iterations executed by this call
	Skipped        int     // Iterations whose update was skipped as unstable
	LastEval       *maml.Report
	LastCheckpoint string
}

// Run executes the training workload. It returns early with ctx.Err() when
// ctx is cancelled between iterations; a checkpoint is written first if
// checkpointing is enabled.
func Run(ctx context.Context, learner *maml.Learner, train, eval TaskSource, cfg RunConfig, logger *slog.Logger) (*Summary, error) {
	if cfg.Iterations <= 0 {
		return nil, errors.New("trainer: iterations must be > 0")
	}
	if cfg.MetaBatchSize <= 0 {
		return nil, errors.New("trainer: meta batch size must be > 0")
	}
	if cfg.EvalEvery > 0 && (eval == nil || cfg.EvalTasks <= 0) {
		return nil, errors.New("trainer: evaluation needs a task source and eval tasks > 0")
	}
	if cfg.SaveEvery > 0 && cfg.CheckpointDir == "" {
		return nil, errors.New("trainer: checkpoint dir required when saving")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	sum := &Summary{RunID: uuid.NewString()}
	if err := resume(learner, cfg, sum, logger); err != nil {
		return nil, err
	}

	var window metrics.Window
	save := func(iteration int) error {
		path := CheckpointPath(cfg.CheckpointDir, iteration)
		err := SaveCheckpoint(path, &Checkpoint{RunID: sum.RunID, Iteration: iteration, State: learner.StateDict()})
		if err != nil {
			return err
		}
		sum.LastCheckpoint = path
		logger.Info("checkpoint saved", "path", path, "iteration", iteration)
		return nil
	}

	for it := sum.StartIteration; it < cfg.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			if cfg.SaveEvery > 0 && it > sum.StartIteration {
				if serr := save(it); serr != nil {
					logger.Error("checkpoint on cancel failed", "err", serr)
				}
			}
			return sum, err
		}

		start := time.Now()
		report, err := learner.Step(train.Batch(cfg.MetaBatchSize), maml.StepOptions{
			Pretrain:  it < cfg.PretrainIterations,
			Iteration: it,
		})
		if err != nil {
			return sum, err
		}
		sum.Iterations++
		if !report.Applied {
			sum.Skipped++
		}
		window.Record(cfg.MetaBatchSize, time.Since(start), report.PreLoss, report.FinalLoss())

		if (it+1)%cfg.LogEvery == 0 {
			snap := window.Snapshot()
			logger.Info("train",
				"iteration", it+1,
				"tasks_per_sec", snap.TasksPerSec,
				"step_ms", snap.AvgStepMS,
				"pre_loss", snap.MeanPreLoss,
				"post_loss", snap.MeanPostLoss,
				"post_loss_std", snap.StdPostLoss,
			)
		}

		if cfg.EvalEvery > 0 && (it+1)%cfg.EvalEvery == 0 {
			rep, err := learner.Evaluate(eval.Batch(cfg.EvalTasks), it+1)
			if err != nil {
				return sum, err
			}
			sum.LastEval = rep
			logger.Info("eval", "iteration", it+1, "pre_loss", rep.PreLoss, "post_loss", rep.FinalLoss())
		}

		if cfg.SaveEvery > 0 && (it+1)%cfg.SaveEvery == 0 {
			if err := save(it + 1); err != nil {
				return sum, err
			}
		}
	}
	return sum, nil
}

func resume(learner *maml.Learner, cfg RunConfig, sum *Summary, logger *slog.Logger) error {
	path := cfg.Resume
	if path == "latest" {
		latest, err := LatestCheckpoint(cfg.CheckpointDir)
		if err != nil {
			return err
		}
		if latest == "" {
			logger.Info("no checkpoint to resume from", "dir", cfg.CheckpointDir)
			return nil
		}
		path = latest
	}
	if path == "" {
		return nil
	}

	c, err := LoadCheckpoint(path)
	if err != nil {
		return err
	}
	if err := learner.LoadStateDict(c.State); err != nil {
		return err
	}
	if c.RunID != "" {
		sum.RunID = c.RunID
	}
	sum.StartIteration = c.Iteration
	logger.Info("resumed", "path", path, "run_id", sum.RunID, "iteration", c.Iteration)
	return nil
}
