package metrics

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Window accumulates meta-iteration stats across multiple steps.
type Window struct {
	tasks    int
	elapsed  time.Duration
	steps    int
	pre      []float64
	post     []float64
	lastPost float64
}

// Record adds one meta-iteration to the window.
func (w *Window) Record(tasks int, elapsed time.Duration, preLoss, postLoss float64) {
	w.tasks += tasks
	w.elapsed += elapsed
	w.steps++
	w.pre = append(w.pre, preLoss)
	w.post = append(w.post, postLoss)
	w.lastPost = postLoss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps, LastPostLoss: w.lastPost}
	if w.elapsed > 0 {
		snap.TasksPerSec = float64(w.tasks) / w.elapsed.Seconds()
	}
	if w.steps > 0 {
		snap.AvgStepMS = (w.elapsed.Seconds() * 1000) / float64(w.steps)
		snap.MeanPreLoss = stat.Mean(w.pre, nil)
		snap.MeanPostLoss = stat.Mean(w.post, nil)
	}
	if w.steps > 1 {
		snap.StdPostLoss = stat.StdDev(w.post, nil)
	}

	w.tasks = 0
	w.elapsed = 0
	w.steps = 0
	w.pre = w.pre[:0]
	w.post = w.post[:0]
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps        int
	TasksPerSec  float64
	AvgStepMS    float64
	MeanPreLoss  float64
	MeanPostLoss float64
	StdPostLoss  float64
	LastPostLoss float64
}
