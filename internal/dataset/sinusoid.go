// Package dataset generates synthetic few-shot tasks.
package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/born-ml/maml/internal/maml"
	"github.com/born-ml/maml/internal/tensor"
)

// SinusoidConfig describes a family of 1-D regression tasks
// y = amplitude * sin(x - phase).
type SinusoidConfig struct {
	NumTrain   int        // Training samples per task (default: 10)
	NumTest    int        // Held-out samples per task (default: 10)
	Amplitude  [2]float64 // Amplitude range (default: [0.1, 5])
	Phase      [2]float64 // Phase range (default: [0, π])
	Input      [2]float64 // Input range (default: [-5, 5])
	Seed       uint64
	VaryCounts bool // Draw each task's sample count in [1, NumTrain+NumTest]
}

// Sinusoid draws sinusoid regression tasks from a seeded stream.
// It is not safe for concurrent use.
type Sinusoid struct {
	cfg       SinusoidConfig
	rng       *rand.Rand
	amplitude distuv.Uniform
	phase     distuv.Uniform
	input     distuv.Uniform
}

// SinusoidParams identifies one drawn task.
type SinusoidParams struct {
	Amplitude float64
	Phase     float64
}

// Eval returns the target function at x.
func (p SinusoidParams) Eval(x float64) float64 {
	return p.Amplitude * math.Sin(x-p.Phase)
}

// NewSinusoid creates a generator. Zero fields take their defaults.
func NewSinusoid(cfg SinusoidConfig) (*Sinusoid, error) {
	if cfg.NumTrain == 0 {
		cfg.NumTrain = 10
	}
	if cfg.NumTest == 0 {
		cfg.NumTest = 10
	}
	if cfg.Amplitude == [2]float64{} {
		cfg.Amplitude = [2]float64{0.1, 5}
	}
	if cfg.Phase == [2]float64{} {
		cfg.Phase = [2]float64{0, math.Pi}
	}
	if cfg.Input == [2]float64{} {
		cfg.Input = [2]float64{-5, 5}
	}
	if cfg.NumTrain < 0 || cfg.NumTest < 0 {
		return nil, fmt.Errorf("sinusoid: sample counts must be > 0 (got %d, %d)", cfg.NumTrain, cfg.NumTest)
	}
	for name, r := range map[string][2]float64{"amplitude": cfg.Amplitude, "phase": cfg.Phase, "input": cfg.Input} {
		if r[0] > r[1] {
			return nil, fmt.Errorf("sinusoid: %s range [%g, %g] is empty", name, r[0], r[1])
		}
	}

	src := rand.NewPCG(cfg.Seed, cfg.Seed^0xda3e39cb94b95bdb)
	return &Sinusoid{
		cfg:       cfg,
		rng:       rand.New(src),
		amplitude: distuv.Uniform{Min: cfg.Amplitude[0], Max: cfg.Amplitude[1], Src: src},
		phase:     distuv.Uniform{Min: cfg.Phase[0], Max: cfg.Phase[1], Src: src},
		input:     distuv.Uniform{Min: cfg.Input[0], Max: cfg.Input[1], Src: src},
	}, nil
}

// Task draws one task and returns it with its parameters.
func (s *Sinusoid) Task() (*maml.Task, SinusoidParams) {
	p := SinusoidParams{Amplitude: s.amplitude.Rand(), Phase: s.phase.Rand()}
	trainX, trainY := s.split(p, s.cfg.NumTrain)
	testX, testY := s.split(p, s.cfg.NumTest)

	task := &maml.Task{TrainInputs: trainX, TrainLabels: trainY, TestInputs: testX, TestLabels: testY}
	if s.cfg.VaryCounts {
		total := s.cfg.NumTrain + s.cfg.NumTest
		task.SetSampleCount(float64(1 + s.rng.IntN(total)))
	}
	return task, p
}

// Batch draws n tasks.
func (s *Sinusoid) Batch(n int) *maml.Batch {
	b := &maml.Batch{Tasks: make([]*maml.Task, n)}
	for i := range b.Tasks {
		b.Tasks[i], _ = s.Task()
	}
	return b
}

func (s *Sinusoid) split(p SinusoidParams, n int) (x, y *tensor.RawTensor) {
	x = tensor.Zeros(tensor.Shape{n, 1})
	y = tensor.Zeros(tensor.Shape{n, 1})
	xs, ys := x.Data(), y.Data()
	for i := range xs {
		xs[i] = s.input.Rand()
		ys[i] = p.Eval(xs[i])
	}
	return x, y
}
