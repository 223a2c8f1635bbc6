// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package maml provides Model-Agnostic Meta-Learning.
//
// A Learner holds a shared weight initialization for a feed-forward network.
// Each training step adapts a copy of it to every task of a meta-batch with
// a few gradient steps, measures the adapted models on held-out data and
// updates the initialization by differentiating through the adaptation.
//
// # Basic Usage
//
//	cfg := maml.DefaultConfig()
//	cfg.NumUpdates = 5
//	learner, err := maml.NewLearner(cfg, maml.Options{})
//	if err != nil {
//	    return err
//	}
//	for i := 0; i < iterations; i++ {
//	    report, err := learner.Step(nextBatch(), maml.StepOptions{Iteration: i})
//	    if err != nil {
//	        return err
//	    }
//	    log.Println(report.PreLoss, report.FinalLoss())
//	}
//
// # Errors
//
// Construction fails with a *ConfigurationError or *ShapeMismatchError
// before any computation. Non-finite losses, gradients or task weights are
// reported as *NumericInstabilityError on the Report and never abort a step.
package maml

import (
	"github.com/born-ml/maml/internal/maml"
)

// Config holds every engine option.
type Config = maml.Config

// Objective selects the post-adaptation objective.
type Objective = maml.Objective

// Objectives.
const (
	ObjectiveWeighted = maml.ObjectiveWeighted
	ObjectiveMean     = maml.ObjectiveMean
)

// DefaultConfig returns the sinusoid regression configuration.
func DefaultConfig() Config { return maml.DefaultConfig() }

// Learner is a constructed meta-learner.
type Learner = maml.Learner

// Options carry a Learner's collaborators.
type Options = maml.Options

// NewLearner validates cfg and builds the shared weights.
func NewLearner(cfg Config, opts Options) (*Learner, error) {
	return maml.NewLearner(cfg, opts)
}

// Task is one few-shot problem with a training and a held-out split.
type Task = maml.Task

// Batch is a meta-batch of tasks.
type Batch = maml.Batch

// Trace records one task's adaptation.
type Trace = maml.Trace

// StepOptions tune one training step.
type StepOptions = maml.StepOptions

// Report is the outcome of a training or evaluation pass.
type Report = maml.Report

// Error types.
type (
	ConfigurationError      = maml.ConfigurationError
	ShapeMismatchError      = maml.ShapeMismatchError
	NumericInstabilityError = maml.NumericInstabilityError
)

// Sentinel errors matched by the error types.
var (
	ErrConfiguration      = maml.ErrConfiguration
	ErrShapeMismatch      = maml.ErrShapeMismatch
	ErrNumericInstability = maml.ErrNumericInstability
)
