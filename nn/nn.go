// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the feed-forward model evaluated by the meta-learner.
//
// # Overview
//
// This package contains:
//   - Params: ordered name -> tensor mappings (shared and fast weights)
//   - Update: the key-wise gradient step new[k] = old[k] - lr*grad[k]
//   - MLP: a fully connected ReLU network evaluated against any Params
//   - Normalization: none, batch_norm, layer_norm
//   - Losses: MSE and softmax cross-entropy, per sample
//   - Weight stores: random, pretrained (SafeTensors) and static
//
// # Basic Usage
//
//	model, _ := nn.NewMLP(1, []int{40, 40}, 1, nn.NormNone)
//	weights, _ := model.Build(nn.NewRandomStore(model, 1))
//	out, _ := model.Forward(cpu.New(), x, weights, true)
package nn

import (
	"github.com/born-ml/maml/internal/nn"
	"github.com/born-ml/maml/internal/tensor"
)

// Params is an ordered mapping from parameter name to tensor.
type Params = nn.Params

// NewParams creates an empty mapping.
func NewParams() *Params { return nn.NewParams() }

// Update returns w - lr*g key by key, computed on backend.
func Update(backend tensor.Backend, w, g *Params, lr float64) (*Params, error) {
	return nn.Update(backend, w, g, lr)
}

// MLP is a fully connected network with optional normalization.
type MLP = nn.MLP

// NormMode selects the normalization after each hidden layer.
type NormMode = nn.NormMode

// Normalization modes.
const (
	NormNone  = nn.NormNone
	NormBatch = nn.NormBatch
	NormLayer = nn.NormLayer
)

// NewMLP creates an unbuilt network.
func NewMLP(dimInput int, dimHidden []int, dimOutput int, mode NormMode) (*MLP, error) {
	return nn.NewMLP(dimInput, dimHidden, dimOutput, mode)
}

// LossFunc computes per-sample losses.
type LossFunc = nn.LossFunc

// MSE is the mean squared error spread over samples.
var MSE LossFunc = nn.MSE

// SoftmaxCrossEntropy is softmax cross-entropy divided by the batch size.
var SoftmaxCrossEntropy LossFunc = nn.SoftmaxCrossEntropy

// WeightStore produces initial shared weights.
type WeightStore = nn.WeightStore

// RandomStore initializes weights from a seeded truncated normal.
type RandomStore = nn.RandomStore

// PretrainedStore loads the first layers from a SafeTensors artifact.
type PretrainedStore = nn.PretrainedStore

// StaticStore hands out a fixed mapping.
type StaticStore = nn.StaticStore

// NewRandomStore creates a random store for m's architecture.
func NewRandomStore(m *MLP, seed uint64) *RandomStore { return nn.NewRandomStore(m, seed) }

// NewPretrainedStore creates a pretrained store for m's architecture.
func NewPretrainedStore(m *MLP, path string, seed uint64) (*PretrainedStore, error) {
	return nn.NewPretrainedStore(m, path, seed)
}
