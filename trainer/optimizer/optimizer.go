/*
 *     Copyright 2024 The AnyPrec Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package optimizer implements the gradient descent optimizers and the
// learning rate schedule used for quantized training.
package optimizer

import (
	"fmt"
	"math"

	"github.com/anyprec/anyprec/pkg/nn"
	"github.com/anyprec/anyprec/trainer/config"
)

// State is the optimizer snapshot persisted in checkpoints, keyed by
// parameter name.
type State struct {
	LR      float64                `json:"lr"`
	Step    int                    `json:"step"`
	Buffers map[string][][]float32 `json:"buffers"`
}

// Optimizer updates model parameters from their accumulated gradients.
type Optimizer interface {
	// Step applies one update and leaves gradients untouched.
	Step()

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// SetLR replaces the learning rate for subsequent steps.
	SetLR(lr float64)

	// LR returns the current learning rate.
	LR() float64

	// State snapshots the internal buffers.
	State() State

	// LoadState restores a snapshot taken from the same parameter set.
	LoadState(state State) error
}

// New constructs the optimizer named in the configuration.
func New(cfg config.OptimizerConfig, params []*nn.Param) (Optimizer, error) {
	switch cfg.Name {
	case config.OptimizerSGD:
		return NewSGD(params, cfg.LR, cfg.Momentum, cfg.WeightDecay), nil
	case config.OptimizerAdam:
		return NewAdam(params, cfg.LR, cfg.WeightDecay), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", cfg.Name)
	}
}

// SGD is stochastic gradient descent with momentum. Weight decay is
// skipped for parameters flagged as decay exempt, which keeps BatchNorm
// scales unregularized.
type SGD struct {
	params      []*nn.Param
	lr          float64
	momentum    float64
	weightDecay float64
	velocity    [][]float32
	step        int
}

func NewSGD(params []*nn.Param, lr, momentum, weightDecay float64) *SGD {
	velocity := make([][]float32, len(params))
	for i, p := range params {
		velocity[i] = make([]float32, len(p.Data))
	}
	return &SGD{
		params:      params,
		lr:          lr,
		momentum:    momentum,
		weightDecay: weightDecay,
		velocity:    velocity,
	}
}

func (o *SGD) Step() {
	lr := float32(o.lr)
	mu := float32(o.momentum)
	wd := float32(o.weightDecay)
	for i, p := range o.params {
		v := o.velocity[i]
		for j := range p.Data {
			g := p.Grad[j]
			if wd != 0 && p.Decay {
				g += wd * p.Data[j]
			}
			v[j] = mu*v[j] + g
			p.Data[j] -= lr * v[j]
		}
	}
	o.step++
}

func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

func (o *SGD) SetLR(lr float64) { o.lr = lr }
func (o *SGD) LR() float64      { return o.lr }

func (o *SGD) State() State {
	buffers := make(map[string][][]float32, len(o.params))
	for i, p := range o.params {
		buffers[p.Name] = [][]float32{append([]float32(nil), o.velocity[i]...)}
	}
	return State{LR: o.lr, Step: o.step, Buffers: buffers}
}

func (o *SGD) LoadState(state State) error {
	for i, p := range o.params {
		bufs, ok := state.Buffers[p.Name]
		if !ok {
			return fmt.Errorf("missing optimizer buffer for %q", p.Name)
		}
		if len(bufs) != 1 || len(bufs[0]) != len(p.Data) {
			return fmt.Errorf("optimizer buffer for %q has wrong shape", p.Name)
		}
		copy(o.velocity[i], bufs[0])
	}
	o.lr = state.LR
	o.step = state.Step
	return nil
}

// Adam keeps first and second moment estimates per parameter with bias
// correction.
type Adam struct {
	params      []*nn.Param
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	m           [][]float32
	v           [][]float32
	step        int
}

func NewAdam(params []*nn.Param, lr, weightDecay float64) *Adam {
	m := make([][]float32, len(params))
	v := make([][]float32, len(params))
	for i, p := range params {
		m[i] = make([]float32, len(p.Data))
		v[i] = make([]float32, len(p.Data))
	}
	return &Adam{
		params:      params,
		lr:          lr,
		beta1:       0.9,
		beta2:       0.999,
		eps:         1e-8,
		weightDecay: weightDecay,
		m:           m,
		v:           v,
	}
}

func (o *Adam) Step() {
	o.step++
	c1 := 1 - math.Pow(o.beta1, float64(o.step))
	c2 := 1 - math.Pow(o.beta2, float64(o.step))
	stepSize := o.lr * math.Sqrt(c2) / c1

	b1 := float32(o.beta1)
	b2 := float32(o.beta2)
	wd := float32(o.weightDecay)
	for i, p := range o.params {
		m, v := o.m[i], o.v[i]
		for j := range p.Data {
			g := p.Grad[j]
			if wd != 0 && p.Decay {
				g += wd * p.Data[j]
			}
			m[j] = b1*m[j] + (1-b1)*g
			v[j] = b2*v[j] + (1-b2)*g*g
			p.Data[j] -= float32(stepSize * float64(m[j]) / (math.Sqrt(float64(v[j])) + o.eps))
		}
	}
}

func (o *Adam) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

func (o *Adam) SetLR(lr float64) { o.lr = lr }
func (o *Adam) LR() float64      { return o.lr }

func (o *Adam) State() State {
	buffers := make(map[string][][]float32, len(o.params))
	for i, p := range o.params {
		buffers[p.Name] = [][]float32{
			append([]float32(nil), o.m[i]...),
			append([]float32(nil), o.v[i]...),
		}
	}
	return State{LR: o.lr, Step: o.step, Buffers: buffers}
}

func (o *Adam) LoadState(state State) error {
	for i, p := range o.params {
		bufs, ok := state.Buffers[p.Name]
		if !ok {
			return fmt.Errorf("missing optimizer buffer for %q", p.Name)
		}
		if len(bufs) != 2 || len(bufs[0]) != len(p.Data) || len(bufs[1]) != len(p.Data) {
			return fmt.Errorf("optimizer buffer for %q has wrong shape", p.Name)
		}
		copy(o.m[i], bufs[0])
		copy(o.v[i], bufs[1])
	}
	o.lr = state.LR
	o.step = state.Step
	return nil
}
