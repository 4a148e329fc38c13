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

package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anyprec/anyprec/pkg/nn"
	"github.com/anyprec/anyprec/trainer/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config config.OptimizerConfig
		expect func(t *testing.T, o Optimizer, err error)
	}{
		{
			name:   "sgd",
			config: config.OptimizerConfig{Name: config.OptimizerSGD, LR: 0.1, Momentum: 0.9, WeightDecay: 3e-4},
			expect: func(t *testing.T, o Optimizer, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.IsType(&SGD{}, o)
				assert.Equal(0.1, o.LR())
			},
		},
		{
			name:   "adam",
			config: config.OptimizerConfig{Name: config.OptimizerAdam, LR: 1e-3},
			expect: func(t *testing.T, o Optimizer, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.IsType(&Adam{}, o)
			},
		},
		{
			name:   "unknown name",
			config: config.OptimizerConfig{Name: "rmsprop"},
			expect: func(t *testing.T, o Optimizer, err error) {
				assert := assert.New(t)
				assert.EqualError(err, "unknown optimizer \"rmsprop\"")
				assert.Nil(o)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := nn.NewParam("w", 2, true)
			o, err := New(tc.config, []*nn.Param{p})
			tc.expect(t, o, err)
		})
	}
}

func TestSGD_Step(t *testing.T) {
	p := nn.NewParam("w", 2, true)
	p.Data[0], p.Data[1] = 1, -1
	p.Grad[0], p.Grad[1] = 0.5, -0.5

	o := NewSGD([]*nn.Param{p}, 0.1, 0, 0)
	o.Step()

	assert := assert.New(t)
	assert.InDelta(0.95, p.Data[0], 1e-6)
	assert.InDelta(-0.95, p.Data[1], 1e-6)

	// Same gradient again, momentum doubles the effective step over time.
	o = NewSGD([]*nn.Param{p}, 0.1, 0.9, 0)
	p.Data[0] = 1
	p.Grad[0] = 1
	o.Step()
	assert.InDelta(0.9, p.Data[0], 1e-6)
	o.Step()
	assert.InDelta(0.9-0.1*1.9, p.Data[0], 1e-6)
}

func TestSGD_WeightDecay(t *testing.T) {
	decayed := nn.NewParam("w", 1, true)
	exempt := nn.NewParam("bn.gamma", 1, false)
	decayed.Data[0], exempt.Data[0] = 1, 1
	decayed.Grad[0], exempt.Grad[0] = 0, 0

	o := NewSGD([]*nn.Param{decayed, exempt}, 1, 0, 0.1)
	o.Step()

	assert := assert.New(t)
	assert.InDelta(0.9, decayed.Data[0], 1e-6)
	assert.InDelta(1.0, exempt.Data[0], 1e-6)
}

func TestSGD_StateRoundTrip(t *testing.T) {
	p := nn.NewParam("w", 2, true)
	p.Grad[0], p.Grad[1] = 1, 2

	o := NewSGD([]*nn.Param{p}, 0.1, 0.9, 0)
	o.Step()
	state := o.State()

	restored := NewSGD([]*nn.Param{p}, 0.1, 0.9, 0)
	assert := assert.New(t)
	assert.NoError(restored.LoadState(state))
	assert.Equal(o.State(), restored.State())

	assert.Error(restored.LoadState(State{Buffers: map[string][][]float32{}}))
}

func TestAdam_Step(t *testing.T) {
	p := nn.NewParam("w", 1, true)
	p.Data[0] = 1
	p.Grad[0] = 1

	o := NewAdam([]*nn.Param{p}, 1e-2, 0)
	o.Step()

	// First step with bias correction moves by almost exactly lr.
	assert.InDelta(t, 1-1e-2, p.Data[0], 1e-4)
}

func TestAdam_StateRoundTrip(t *testing.T) {
	p := nn.NewParam("w", 3, true)
	for i := range p.Grad {
		p.Grad[i] = float32(i) + 1
	}

	o := NewAdam([]*nn.Param{p}, 1e-3, 1e-4)
	o.Step()
	o.Step()

	restored := NewAdam([]*nn.Param{p}, 1e-3, 1e-4)
	assert := assert.New(t)
	assert.NoError(restored.LoadState(o.State()))
	assert.Equal(o.State(), restored.State())
}

func TestMultiStepLR(t *testing.T) {
	tests := []struct {
		name   string
		epoch  int
		expect float64
	}{
		{name: "before first milestone", epoch: 99, expect: 0.1},
		{name: "at first milestone", epoch: 100, expect: 0.01},
		{name: "between milestones", epoch: 149, expect: 0.01},
		{name: "after second milestone", epoch: 150, expect: 0.001},
		{name: "after all milestones", epoch: 199, expect: 0.0001},
	}

	s := NewMultiStepLR(0.1, 0.1, []int{100, 150, 180})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expect, s.LRAt(tc.epoch), 1e-12)
		})
	}
}

func TestMultiStepLR_Apply(t *testing.T) {
	p := nn.NewParam("w", 1, true)
	o := NewSGD([]*nn.Param{p}, 0.1, 0.9, 0)

	s := NewMultiStepLR(0.1, 0.1, []int{10})
	lr := s.Apply(o, 10)

	assert := assert.New(t)
	assert.InDelta(0.01, lr, 1e-12)
	assert.InDelta(0.01, o.LR(), 1e-12)
}
