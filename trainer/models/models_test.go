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

package models

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyprec/anyprec/pkg/nn"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		bitWidths []int
		expect    func(t *testing.T, m Model, err error)
	}{
		{
			name:      "full precision appended and sorted",
			model:     "resnet20",
			bitWidths: []int{4, 2},
			expect: func(t *testing.T, m Model, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal([]int{2, 4, 32}, m.BitWidths())
				assert.Equal(32, m.Precision())
			},
		},
		{
			name:      "full precision kept once",
			model:     "resnet20",
			bitWidths: []int{32, 8},
			expect: func(t *testing.T, m Model, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal([]int{8, 32}, m.BitWidths())
			},
		},
		{
			name:      "unknown model",
			model:     "vgg",
			bitWidths: []int{4},
			expect: func(t *testing.T, m Model, err error) {
				assert := assert.New(t)
				assert.EqualError(err, "unknown model \"vgg\"")
				assert.Nil(m)
			},
		},
		{
			name:      "empty bit width list",
			model:     "resnet20",
			bitWidths: nil,
			expect: func(t *testing.T, m Model, err error) {
				assert := assert.New(t)
				assert.EqualError(err, "model \"resnet20\" requires at least one bit width")
				assert.Nil(m)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, err := New(tc.model, tc.bitWidths, 10, 1)
			tc.expect(t, m, err)
		})
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"resnet20"}, Names())
}

func TestResNet20_ForwardShape(t *testing.T) {
	m, err := New("resnet20", []int{2}, 10, 1)
	require.NoError(t, err)

	x := nn.NewTensor(2, 3, 32, 32)
	out := m.Forward(x, false)
	assert.Equal(t, []int{2, 10}, out.Shape)
}

func TestResNet20_SetPrecision(t *testing.T) {
	m, err := New("resnet20", []int{2, 4}, 10, 1)
	require.NoError(t, err)

	assert := assert.New(t)
	assert.NoError(m.SetPrecision(2))
	assert.Equal(2, m.Precision())
	assert.NoError(m.SetPrecision(32))
	assert.EqualError(m.SetPrecision(8), "model does not support bit width 8")
	assert.Equal(32, m.Precision())
}

func TestResNet20_PrecisionChangesOutput(t *testing.T) {
	m, err := New("resnet20", []int{1}, 10, 1)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(5))
	x := nn.NewTensor(1, 3, 32, 32)
	for i := range x.Data {
		x.Data[i] = float32(rng.NormFloat64())
	}

	require.NoError(t, m.SetPrecision(32))
	full := m.Forward(x, false)

	require.NoError(t, m.SetPrecision(1))
	low := m.Forward(x, false)

	assert.NotEqual(t, full.Data, low.Data)
}

func TestResNet20_SeedDeterminism(t *testing.T) {
	a, err := New("resnet20", []int{4}, 10, 7)
	require.NoError(t, err)
	b, err := New("resnet20", []int{4}, 10, 7)
	require.NoError(t, err)
	c, err := New("resnet20", []int{4}, 10, 8)
	require.NoError(t, err)

	assert := assert.New(t)
	assert.Equal(a.State(), b.State())
	assert.NotEqual(a.State(), c.State())
}

func TestResNet20_Params(t *testing.T) {
	m, err := New("resnet20", []int{2}, 10, 1)
	require.NoError(t, err)

	byName := map[string]*nn.Param{}
	for _, p := range m.Params() {
		require.NotContains(t, byName, p.Name, "duplicate parameter name")
		byName[p.Name] = p
	}

	assert := assert.New(t)
	// Convs decay, BN affine parameters and biases do not.
	assert.True(byName["stem.weight"].Decay)
	assert.True(byName["stage1.0.conv1.weight"].Decay)
	assert.False(byName["stem.bn.w2.gamma"].Decay)
	assert.False(byName["stage3.2.bn2.w32.beta"].Decay)
	assert.True(byName["fc.weight"].Decay)
	assert.False(byName["fc.bias"].Decay)
}

func TestResNet20_StateRoundTrip(t *testing.T) {
	m, err := New("resnet20", []int{2}, 10, 1)
	require.NoError(t, err)

	// Touch BN running stats so the state is not all initial values.
	x := nn.NewTensor(2, 3, 32, 32)
	for i := range x.Data {
		x.Data[i] = float32(i%17) / 17
	}
	require.NoError(t, m.SetPrecision(2))
	m.Forward(x, true)

	state := m.State()

	restored, err := New("resnet20", []int{2}, 10, 99)
	require.NoError(t, err)
	require.NoError(t, restored.LoadState(state, true))
	assert.Equal(t, state, restored.State())
}

func TestResNet20_LoadStateStrict(t *testing.T) {
	m, err := New("resnet20", []int{2}, 10, 1)
	require.NoError(t, err)
	state := m.State()

	// A model with a different bit width list misses the w2 BatchNorms.
	other, err := New("resnet20", []int{4}, 10, 1)
	require.NoError(t, err)

	assert := assert.New(t)
	assert.Error(other.LoadState(state, true))
	assert.NoError(other.LoadState(state, false))

	// Size mismatches fail in both modes.
	state["stem.weight"] = []float32{1, 2, 3}
	assert.Error(m.LoadState(state, false))
}
