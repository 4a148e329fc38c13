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

package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftmax(t *testing.T) {
	logits := NewTensorFrom([]float32{0, 0, 1000, 999}, 2, 2)
	probs := Softmax(logits)

	assert := assert.New(t)
	assert.InDelta(0.5, float64(probs.Data[0]), 1e-6)
	assert.InDelta(0.5, float64(probs.Data[1]), 1e-6)

	// Large logits stay finite thanks to max subtraction.
	sum := float64(probs.Data[2] + probs.Data[3])
	assert.InDelta(1, sum, 1e-6)
	assert.Greater(float64(probs.Data[2]), float64(probs.Data[3]))
}

func TestCrossEntropy(t *testing.T) {
	logits := NewTensorFrom([]float32{0, 0, 0, 0}, 2, 2)
	loss, grad := CrossEntropy(logits, []int{0, 1})

	assert := assert.New(t)
	assert.InDelta(math.Log(2), loss, 1e-6)

	// grad = (softmax - onehot) / n.
	assert.InDelta(-0.25, float64(grad.Data[0]), 1e-6)
	assert.InDelta(0.25, float64(grad.Data[1]), 1e-6)
	assert.InDelta(0.25, float64(grad.Data[2]), 1e-6)
	assert.InDelta(-0.25, float64(grad.Data[3]), 1e-6)
}

func TestSoftCrossEntropy(t *testing.T) {
	logits := NewTensorFrom([]float32{0, 0}, 1, 2)
	targets := NewTensorFrom([]float32{1, 0}, 1, 2)

	loss, grad := SoftCrossEntropy(logits, targets)

	assert := assert.New(t)
	assert.InDelta(math.Log(2), loss, 1e-6)
	assert.InDelta(-0.5, float64(grad.Data[0]), 1e-6)
	assert.InDelta(0.5, float64(grad.Data[1]), 1e-6)

	// A one-hot soft target reproduces the hard loss.
	hardLoss, hardGrad := CrossEntropy(logits, []int{0})
	assert.InDelta(hardLoss, loss, 1e-6)
	assert.InDelta(float64(hardGrad.Data[0]), float64(grad.Data[0]), 1e-6)
}

func TestAccuracy(t *testing.T) {
	logits := NewTensorFrom([]float32{
		0.9, 0.05, 0.03, 0.02, // predicts 0
		0.1, 0.2, 0.6, 0.1, // predicts 2
		0.3, 0.4, 0.2, 0.1, // predicts 1
	}, 3, 4)
	targets := []int{0, 1, 2}

	acc := Accuracy(logits, targets, 1, 2)
	require.Len(t, acc, 2)

	assert := assert.New(t)
	assert.InDelta(100.0/3, acc[0], 1e-9)
	assert.InDelta(200.0/3, acc[1], 1e-9)

	// Default is top-1.
	assert.Equal(Accuracy(logits, targets, 1), Accuracy(logits, targets))

	// k larger than the class count caps at all classes.
	assert.InDelta(100, Accuracy(logits, targets, 10)[0], 1e-9)
}
