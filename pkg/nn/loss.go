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
	"sort"
)

// Softmax returns row-wise softmax probabilities of logits [N, C].
func Softmax(logits *Tensor) *Tensor {
	n, c := logits.Dim(0), logits.Dim(1)
	out := NewTensor(n, c)
	for i := 0; i < n; i++ {
		row := logits.Data[i*c : (i+1)*c]
		dst := out.Data[i*c : (i+1)*c]
		softmaxRow(row, dst)
	}
	return out
}

func softmaxRow(row, dst []float32) {
	maxLogit := row[0]
	for _, v := range row {
		if v > maxLogit {
			maxLogit = v
		}
	}
	var sum float64
	for j, v := range row {
		e := math.Exp(float64(v - maxLogit))
		dst[j] = float32(e)
		sum += e
	}
	inv := float32(1 / sum)
	for j := range dst {
		dst[j] *= inv
	}
}

// CrossEntropy computes mean softmax cross-entropy against integer
// targets and the gradient with respect to the logits.
func CrossEntropy(logits *Tensor, targets []int) (float64, *Tensor) {
	n, c := logits.Dim(0), logits.Dim(1)
	probs := Softmax(logits)

	var loss float64
	grad := NewTensor(n, c)
	invN := float32(1) / float32(n)
	for i := 0; i < n; i++ {
		row := probs.Data[i*c : (i+1)*c]
		t := targets[i]
		loss += -math.Log(math.Max(float64(row[t]), 1e-12))
		dst := grad.Data[i*c : (i+1)*c]
		for j, p := range row {
			dst[j] = p * invN
		}
		dst[t] -= invN
	}
	return loss / float64(n), grad
}

// SoftCrossEntropy computes mean cross-entropy against soft probability
// targets [N, C] and the gradient with respect to the logits. This is the
// distillation loss of any-precision training: lower bit widths are
// supervised by the softmax output of the previous precision.
func SoftCrossEntropy(logits, targets *Tensor) (float64, *Tensor) {
	n, c := logits.Dim(0), logits.Dim(1)
	probs := Softmax(logits)

	var loss float64
	grad := NewTensor(n, c)
	invN := float32(1) / float32(n)
	for i := 0; i < n; i++ {
		row := probs.Data[i*c : (i+1)*c]
		tgt := targets.Data[i*c : (i+1)*c]
		dst := grad.Data[i*c : (i+1)*c]
		for j := 0; j < c; j++ {
			loss += -float64(tgt[j]) * math.Log(math.Max(float64(row[j]), 1e-12))
			dst[j] = (row[j] - tgt[j]) * invN
		}
	}
	return loss / float64(n), grad
}

// Accuracy returns the top-k accuracies in percent for each requested k.
func Accuracy(logits *Tensor, targets []int, topk ...int) []float64 {
	n, c := logits.Dim(0), logits.Dim(1)
	if len(topk) == 0 {
		topk = []int{1}
	}

	hits := make([]int, len(topk))
	order := make([]int, c)
	for i := 0; i < n; i++ {
		row := logits.Data[i*c : (i+1)*c]
		for j := range order {
			order[j] = j
		}
		sort.Slice(order, func(a, b int) bool {
			return row[order[a]] > row[order[b]]
		})
		for ki, k := range topk {
			for j := 0; j < k && j < c; j++ {
				if order[j] == targets[i] {
					hits[ki]++
					break
				}
			}
		}
	}

	out := make([]float64, len(topk))
	for ki := range topk {
		out[ki] = 100 * float64(hits[ki]) / float64(n)
	}
	return out
}
