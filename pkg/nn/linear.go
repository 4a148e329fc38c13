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

// Linear is a fully connected layer, y = x W^T + b.
type Linear struct {
	InFeatures  int
	OutFeatures int

	// Weight is laid out [out, in].
	Weight *Param
	Bias   *Param

	x *Tensor
}

// NewLinear returns a linear layer with zeroed parameters.
func NewLinear(name string, inFeatures, outFeatures int) *Linear {
	return &Linear{
		InFeatures:  inFeatures,
		OutFeatures: outFeatures,
		Weight:      NewParam(name+".weight", outFeatures*inFeatures, true),
		Bias:        NewParam(name+".bias", outFeatures, false),
	}
}

// Forward computes logits for x [N, in].
func (l *Linear) Forward(x *Tensor) *Tensor {
	n := x.Dim(0)
	l.x = x

	out := NewTensor(n, l.OutFeatures)
	for i := 0; i < n; i++ {
		copy(out.Data[i*l.OutFeatures:(i+1)*l.OutFeatures], l.Bias.Data)
	}
	// y += x * W^T
	gemmTB(x.Data, l.Weight.Data, out.Data, n, l.InFeatures, l.OutFeatures)
	return out
}

// Backward accumulates parameter gradients and returns the input gradient.
func (l *Linear) Backward(grad *Tensor) *Tensor {
	n := grad.Dim(0)

	// dW += dy^T * x
	gemmTA(grad.Data, l.x.Data, l.Weight.Grad, l.OutFeatures, n, l.InFeatures)

	for i := 0; i < n; i++ {
		for j := 0; j < l.OutFeatures; j++ {
			l.Bias.Grad[j] += grad.Data[i*l.OutFeatures+j]
		}
	}

	dx := NewTensor(n, l.InFeatures)
	// dx = dy * W
	gemm(grad.Data, l.Weight.Data, dx.Data, n, l.OutFeatures, l.InFeatures)
	return dx
}

// Params returns the trainable parameters.
func (l *Linear) Params() []*Param {
	return []*Param{l.Weight, l.Bias}
}
