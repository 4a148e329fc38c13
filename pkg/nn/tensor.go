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

// Package nn implements the float32 numeric core used by the any-precision
// models: dense tensors, differentiable layers and classification losses.
package nn

import "fmt"

// Tensor is a dense float32 tensor. Image batches use NCHW layout.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor returns a zero tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, s := range shape {
		size *= s
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, size),
	}
}

// NewTensorFrom wraps data in a tensor of the given shape.
func NewTensorFrom(data []float32, shape ...int) *Tensor {
	t := &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  data,
	}
	if len(data) != t.Size() {
		panic(fmt.Sprintf("nn: data length %d does not match shape %v", len(data), shape))
	}
	return t
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	size := 1
	for _, s := range t.Shape {
		size *= s
	}
	return size
}

// Dim returns the size of the i-th dimension.
func (t *Tensor) Dim(i int) int {
	return t.Shape[i]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := NewTensor(t.Shape...)
	copy(out.Data, t.Data)
	return out
}

// Zero resets all elements.
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// Param is a trainable parameter with its gradient accumulator.
type Param struct {
	// Name identifies the parameter inside checkpoints.
	Name string

	Data []float32
	Grad []float32

	// Decay marks the parameter as subject to weight decay. BatchNorm
	// affine parameters and biases are excluded.
	Decay bool
}

// NewParam returns a named parameter of the given size.
func NewParam(name string, size int, decay bool) *Param {
	return &Param{
		Name:  name,
		Data:  make([]float32, size),
		Grad:  make([]float32, size),
		Decay: decay,
	}
}

// ZeroGrad resets the gradient accumulator.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// gemm computes C += A * B for row-major A [m x k] and B [k x n].
func gemm(a, b, c []float32, m, k, n int) {
	for i := 0; i < m; i++ {
		ai := i * k
		ci := i * n
		for p := 0; p < k; p++ {
			av := a[ai+p]
			if av == 0 {
				continue
			}
			bp := p * n
			for j := 0; j < n; j++ {
				c[ci+j] += av * b[bp+j]
			}
		}
	}
}

// gemmTA computes C += A^T * B for row-major A [k x m] and B [k x n].
func gemmTA(a, b, c []float32, m, k, n int) {
	for p := 0; p < k; p++ {
		ap := p * m
		bp := p * n
		for i := 0; i < m; i++ {
			av := a[ap+i]
			if av == 0 {
				continue
			}
			ci := i * n
			for j := 0; j < n; j++ {
				c[ci+j] += av * b[bp+j]
			}
		}
	}
}

// gemmTB computes C += A * B^T for row-major A [m x k] and B [n x k].
func gemmTB(a, b, c []float32, m, k, n int) {
	for i := 0; i < m; i++ {
		ai := i * k
		ci := i * n
		for j := 0; j < n; j++ {
			bj := j * k
			var sum float32
			for p := 0; p < k; p++ {
				sum += a[ai+p] * b[bj+p]
			}
			c[ci+j] += sum
		}
	}
}
