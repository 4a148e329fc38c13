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

// ReLU is the rectified linear activation.
type ReLU struct {
	mask []bool
}

// NewReLU returns a ReLU layer.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward clamps negative values to zero.
func (r *ReLU) Forward(x *Tensor) *Tensor {
	if len(r.mask) != len(x.Data) {
		r.mask = make([]bool, len(x.Data))
	}
	out := NewTensor(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
			r.mask[i] = true
		} else {
			r.mask[i] = false
		}
	}
	return out
}

// Backward passes gradients through positive inputs only.
func (r *ReLU) Backward(grad *Tensor) *Tensor {
	dx := NewTensor(grad.Shape...)
	for i, v := range grad.Data {
		if r.mask[i] {
			dx.Data[i] = v
		}
	}
	return dx
}

// GlobalAvgPool averages each channel plane into a single value,
// flattening [N, C, H, W] into [N, C].
type GlobalAvgPool struct {
	channels int
	height   int
	width    int
	plane    int
}

// NewGlobalAvgPool returns a global average pooling layer.
func NewGlobalAvgPool() *GlobalAvgPool {
	return &GlobalAvgPool{}
}

// Forward reduces the spatial dimensions.
func (g *GlobalAvgPool) Forward(x *Tensor) *Tensor {
	n, c, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	g.channels, g.height, g.width = c, h, w
	g.plane = h * w

	out := NewTensor(n, c)
	inv := 1 / float32(g.plane)
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			base := (i*c + ch) * g.plane
			var sum float32
			for j := 0; j < g.plane; j++ {
				sum += x.Data[base+j]
			}
			out.Data[i*c+ch] = sum * inv
		}
	}
	return out
}

// Backward distributes the gradient uniformly over each plane.
func (g *GlobalAvgPool) Backward(grad *Tensor) *Tensor {
	n := grad.Dim(0)
	dx := NewTensor(n, g.channels, g.height, g.width)
	inv := 1 / float32(g.plane)
	for i := 0; i < n; i++ {
		for ch := 0; ch < g.channels; ch++ {
			v := grad.Data[i*g.channels+ch] * inv
			base := (i*g.channels + ch) * g.plane
			for j := 0; j < g.plane; j++ {
				dx.Data[base+j] = v
			}
		}
	}
	return dx
}
