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

import "math"

const (
	bnEps      = 1e-5
	bnMomentum = 0.1
)

// BatchNorm2D normalizes activations per channel. Any-precision models
// keep one instance per bit width on every normalization site, so the
// running statistics stay calibrated to each precision.
type BatchNorm2D struct {
	Channels int

	Gamma *Param
	Beta  *Param

	// RunningMean and RunningVar track eval-time statistics.
	RunningMean []float32
	RunningVar  []float32

	x      *Tensor
	xhat   []float32
	invStd []float32
}

// NewBatchNorm2D returns an initialized BN layer (gamma=1, beta=0).
func NewBatchNorm2D(name string, channels int) *BatchNorm2D {
	bn := &BatchNorm2D{
		Channels:    channels,
		Gamma:       NewParam(name+".gamma", channels, false),
		Beta:        NewParam(name+".beta", channels, false),
		RunningMean: make([]float32, channels),
		RunningVar:  make([]float32, channels),
	}
	for i := 0; i < channels; i++ {
		bn.Gamma.Data[i] = 1
		bn.RunningVar[i] = 1
	}
	return bn
}

// Forward normalizes x [N, C, H, W]. Training mode uses batch statistics
// and updates the running averages.
func (bn *BatchNorm2D) Forward(x *Tensor, train bool) *Tensor {
	n, h, w := x.Dim(0), x.Dim(2), x.Dim(3)
	plane := h * w
	m := n * plane

	out := NewTensor(x.Shape...)
	if !train {
		for c := 0; c < bn.Channels; c++ {
			invStd := float32(1 / math.Sqrt(float64(bn.RunningVar[c])+bnEps))
			mean := bn.RunningMean[c]
			g, b := bn.Gamma.Data[c], bn.Beta.Data[c]
			for i := 0; i < n; i++ {
				base := (i*bn.Channels + c) * plane
				for j := 0; j < plane; j++ {
					out.Data[base+j] = g*(x.Data[base+j]-mean)*invStd + b
				}
			}
		}
		return out
	}

	bn.x = x
	if len(bn.xhat) != len(x.Data) {
		bn.xhat = make([]float32, len(x.Data))
	}
	if len(bn.invStd) != bn.Channels {
		bn.invStd = make([]float32, bn.Channels)
	}

	for c := 0; c < bn.Channels; c++ {
		var sum float64
		for i := 0; i < n; i++ {
			base := (i*bn.Channels + c) * plane
			for j := 0; j < plane; j++ {
				sum += float64(x.Data[base+j])
			}
		}
		mean := sum / float64(m)

		var sqSum float64
		for i := 0; i < n; i++ {
			base := (i*bn.Channels + c) * plane
			for j := 0; j < plane; j++ {
				d := float64(x.Data[base+j]) - mean
				sqSum += d * d
			}
		}
		variance := sqSum / float64(m)
		invStd := 1 / math.Sqrt(variance+bnEps)
		bn.invStd[c] = float32(invStd)

		g, b := bn.Gamma.Data[c], bn.Beta.Data[c]
		for i := 0; i < n; i++ {
			base := (i*bn.Channels + c) * plane
			for j := 0; j < plane; j++ {
				xh := float32((float64(x.Data[base+j]) - mean) * invStd)
				bn.xhat[base+j] = xh
				out.Data[base+j] = g*xh + b
			}
		}

		bn.RunningMean[c] = (1-bnMomentum)*bn.RunningMean[c] + bnMomentum*float32(mean)
		bn.RunningVar[c] = (1-bnMomentum)*bn.RunningVar[c] + bnMomentum*float32(variance)
	}
	return out
}

// Backward accumulates gamma/beta gradients and returns the input gradient.
func (bn *BatchNorm2D) Backward(grad *Tensor) *Tensor {
	n, h, w := grad.Dim(0), grad.Dim(2), grad.Dim(3)
	plane := h * w
	m := float32(n * plane)

	dx := NewTensor(grad.Shape...)
	for c := 0; c < bn.Channels; c++ {
		var dBeta, dGamma float32
		for i := 0; i < n; i++ {
			base := (i*bn.Channels + c) * plane
			for j := 0; j < plane; j++ {
				dBeta += grad.Data[base+j]
				dGamma += grad.Data[base+j] * bn.xhat[base+j]
			}
		}
		bn.Beta.Grad[c] += dBeta
		bn.Gamma.Grad[c] += dGamma

		scale := bn.Gamma.Data[c] * bn.invStd[c] / m
		for i := 0; i < n; i++ {
			base := (i*bn.Channels + c) * plane
			for j := 0; j < plane; j++ {
				dx.Data[base+j] = scale * (m*grad.Data[base+j] - dBeta - bn.xhat[base+j]*dGamma)
			}
		}
	}
	return dx
}

// Params returns the trainable parameters.
func (bn *BatchNorm2D) Params() []*Param {
	return []*Param{bn.Gamma, bn.Beta}
}
