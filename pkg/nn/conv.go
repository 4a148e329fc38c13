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

// WeightTransform rewrites the weight buffer seen by a forward pass,
// leaving the master weights untouched. Quantizers plug in here; the
// straight-through estimator routes gradients back to the master weights.
type WeightTransform func(dst, src []float32)

// Conv2D is a 2D convolution without bias, computed through im2col.
type Conv2D struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int

	// Weight holds the master weights, laid out [outC, inC*k*k].
	Weight *Param

	// Transform is applied to the master weights before each forward
	// pass. Nil means full precision.
	Transform WeightTransform

	wEff  []float32
	cols  []float32
	batch int
	inH   int
	inW   int
	outH  int
	outW  int
}

// NewConv2D returns a conv layer with zeroed weights. Callers initialize
// weights through the init helpers.
func NewConv2D(name string, inChannels, outChannels, kernelSize, stride, padding int) *Conv2D {
	return &Conv2D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelSize:  kernelSize,
		Stride:      stride,
		Padding:     padding,
		Weight:      NewParam(name+".weight", outChannels*inChannels*kernelSize*kernelSize, true),
		wEff:        make([]float32, outChannels*inChannels*kernelSize*kernelSize),
	}
}

// Forward computes the convolution of x [N, inC, H, W].
func (c *Conv2D) Forward(x *Tensor) *Tensor {
	n, inH, inW := x.Dim(0), x.Dim(2), x.Dim(3)
	k := c.KernelSize
	outH := (inH+2*c.Padding-k)/c.Stride + 1
	outW := (inW+2*c.Padding-k)/c.Stride + 1

	c.batch, c.inH, c.inW, c.outH, c.outW = n, inH, inW, outH, outW

	if c.Transform != nil {
		c.Transform(c.wEff, c.Weight.Data)
	} else {
		copy(c.wEff, c.Weight.Data)
	}

	colRows := c.InChannels * k * k
	colCols := outH * outW
	if len(c.cols) != n*colRows*colCols {
		c.cols = make([]float32, n*colRows*colCols)
	}

	out := NewTensor(n, c.OutChannels, outH, outW)
	for i := 0; i < n; i++ {
		col := c.cols[i*colRows*colCols : (i+1)*colRows*colCols]
		im2col(x.Data[i*c.InChannels*inH*inW:(i+1)*c.InChannels*inH*inW], col, c.InChannels, inH, inW, k, c.Stride, c.Padding, outH, outW)
		dst := out.Data[i*c.OutChannels*colCols : (i+1)*c.OutChannels*colCols]
		gemm(c.wEff, col, dst, c.OutChannels, colRows, colCols)
	}
	return out
}

// Backward accumulates weight gradients and returns the input gradient.
func (c *Conv2D) Backward(grad *Tensor) *Tensor {
	k := c.KernelSize
	colRows := c.InChannels * k * k
	colCols := c.outH * c.outW

	dx := NewTensor(c.batch, c.InChannels, c.inH, c.inW)
	dcol := make([]float32, colRows*colCols)
	for i := 0; i < c.batch; i++ {
		col := c.cols[i*colRows*colCols : (i+1)*colRows*colCols]
		dy := grad.Data[i*c.OutChannels*colCols : (i+1)*c.OutChannels*colCols]

		// dW += dy * col^T
		gemmTB(dy, col, c.Weight.Grad, c.OutChannels, colCols, colRows)

		// dcol = W^T * dy, with the effective weights of the forward pass.
		for j := range dcol {
			dcol[j] = 0
		}
		gemmTA(c.wEff, dy, dcol, colRows, c.OutChannels, colCols)
		col2im(dcol, dx.Data[i*c.InChannels*c.inH*c.inW:(i+1)*c.InChannels*c.inH*c.inW], c.InChannels, c.inH, c.inW, k, c.Stride, c.Padding, c.outH, c.outW)
	}
	return dx
}

// Params returns the trainable parameters.
func (c *Conv2D) Params() []*Param {
	return []*Param{c.Weight}
}

func im2col(img, col []float32, channels, inH, inW, k, stride, pad, outH, outW int) {
	idx := 0
	for ch := 0; ch < channels; ch++ {
		base := ch * inH * inW
		for ky := 0; ky < k; ky++ {
			for kx := 0; kx < k; kx++ {
				for oy := 0; oy < outH; oy++ {
					iy := oy*stride + ky - pad
					for ox := 0; ox < outW; ox++ {
						ix := ox*stride + kx - pad
						if iy < 0 || iy >= inH || ix < 0 || ix >= inW {
							col[idx] = 0
						} else {
							col[idx] = img[base+iy*inW+ix]
						}
						idx++
					}
				}
			}
		}
	}
}

func col2im(col, img []float32, channels, inH, inW, k, stride, pad, outH, outW int) {
	idx := 0
	for ch := 0; ch < channels; ch++ {
		base := ch * inH * inW
		for ky := 0; ky < k; ky++ {
			for kx := 0; kx < k; kx++ {
				for oy := 0; oy < outH; oy++ {
					iy := oy*stride + ky - pad
					for ox := 0; ox < outW; ox++ {
						ix := ox*stride + kx - pad
						if iy >= 0 && iy < inH && ix >= 0 && ix < inW {
							img[base+iy*inW+ix] += col[idx]
						}
						idx++
					}
				}
			}
		}
	}
}
