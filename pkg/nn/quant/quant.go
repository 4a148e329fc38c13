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

// Package quant implements DoReFa-style uniform quantizers for weights
// and activations. Gradients flow through the straight-through estimator,
// so quantization only affects forward passes.
package quant

import "math"

// FullPrecision is the bit width treated as the identity quantizer.
const FullPrecision = 32

// Levels returns the number of quantization steps of a k-bit uniform
// quantizer, 2^k - 1.
func Levels(bits int) float32 {
	return float32(math.Exp2(float64(bits)) - 1)
}

// quantizeUnit rounds v in [0, 1] to the nearest of 2^k uniform levels.
func quantizeUnit(v float32, levels float32) float32 {
	return float32(math.Round(float64(v*levels))) / levels
}

// Weights writes the k-bit quantization of src into dst. Weights are
// normalized through tanh into [0, 1], quantized uniformly and mapped
// back to [-1, 1]. 32 bits copies src unchanged.
func Weights(dst, src []float32, bits int) {
	if bits >= FullPrecision {
		copy(dst, src)
		return
	}

	var maxAbs float64
	for _, v := range src {
		t := math.Abs(math.Tanh(float64(v)))
		if t > maxAbs {
			maxAbs = t
		}
	}
	if maxAbs == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}

	levels := Levels(bits)
	for i, v := range src {
		unit := float32(math.Tanh(float64(v))/(2*maxAbs)) + 0.5
		dst[i] = 2*quantizeUnit(unit, levels) - 1
	}
}

// Activations writes the k-bit quantization of src into dst. Inputs are
// clipped to [0, 1] before uniform rounding. 32 bits copies src unchanged.
func Activations(dst, src []float32, bits int) {
	if bits >= FullPrecision {
		copy(dst, src)
		return
	}

	levels := Levels(bits)
	for i, v := range src {
		switch {
		case v <= 0:
			dst[i] = 0
		case v >= 1:
			dst[i] = 1
		default:
			dst[i] = quantizeUnit(v, levels)
		}
	}
}

// PassThroughMask reports, per element, whether the straight-through
// estimator passes the activation gradient: inside the clip range only.
func PassThroughMask(dst []bool, src []float32, bits int) {
	if bits >= FullPrecision {
		for i := range dst {
			dst[i] = true
		}
		return
	}
	for i, v := range src {
		dst[i] = v >= 0 && v <= 1
	}
}
