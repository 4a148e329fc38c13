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

package datasets

import "math/rand"

// Transform mutates a CHW image in place. The rng drives any random
// augmentation, so a fixed seed reproduces the exact pixel stream.
type Transform func(rng *rand.Rand, img []float32, c, h, w int)

// Compose applies transforms left to right.
func Compose(transforms ...Transform) Transform {
	return func(rng *rand.Rand, img []float32, c, h, w int) {
		for _, t := range transforms {
			t(rng, img, c, h, w)
		}
	}
}

// Normalize standardizes each channel with the given mean and standard
// deviation.
func Normalize(mean, std []float32) Transform {
	return func(rng *rand.Rand, img []float32, c, h, w int) {
		plane := h * w
		for ch := 0; ch < c; ch++ {
			m, s := mean[ch], std[ch]
			off := ch * plane
			for i := 0; i < plane; i++ {
				img[off+i] = (img[off+i] - m) / s
			}
		}
	}
}

// RandomHorizontalFlip mirrors the image left to right with probability
// one half.
func RandomHorizontalFlip() Transform {
	return func(rng *rand.Rand, img []float32, c, h, w int) {
		if rng.Intn(2) == 0 {
			return
		}
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h; y++ {
				row := (ch*h + y) * w
				for x := 0; x < w/2; x++ {
					img[row+x], img[row+w-1-x] = img[row+w-1-x], img[row+x]
				}
			}
		}
	}
}

// RandomCrop zero-pads the image by the given margin and crops a random
// window back to the original size.
func RandomCrop(padding int) Transform {
	return func(rng *rand.Rand, img []float32, c, h, w int) {
		ph, pw := h+2*padding, w+2*padding
		padded := make([]float32, c*ph*pw)
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h; y++ {
				src := (ch*h + y) * w
				dst := (ch*ph+y+padding)*pw + padding
				copy(padded[dst:dst+w], img[src:src+w])
			}
		}

		offY := rng.Intn(2*padding + 1)
		offX := rng.Intn(2*padding + 1)
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h; y++ {
				src := (ch*ph+y+offY)*pw + offX
				dst := (ch*h + y) * w
				copy(img[dst:dst+w], padded[src:src+w])
			}
		}
	}
}

// CIFAR-10 channel statistics, computed over the training split.
var (
	cifarMean = []float32{0.4914, 0.4822, 0.4465}
	cifarStd  = []float32{0.2023, 0.1994, 0.2010}
)

// TrainTransform returns the augmentation pipeline of the training
// split: pad-and-crop, horizontal flip, then normalization.
func TrainTransform() Transform {
	return Compose(
		RandomCrop(4),
		RandomHorizontalFlip(),
		Normalize(cifarMean, cifarStd),
	)
}

// EvalTransform returns the deterministic evaluation pipeline.
func EvalTransform() Transform {
	return Normalize(cifarMean, cifarStd)
}
