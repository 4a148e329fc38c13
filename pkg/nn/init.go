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
	"math/rand"
)

// KaimingNormal fills data with He-normal samples for layers followed by
// ReLU, using the given fan-in.
func KaimingNormal(rng *rand.Rand, data []float32, fanIn int) {
	std := math.Sqrt(2 / float64(fanIn))
	for i := range data {
		data[i] = float32(rng.NormFloat64() * std)
	}
}

// XavierUniform fills data with Glorot-uniform samples.
func XavierUniform(rng *rand.Rand, data []float32, fanIn, fanOut int) {
	bound := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
}
