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

package models

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/anyprec/anyprec/pkg/nn"
	"github.com/anyprec/anyprec/pkg/nn/quant"
)

// State is the flat parameter snapshot of a model, keyed by parameter
// name. Running statistics of BatchNorm layers are included.
type State map[string][]float32

// Model is the interface implemented by any-precision architectures.
type Model interface {
	// Forward computes class logits for a batch.
	Forward(x *nn.Tensor, train bool) *nn.Tensor

	// Backward accumulates parameter gradients for the last forward pass.
	Backward(grad *nn.Tensor)

	// SetPrecision selects the active weight/activation bit width.
	SetPrecision(bits int) error

	// Precision returns the active bit width.
	Precision() int

	// BitWidths returns the supported bit widths in ascending order.
	BitWidths() []int

	// Params returns every trainable parameter.
	Params() []*nn.Param

	// State snapshots all parameters and running statistics.
	State() State

	// LoadState restores a snapshot. Non-strict mode skips missing keys,
	// which lets a full-precision pretrain initialize a quantized model.
	LoadState(state State, strict bool) error

	// NumClasses returns the classifier output width.
	NumClasses() int
}

// Builder constructs a model over the given bit widths.
type Builder func(bitWidths []int, numClasses int, rng *rand.Rand) Model

var builders = map[string]Builder{
	"resnet20": newResNet20,
}

// New constructs a registered model. The full-precision bit width is
// always appended so evaluation and distillation have a 32-bit branch.
func New(name string, bitWidths []int, numClasses int, seed int64) (Model, error) {
	builder, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown model %q", name)
	}
	if len(bitWidths) == 0 {
		return nil, fmt.Errorf("model %q requires at least one bit width", name)
	}

	bws := append([]int(nil), bitWidths...)
	hasFull := false
	for _, bw := range bws {
		if bw == quant.FullPrecision {
			hasFull = true
		}
	}
	if !hasFull {
		bws = append(bws, quant.FullPrecision)
	}
	sort.Ints(bws)

	return builder(bws, numClasses, rand.New(rand.NewSource(seed))), nil
}

// Names returns the registered model names.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
