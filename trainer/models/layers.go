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
	"sort"

	"github.com/anyprec/anyprec/pkg/nn"
	"github.com/anyprec/anyprec/pkg/nn/quant"
)

// quantConv is a convolution whose weights are quantized to the active
// bit width at forward time. The master weights stay full precision.
type quantConv struct {
	conv *nn.Conv2D
	bits *int
}

func newQuantConv(name string, bits *int, inC, outC, kernel, stride, padding int) *quantConv {
	qc := &quantConv{
		conv: nn.NewConv2D(name, inC, outC, kernel, stride, padding),
		bits: bits,
	}
	qc.conv.Transform = func(dst, src []float32) {
		quant.Weights(dst, src, *bits)
	}
	return qc
}

func (qc *quantConv) Forward(x *nn.Tensor) *nn.Tensor {
	return qc.conv.Forward(x)
}

func (qc *quantConv) Backward(grad *nn.Tensor) *nn.Tensor {
	return qc.conv.Backward(grad)
}

func (qc *quantConv) Params() []*nn.Param {
	return qc.conv.Params()
}

// quantAct quantizes activations to the active bit width. The
// straight-through estimator masks gradients outside the clip range.
type quantAct struct {
	bits *int
	mask []bool
}

func newQuantAct(bits *int) *quantAct {
	return &quantAct{bits: bits}
}

func (qa *quantAct) Forward(x *nn.Tensor) *nn.Tensor {
	out := nn.NewTensor(x.Shape...)
	quant.Activations(out.Data, x.Data, *qa.bits)
	if len(qa.mask) != len(x.Data) {
		qa.mask = make([]bool, len(x.Data))
	}
	quant.PassThroughMask(qa.mask, x.Data, *qa.bits)
	return out
}

func (qa *quantAct) Backward(grad *nn.Tensor) *nn.Tensor {
	dx := nn.NewTensor(grad.Shape...)
	for i, v := range grad.Data {
		if qa.mask[i] {
			dx.Data[i] = v
		}
	}
	return dx
}

// switchBN keeps one BatchNorm per bit width and dispatches on the
// active precision, so each precision trains its own statistics.
type switchBN struct {
	bits   *int
	byBits map[int]*nn.BatchNorm2D
}

func newSwitchBN(name string, bits *int, bitWidths []int, channels int) *switchBN {
	byBits := make(map[int]*nn.BatchNorm2D, len(bitWidths))
	for _, bw := range bitWidths {
		byBits[bw] = nn.NewBatchNorm2D(fmt.Sprintf("%s.w%d", name, bw), channels)
	}
	return &switchBN{bits: bits, byBits: byBits}
}

func (s *switchBN) Forward(x *nn.Tensor, train bool) *nn.Tensor {
	return s.byBits[*s.bits].Forward(x, train)
}

func (s *switchBN) Backward(grad *nn.Tensor) *nn.Tensor {
	return s.byBits[*s.bits].Backward(grad)
}

func (s *switchBN) Params() []*nn.Param {
	var params []*nn.Param
	for _, bw := range sortedKeys(s.byBits) {
		params = append(params, s.byBits[bw].Params()...)
	}
	return params
}

func (s *switchBN) each(f func(bn *nn.BatchNorm2D)) {
	for _, bw := range sortedKeys(s.byBits) {
		f(s.byBits[bw])
	}
}

func sortedKeys(m map[int]*nn.BatchNorm2D) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
