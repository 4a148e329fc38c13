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

	"github.com/anyprec/anyprec/pkg/nn"
	"github.com/anyprec/anyprec/pkg/nn/quant"
)

// resNet is the CIFAR ResNet-20 of any-precision training: quantized
// block convolutions sharing full-precision master weights, one BatchNorm
// per bit width on every normalization site, full-precision stem and
// classifier.
type resNet struct {
	bitWidths  []int
	numClasses int
	active     int

	stem     *nn.Conv2D
	stemBN   *switchBN
	stemReLU *nn.ReLU
	stages   [][]*basicBlock
	pool     *nn.GlobalAvgPool
	fc       *nn.Linear

	params []*nn.Param
}

// basicBlock is the two-conv residual block with an identity shortcut.
// Channel increases use the zero-padded, stride-2 subsampled shortcut.
type basicBlock struct {
	inC, outC, stride int

	act1  *quantAct
	conv1 *quantConv
	bn1   *switchBN
	relu1 *nn.ReLU
	act2  *quantAct
	conv2 *quantConv
	bn2   *switchBN
	relu2 *nn.ReLU

	x *nn.Tensor
}

func newResNet20(bitWidths []int, numClasses int, rng *rand.Rand) Model {
	m := &resNet{
		bitWidths:  bitWidths,
		numClasses: numClasses,
		active:     quant.FullPrecision,
	}

	m.stem = nn.NewConv2D("stem", 3, 16, 3, 1, 1)
	nn.KaimingNormal(rng, m.stem.Weight.Data, 3*3*3)
	m.stemBN = newSwitchBN("stem.bn", &m.active, bitWidths, 16)
	m.stemReLU = nn.NewReLU()

	widths := []int{16, 32, 64}
	inC := 16
	for si, outC := range widths {
		var blocks []*basicBlock
		for bi := 0; bi < 3; bi++ {
			stride := 1
			if si > 0 && bi == 0 {
				stride = 2
			}
			name := fmt.Sprintf("stage%d.%d", si+1, bi)
			blocks = append(blocks, newBasicBlock(name, &m.active, bitWidths, inC, outC, stride, rng))
			inC = outC
		}
		m.stages = append(m.stages, blocks)
	}

	m.pool = nn.NewGlobalAvgPool()
	m.fc = nn.NewLinear("fc", 64, numClasses)
	nn.XavierUniform(rng, m.fc.Weight.Data, 64, numClasses)

	m.params = append(m.params, m.stem.Params()...)
	m.params = append(m.params, m.stemBN.Params()...)
	for _, blocks := range m.stages {
		for _, blk := range blocks {
			m.params = append(m.params, blk.parameters()...)
		}
	}
	m.params = append(m.params, m.fc.Params()...)

	return m
}

func newBasicBlock(name string, bits *int, bitWidths []int, inC, outC, stride int, rng *rand.Rand) *basicBlock {
	blk := &basicBlock{
		inC:    inC,
		outC:   outC,
		stride: stride,
		act1:   newQuantAct(bits),
		conv1:  newQuantConv(name+".conv1", bits, inC, outC, 3, stride, 1),
		bn1:    newSwitchBN(name+".bn1", bits, bitWidths, outC),
		relu1:  nn.NewReLU(),
		act2:   newQuantAct(bits),
		conv2:  newQuantConv(name+".conv2", bits, outC, outC, 3, 1, 1),
		bn2:    newSwitchBN(name+".bn2", bits, bitWidths, outC),
		relu2:  nn.NewReLU(),
	}
	nn.KaimingNormal(rng, blk.conv1.conv.Weight.Data, inC*3*3)
	nn.KaimingNormal(rng, blk.conv2.conv.Weight.Data, outC*3*3)
	return blk
}

func (m *resNet) Forward(x *nn.Tensor, train bool) *nn.Tensor {
	h := m.stemReLU.Forward(m.stemBN.Forward(m.stem.Forward(x), train))
	for _, blocks := range m.stages {
		for _, blk := range blocks {
			h = blk.forward(h, train)
		}
	}
	return m.fc.Forward(m.pool.Forward(h))
}

func (m *resNet) Backward(grad *nn.Tensor) {
	g := m.pool.Backward(m.fc.Backward(grad))
	for si := len(m.stages) - 1; si >= 0; si-- {
		blocks := m.stages[si]
		for bi := len(blocks) - 1; bi >= 0; bi-- {
			g = blocks[bi].backward(g)
		}
	}
	m.stem.Backward(m.stemBN.Backward(m.stemReLU.Backward(g)))
}

func (m *resNet) SetPrecision(bits int) error {
	for _, bw := range m.bitWidths {
		if bw == bits {
			m.active = bits
			return nil
		}
	}
	return fmt.Errorf("model does not support bit width %d", bits)
}

func (m *resNet) Precision() int {
	return m.active
}

func (m *resNet) BitWidths() []int {
	return append([]int(nil), m.bitWidths...)
}

func (m *resNet) Params() []*nn.Param {
	return m.params
}

func (m *resNet) NumClasses() int {
	return m.numClasses
}

func (m *resNet) State() State {
	state := make(State, 2*len(m.params))
	for _, p := range m.params {
		state[p.Name] = append([]float32(nil), p.Data...)
	}
	m.eachBN(func(bn *nn.BatchNorm2D) {
		state[bn.Gamma.Name+".running_mean"] = append([]float32(nil), bn.RunningMean...)
		state[bn.Gamma.Name+".running_var"] = append([]float32(nil), bn.RunningVar...)
	})
	return state
}

func (m *resNet) LoadState(state State, strict bool) error {
	load := func(name string, dst []float32) error {
		src, ok := state[name]
		if !ok {
			if strict {
				return fmt.Errorf("missing parameter %q", name)
			}
			return nil
		}
		if len(src) != len(dst) {
			return fmt.Errorf("parameter %q has size %d, want %d", name, len(src), len(dst))
		}
		copy(dst, src)
		return nil
	}

	for _, p := range m.params {
		if err := load(p.Name, p.Data); err != nil {
			return err
		}
	}

	var err error
	m.eachBN(func(bn *nn.BatchNorm2D) {
		if err != nil {
			return
		}
		if e := load(bn.Gamma.Name+".running_mean", bn.RunningMean); e != nil {
			err = e
			return
		}
		if e := load(bn.Gamma.Name+".running_var", bn.RunningVar); e != nil {
			err = e
		}
	})
	return err
}

func (m *resNet) eachBN(f func(bn *nn.BatchNorm2D)) {
	m.stemBN.each(f)
	for _, blocks := range m.stages {
		for _, blk := range blocks {
			blk.bn1.each(f)
			blk.bn2.each(f)
		}
	}
}

func (blk *basicBlock) forward(x *nn.Tensor, train bool) *nn.Tensor {
	blk.x = x

	h := blk.relu1.Forward(blk.bn1.Forward(blk.conv1.Forward(blk.act1.Forward(x)), train))
	z := blk.bn2.Forward(blk.conv2.Forward(blk.act2.Forward(h)), train)

	s := blk.shortcut(x)
	for i := range z.Data {
		z.Data[i] += s.Data[i]
	}
	return blk.relu2.Forward(z)
}

func (blk *basicBlock) backward(grad *nn.Tensor) *nn.Tensor {
	dpre := blk.relu2.Backward(grad)

	dh := blk.act2.Backward(blk.conv2.Backward(blk.bn2.Backward(dpre)))
	dx := blk.act1.Backward(blk.conv1.Backward(blk.bn1.Backward(blk.relu1.Backward(dh))))

	ds := blk.shortcutBackward(dpre)
	for i := range dx.Data {
		dx.Data[i] += ds.Data[i]
	}
	return dx
}

// shortcut subsamples by stride and zero-pads new channels, so blocks
// with a channel increase stay parameter free.
func (blk *basicBlock) shortcut(x *nn.Tensor) *nn.Tensor {
	if blk.stride == 1 && blk.inC == blk.outC {
		return x
	}

	n, h, w := x.Dim(0), x.Dim(2), x.Dim(3)
	outH, outW := (h+blk.stride-1)/blk.stride, (w+blk.stride-1)/blk.stride
	out := nn.NewTensor(n, blk.outC, outH, outW)
	for i := 0; i < n; i++ {
		for c := 0; c < blk.inC; c++ {
			src := (i*blk.inC + c) * h * w
			dst := (i*blk.outC + c) * outH * outW
			for y := 0; y < outH; y++ {
				for xx := 0; xx < outW; xx++ {
					out.Data[dst+y*outW+xx] = x.Data[src+(y*blk.stride)*w+xx*blk.stride]
				}
			}
		}
	}
	return out
}

func (blk *basicBlock) shortcutBackward(grad *nn.Tensor) *nn.Tensor {
	if blk.stride == 1 && blk.inC == blk.outC {
		return grad
	}

	n, h, w := blk.x.Dim(0), blk.x.Dim(2), blk.x.Dim(3)
	outH, outW := grad.Dim(2), grad.Dim(3)
	dx := nn.NewTensor(n, blk.inC, h, w)
	for i := 0; i < n; i++ {
		for c := 0; c < blk.inC; c++ {
			src := (i*blk.outC + c) * outH * outW
			dst := (i*blk.inC + c) * h * w
			for y := 0; y < outH; y++ {
				for xx := 0; xx < outW; xx++ {
					dx.Data[dst+(y*blk.stride)*w+xx*blk.stride] = grad.Data[src+y*outW+xx]
				}
			}
		}
	}
	return dx
}

func (blk *basicBlock) parameters() []*nn.Param {
	var params []*nn.Param
	params = append(params, blk.conv1.Params()...)
	params = append(params, blk.bn1.Params()...)
	params = append(params, blk.conv2.Params()...)
	params = append(params, blk.bn2.Params()...)
	return params
}
