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

package training

// AverageMeter tracks a running weighted average of a metric.
type AverageMeter struct {
	Val   float64
	Sum   float64
	Count int
}

// Update records a value measured over n examples.
func (m *AverageMeter) Update(val float64, n int) {
	m.Val = val
	m.Sum += val * float64(n)
	m.Count += n
}

// Avg returns the weighted average of all recorded values.
func (m *AverageMeter) Avg() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / float64(m.Count)
}

// bitWidthMeters bundles the per-bit-width meters of one pass.
type bitWidthMeters struct {
	Loss AverageMeter
	Top1 AverageMeter
	Top5 AverageMeter
}

func (m *bitWidthMeters) update(loss float64, acc []float64, n int) {
	m.Loss.Update(loss, n)
	m.Top1.Update(acc[0], n)
	m.Top5.Update(acc[1], n)
}

func newMeters(bitWidths []int) map[int]*bitWidthMeters {
	meters := make(map[int]*bitWidthMeters, len(bitWidths))
	for _, bw := range bitWidths {
		meters[bw] = &bitWidthMeters{}
	}
	return meters
}
