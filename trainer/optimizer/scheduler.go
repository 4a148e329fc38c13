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

package optimizer

import "math"

// MultiStepLR decays the base learning rate by gamma at each milestone
// epoch. The rate is a pure function of the epoch, so resuming from a
// checkpoint needs no replay.
type MultiStepLR struct {
	base       float64
	gamma      float64
	milestones []int
}

func NewMultiStepLR(base, gamma float64, milestones []int) *MultiStepLR {
	return &MultiStepLR{
		base:       base,
		gamma:      gamma,
		milestones: append([]int(nil), milestones...),
	}
}

// LRAt returns the learning rate for the given epoch.
func (s *MultiStepLR) LRAt(epoch int) float64 {
	passed := 0
	for _, m := range s.milestones {
		if epoch >= m {
			passed++
		}
	}
	return s.base * math.Pow(s.gamma, float64(passed))
}

// Apply sets the optimizer learning rate for the given epoch and
// returns the value applied.
func (s *MultiStepLR) Apply(o Optimizer, epoch int) float64 {
	lr := s.LRAt(epoch)
	o.SetLR(lr)
	return lr
}
