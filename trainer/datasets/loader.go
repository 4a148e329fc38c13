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

import (
	"context"
	"math/rand"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/anyprec/anyprec/pkg/nn"
)

// Batch is one mini-batch of examples in NCHW layout.
type Batch struct {
	X *nn.Tensor
	Y []int
}

// Loader assembles mini-batches from a dataset, decoding and
// transforming examples on a bounded worker pool. Batches are delivered
// in order; shuffling and augmentation are derived from the seed and
// epoch, so a run replays identically after a resume.
type Loader struct {
	dataset   Dataset
	transform Transform
	batchSize int
	workers   int
	shuffle   bool
	seed      int64

	samplesLoaded *atomic.Int64
}

// NewLoader returns a loader over the dataset. A nil transform loads
// raw examples.
func NewLoader(dataset Dataset, transform Transform, batchSize, workers int, shuffle bool, seed int64) *Loader {
	if workers < 1 {
		workers = 1
	}
	return &Loader{
		dataset:       dataset,
		transform:     transform,
		batchSize:     batchSize,
		workers:       workers,
		shuffle:       shuffle,
		seed:          seed,
		samplesLoaded: atomic.NewInt64(0),
	}
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

// SamplesLoaded returns the number of examples decoded so far.
func (l *Loader) SamplesLoaded() int64 {
	return l.samplesLoaded.Load()
}

// ForEach iterates the dataset once, invoking fn for every batch in
// order. Iteration stops on the first error or when ctx is canceled.
func (l *Loader) ForEach(ctx context.Context, epoch int, fn func(i int, batch *Batch) error) error {
	n := l.dataset.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		rng := rand.New(rand.NewSource(l.seed + int64(epoch)))
		rng.Shuffle(n, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	c, h, w := l.dataset.Shape()
	imageSize := c * h * w

	for bi := 0; bi*l.batchSize < n; bi++ {
		start := bi * l.batchSize
		end := start + l.batchSize
		if end > n {
			end = n
		}
		indices := order[start:end]

		batch := &Batch{
			X: nn.NewTensor(len(indices), c, h, w),
			Y: make([]int, len(indices)),
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(l.workers)
		for si, di := range indices {
			si, di := si, di
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				img := batch.X.Data[si*imageSize : (si+1)*imageSize]
				label, err := l.dataset.Example(di, img)
				if err != nil {
					return err
				}
				if l.transform != nil {
					rng := rand.New(rand.NewSource(l.seed + int64(epoch)*int64(n) + int64(di)))
					l.transform(rng, img, c, h, w)
				}
				batch.Y[si] = label
				l.samplesLoaded.Inc()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if err := fn(bi, batch); err != nil {
			return err
		}
	}
	return nil
}
