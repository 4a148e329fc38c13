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

// Package datasets loads image classification datasets from local files
// and batches them for training.
package datasets

import (
	"fmt"
	"sort"

	"github.com/anyprec/anyprec/trainer/config"
)

// Split selects the partition of a dataset.
type Split string

const (
	SplitTrain Split = "train"
	SplitTest  Split = "test"
)

// Dataset is an in-memory image classification dataset.
type Dataset interface {
	// Name returns the dataset name.
	Name() string

	// Len returns the number of examples.
	Len() int

	// NumClasses returns the number of target classes.
	NumClasses() int

	// Shape returns the image dimensions as channels, height, width.
	Shape() (c, h, w int)

	// Example decodes example i into img as CHW float32 in [0, 1] and
	// returns its label. img must hold c*h*w elements.
	Example(i int, img []float32) (int, error)
}

type builder func(dir string, split Split) (Dataset, error)

var builders = map[string]builder{
	"cifar10": newCIFAR10,
}

// New opens the configured dataset split.
func New(cfg config.DatasetConfig, split Split) (Dataset, error) {
	b, ok := builders[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q", cfg.Name)
	}
	switch split {
	case SplitTrain, SplitTest:
	default:
		return nil, fmt.Errorf("unknown split %q", split)
	}
	return b(cfg.Dir, split)
}

// Names returns the registered dataset names.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
