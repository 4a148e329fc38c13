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
	"fmt"
	"os"
	"path/filepath"
)

const (
	cifarChannels = 3
	cifarSide     = 32
	cifarClasses  = 10

	// Each record is one label byte followed by the red, green and blue
	// planes of a 32x32 image.
	cifarImageSize  = cifarChannels * cifarSide * cifarSide
	cifarRecordSize = 1 + cifarImageSize

	cifarBatchDir = "cifar-10-batches-bin"
)

var cifarTrainFiles = []string{
	"data_batch_1.bin",
	"data_batch_2.bin",
	"data_batch_3.bin",
	"data_batch_4.bin",
	"data_batch_5.bin",
}

var cifarTestFiles = []string{"test_batch.bin"}

// cifar10 holds the raw records of one split in memory.
type cifar10 struct {
	split  Split
	labels []int
	images []byte
}

func newCIFAR10(dir string, split Split) (Dataset, error) {
	// Accept either the extracted archive directory or its parent.
	base := dir
	if _, err := os.Stat(filepath.Join(dir, cifarBatchDir)); err == nil {
		base = filepath.Join(dir, cifarBatchDir)
	}

	files := cifarTrainFiles
	if split == SplitTest {
		files = cifarTestFiles
	}

	ds := &cifar10{split: split}
	for _, name := range files {
		if err := ds.loadFile(filepath.Join(base, name)); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func (ds *cifar10) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read cifar10 batch: %w", err)
	}
	if len(data) == 0 || len(data)%cifarRecordSize != 0 {
		return fmt.Errorf("cifar10 batch %s has invalid size %d", path, len(data))
	}

	for off := 0; off < len(data); off += cifarRecordSize {
		label := int(data[off])
		if label >= cifarClasses {
			return fmt.Errorf("cifar10 batch %s has invalid label %d", path, label)
		}
		ds.labels = append(ds.labels, label)
		ds.images = append(ds.images, data[off+1:off+cifarRecordSize]...)
	}
	return nil
}

func (ds *cifar10) Name() string {
	return "cifar10"
}

func (ds *cifar10) Len() int {
	return len(ds.labels)
}

func (ds *cifar10) NumClasses() int {
	return cifarClasses
}

func (ds *cifar10) Shape() (c, h, w int) {
	return cifarChannels, cifarSide, cifarSide
}

func (ds *cifar10) Example(i int, img []float32) (int, error) {
	if i < 0 || i >= len(ds.labels) {
		return 0, fmt.Errorf("cifar10 example %d out of range [0, %d)", i, len(ds.labels))
	}
	if len(img) != cifarImageSize {
		return 0, fmt.Errorf("cifar10 image buffer has size %d, want %d", len(img), cifarImageSize)
	}

	raw := ds.images[i*cifarImageSize : (i+1)*cifarImageSize]
	for j, v := range raw {
		img[j] = float32(v) / 255
	}
	return ds.labels[i], nil
}
