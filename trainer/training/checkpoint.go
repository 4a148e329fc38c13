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

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anyprec/anyprec/trainer/models"
	"github.com/anyprec/anyprec/trainer/optimizer"
)

const (
	// CheckpointDirName is the checkpoint directory under the run
	// directory.
	CheckpointDirName = "ckpt"

	// LatestCheckpointName is the file name of the rolling checkpoint.
	LatestCheckpointName = "checkpoint.json"

	// BestCheckpointName is the file name of the best checkpoint.
	BestCheckpointName = "model_best.json"
)

// Checkpoint is the resumable snapshot taken after every epoch.
type Checkpoint struct {
	RunID string `json:"runId"`

	// Epoch is the number of finished epochs. Resuming continues at
	// this epoch index.
	Epoch int `json:"epoch"`

	BestTop1  map[int]float64 `json:"bestTop1"`
	Model     models.State    `json:"model"`
	Optimizer optimizer.State `json:"optimizer"`
}

// SaveCheckpoint writes the rolling checkpoint under dir, and copies it
// to the best checkpoint when best is true. The write goes through a
// temporary file so a crash never leaves a truncated checkpoint.
func SaveCheckpoint(dir string, ckpt *Checkpoint, best bool) error {
	if err := os.MkdirAll(filepath.Join(dir, CheckpointDirName), 0755); err != nil {
		return err
	}

	data, err := json.Marshal(ckpt)
	if err != nil {
		return err
	}

	latest := filepath.Join(dir, CheckpointDirName, LatestCheckpointName)
	if err := writeFileAtomic(latest, data); err != nil {
		return err
	}

	if best {
		return writeFileAtomic(filepath.Join(dir, CheckpointDirName, BestCheckpointName), data)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint file.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var ckpt Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &ckpt, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
