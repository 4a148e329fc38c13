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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyprec/anyprec/trainer/config"
	"github.com/anyprec/anyprec/trainer/models"
	"github.com/anyprec/anyprec/trainer/optimizer"
	"github.com/anyprec/anyprec/trainer/storage"
)

func TestAverageMeter(t *testing.T) {
	var m AverageMeter
	assert := assert.New(t)
	assert.Equal(0.0, m.Avg())

	m.Update(2, 1)
	m.Update(4, 3)
	assert.Equal(4.0, m.Val)
	assert.InDelta(3.5, m.Avg(), 1e-9)
	assert.Equal(4, m.Count)
}

func TestCheckpoint_SaveLoad(t *testing.T) {
	dir := t.TempDir()

	model, err := models.New("resnet20", []int{2}, 10, 1)
	require.NoError(t, err)

	ckpt := &Checkpoint{
		RunID:    "run",
		Epoch:    3,
		BestTop1: map[int]float64{2: 41.5, 32: 60.25},
		Model:    model.State(),
		Optimizer: optimizer.State{
			LR:      0.01,
			Step:    100,
			Buffers: map[string][][]float32{"w": {{1, 2}}},
		},
	}

	require.NoError(t, SaveCheckpoint(dir, ckpt, true))

	assert := assert.New(t)
	for _, name := range []string{LatestCheckpointName, BestCheckpointName} {
		loaded, err := LoadCheckpoint(filepath.Join(dir, CheckpointDirName, name))
		assert.NoError(err)
		assert.Equal(ckpt.RunID, loaded.RunID)
		assert.Equal(ckpt.Epoch, loaded.Epoch)
		assert.Equal(ckpt.BestTop1, loaded.BestTop1)
		assert.Equal(ckpt.Model, loaded.Model)
		assert.Equal(ckpt.Optimizer, loaded.Optimizer)
	}

	// Without best, the best checkpoint is left untouched.
	ckpt.Epoch = 4
	require.NoError(t, SaveCheckpoint(dir, ckpt, false))
	best, err := LoadCheckpoint(filepath.Join(dir, CheckpointDirName, BestCheckpointName))
	assert.NoError(err)
	assert.Equal(3, best.Epoch)

	_, err = LoadCheckpoint(filepath.Join(dir, "missing.json"))
	assert.Error(err)
}

// writeCIFARDataset writes a synthetic dataset in the cifar binary
// layout, with perFile records per batch file.
func writeCIFARDataset(t *testing.T, dir string, perFile int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))

	const recordSize = 1 + 3*32*32
	files := []string{
		"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin",
		"data_batch_4.bin", "data_batch_5.bin", "test_batch.bin",
	}
	for fi, name := range files {
		data := make([]byte, perFile*recordSize)
		for r := 0; r < perFile; r++ {
			off := r * recordSize
			data[off] = byte((fi + r) % 10)
			for p := 1; p < recordSize; p++ {
				data[off+p] = byte((fi*31 + r*17 + p) % 256)
			}
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	}
}

func testConfig(t *testing.T) *config.Config {
	dataDir := filepath.Join(t.TempDir(), "data")
	writeCIFARDataset(t, dataDir, 2)
	return testConfigWithData(t, dataDir)
}

func testConfigWithData(t *testing.T, dataDir string) *config.Config {
	cfg := config.New()
	cfg.Run.ResultsDir = t.TempDir()
	cfg.Run.Seed = 1
	cfg.Run.Report = true
	cfg.Model.BitWidthList = "2"
	cfg.Dataset.Dir = dataDir
	cfg.Dataset.Workers = 2
	cfg.Dataset.BatchSize = 5
	cfg.Train.Epochs = 1
	cfg.Train.PrintFreq = 100
	require.NoError(t, cfg.Convert())
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestTraining_Serve(t *testing.T) {
	cfg := testConfig(t)
	store := storage.New(cfg.Run.ResultsDir)

	job, err := New(cfg, store)
	require.NoError(t, err)
	require.NoError(t, job.Serve(context.Background()))

	assert := assert.New(t)
	assert.FileExists(filepath.Join(cfg.Run.ResultsDir, CheckpointDirName, LatestCheckpointName))
	assert.FileExists(filepath.Join(cfg.Run.ResultsDir, CheckpointDirName, BestCheckpointName))

	records, err := store.ListEpochRecords()
	assert.NoError(err)
	// One train and one test record per bit width, 2 and 32.
	assert.Len(records, 4)

	summary, err := store.CreateSummary("2_1", "baselines")
	assert.NoError(err)
	assert.Len(summary.BitWidths, 2)
	assert.Equal(1, summary.Epochs)
}

func TestTraining_TrainSplitEvalMode(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	writeCIFARDataset(t, dataDir, 2)

	cfg := testConfigWithData(t, dataDir)
	store := storage.New(cfg.Run.ResultsDir)

	job, err := New(cfg, store)
	require.NoError(t, err)
	require.NoError(t, job.Serve(context.Background()))

	records, err := store.ListEpochRecords()
	require.NoError(t, err)

	// Replay the epoch on an identically seeded job. The train split
	// history must match an eval mode pass over the train loader after
	// the epoch, not the meters of the training pass itself.
	replayJob, err := New(testConfigWithData(t, dataDir), storage.New(t.TempDir()))
	require.NoError(t, err)
	replay := replayJob.(*training)

	require.NoError(t, replay.trainEpoch(context.Background(), 0))
	want, err := replay.evaluate(context.Background(), 0, replay.trainLoader)
	require.NoError(t, err)

	var checked int
	for _, r := range records {
		if r.Split != "train" {
			continue
		}
		m := want[r.BitWidth]
		require.NotNil(t, m, "bit width %d", r.BitWidth)
		assert.InDelta(t, m.Loss.Avg(), r.Loss, 1e-9, "bit width %d loss", r.BitWidth)
		assert.InDelta(t, m.Top1.Avg(), r.Top1, 1e-9, "bit width %d top1", r.BitWidth)
		assert.InDelta(t, m.Top5.Avg(), r.Top5, 1e-9, "bit width %d top5", r.BitWidth)
		checked++
	}
	assert.Equal(t, 2, checked)
}

func TestTraining_UpdateBest(t *testing.T) {
	meters := func(top1 map[int]float64) map[int]*bitWidthMeters {
		m := newMeters([]int{2, 32})
		for bw, v := range top1 {
			m[bw].Top1.Update(v, 1)
		}
		return m
	}

	tests := []struct {
		name       string
		before     map[int]float64
		top1       map[int]float64
		expectBest bool
		expect     map[int]float64
	}{
		{
			name:       "full precision improves",
			before:     map[int]float64{2: 40, 32: 60},
			top1:       map[int]float64{2: 30, 32: 65},
			expectBest: true,
			expect:     map[int]float64{2: 40, 32: 65},
		},
		{
			name:       "only low precision improves",
			before:     map[int]float64{2: 40, 32: 60},
			top1:       map[int]float64{2: 45, 32: 55},
			expectBest: false,
			expect:     map[int]float64{2: 45, 32: 60},
		},
		{
			name:       "first epoch",
			before:     map[int]float64{},
			top1:       map[int]float64{2: 10, 32: 12},
			expectBest: true,
			expect:     map[int]float64{2: 10, 32: 12},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := &training{bestTop1: tc.before}
			assert := assert.New(t)
			assert.Equal(tc.expectBest, tr.updateBest([]int{2, 32}, meters(tc.top1)))
			assert.Equal(tc.expect, tr.bestTop1)
		})
	}
}

func TestTraining_Resume(t *testing.T) {
	cfg := testConfig(t)
	store := storage.New(cfg.Run.ResultsDir)

	job, err := New(cfg, store)
	require.NoError(t, err)
	require.NoError(t, job.Serve(context.Background()))

	// Resume for one more epoch from the rolling checkpoint.
	cfg.Train.Epochs = 2
	cfg.Train.Resume = filepath.Join(cfg.Run.ResultsDir, CheckpointDirName, LatestCheckpointName)

	resumed, err := New(cfg, store)
	require.NoError(t, err)
	require.NoError(t, resumed.Serve(context.Background()))

	ckpt, err := LoadCheckpoint(cfg.Train.Resume)
	require.NoError(t, err)
	assert := assert.New(t)
	assert.Equal(2, ckpt.Epoch)

	records, err := store.ListEpochRecords()
	assert.NoError(err)
	// Epochs 0 and 1, two splits, two bit widths.
	assert.Len(records, 8)
}

func TestTraining_Pretrain(t *testing.T) {
	cfg := testConfig(t)
	store := storage.New(cfg.Run.ResultsDir)

	job, err := New(cfg, store)
	require.NoError(t, err)
	require.NoError(t, job.Serve(context.Background()))

	cfg2 := testConfig(t)
	cfg2.Train.Pretrain = filepath.Join(cfg.Run.ResultsDir, CheckpointDirName, BestCheckpointName)

	_, err = New(cfg2, storage.New(cfg2.Run.ResultsDir))
	assert.NoError(t, err)
}

func TestTraining_CanceledContext(t *testing.T) {
	cfg := testConfig(t)
	job, err := New(cfg, storage.New(cfg.Run.ResultsDir))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, job.Serve(ctx))
}

func TestTraining_UnknownModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model.Name = "vgg"

	_, err := New(cfg, storage.New(cfg.Run.ResultsDir))
	assert.EqualError(t, err, "unknown model \"vgg\"")
}
