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

// Package launcher prepares the run directory of a bit width sweep and
// starts the trainer with the fixed baseline hyperparameters.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"

	logger "github.com/anyprec/anyprec/internal/aplog"
	"github.com/anyprec/anyprec/trainer/config"
)

// LockFileName is the advisory lock guarding a run directory against
// concurrent launches.
const LockFileName = ".lock"

// Options are the fixed hyperparameters the launcher forwards to the
// trainer. The zero value of each field falls back to the baseline
// default.
type Options struct {
	// BitWidth is the low precision under training. The trainer always
	// gets the full-precision branch appended.
	BitWidth int

	// Seed of the run, part of the run id.
	Seed int64

	// ResultsDir is the parent of all run directories.
	ResultsDir string

	// DataDir is the dataset directory.
	DataDir string

	// Binary is the trainer executable. Defaults to the running binary.
	Binary string

	Project     string
	Model       string
	Dataset     string
	TrainSplit  string
	Optimizer   string
	LR          float64
	LRDecay     string
	WeightDecay float64
	Epochs      int
}

// Launcher starts one training run per invocation.
type Launcher struct {
	opts Options
}

// New returns a launcher with defaults applied.
func New(opts Options) (*Launcher, error) {
	if opts.BitWidth < 1 || opts.BitWidth > 32 {
		return nil, fmt.Errorf("bit width %d out of range [1, 32]", opts.BitWidth)
	}

	if opts.ResultsDir == "" {
		opts.ResultsDir = config.DefaultResultsDir
	}
	if opts.Binary == "" {
		binary, err := os.Executable()
		if err != nil {
			return nil, err
		}
		opts.Binary = binary
	}
	if opts.Project == "" {
		opts.Project = config.DefaultProject
	}
	if opts.Model == "" {
		opts.Model = config.DefaultModelName
	}
	if opts.Dataset == "" {
		opts.Dataset = config.DefaultDatasetName
	}
	if opts.TrainSplit == "" {
		opts.TrainSplit = config.DefaultTrainSplit
	}
	if opts.Optimizer == "" {
		opts.Optimizer = config.DefaultOptimizerName
	}
	if opts.LR == 0 {
		opts.LR = config.DefaultLR
	}
	if opts.LRDecay == "" {
		opts.LRDecay = config.DefaultLRDecay
	}
	if opts.WeightDecay == 0 {
		opts.WeightDecay = config.DefaultWeightDecay
	}
	if opts.Epochs == 0 {
		opts.Epochs = config.DefaultEpochs
	}

	return &Launcher{opts: opts}, nil
}

// RunID identifies the run as "<bitWidth>_<seed>".
func (l *Launcher) RunID() string {
	return fmt.Sprintf("%d_%d", l.opts.BitWidth, l.opts.Seed)
}

// RunDir is the per-run directory under the results directory.
func (l *Launcher) RunDir() string {
	return filepath.Join(l.opts.ResultsDir, l.RunID())
}

// Args returns the trainer invocation arguments.
func (l *Launcher) Args() []string {
	return []string{
		"train",
		"--model", l.opts.Model,
		"--dataset", l.opts.Dataset,
		"--train-split", l.opts.TrainSplit,
		"--lr", strconv.FormatFloat(l.opts.LR, 'g', -1, 64),
		"--lr-decay", l.opts.LRDecay,
		"--epochs", strconv.Itoa(l.opts.Epochs),
		"--optimizer", l.opts.Optimizer,
		"--weight-decay", strconv.FormatFloat(l.opts.WeightDecay, 'g', -1, 64),
		"--results-dir", l.RunDir(),
		"--data-dir", l.opts.DataDir,
		"--bit-width-list", fmt.Sprintf("%d,32", l.opts.BitWidth),
		"--seed", strconv.FormatInt(l.opts.Seed, 10),
		"--project", l.opts.Project,
		"--report",
	}
}

// Prepare creates the run directory. Existing directories are reused,
// so relaunching a finished or crashed run is safe.
func (l *Launcher) Prepare() error {
	return os.MkdirAll(l.RunDir(), 0755)
}

// Launch runs the trainer to completion in the prepared run directory.
// A file lock rejects a second launcher racing for the same run.
func (l *Launcher) Launch(ctx context.Context) error {
	if err := l.Prepare(); err != nil {
		return err
	}

	lock := flock.New(filepath.Join(l.RunDir(), LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("run %s is already running", l.RunID())
	}
	defer lock.Unlock()

	logger.WithRunID(l.RunID()).Infof("launching %s %v", l.opts.Binary, l.Args())

	cmd := exec.CommandContext(ctx, l.opts.Binary, l.Args()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
