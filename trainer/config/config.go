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

package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type Config struct {
	// Console redirects log output to the terminal instead of log files.
	Console bool `yaml:"console" mapstructure:"console"`

	// Verbose enables debug level logs.
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`

	// Run configuration.
	Run RunConfig `yaml:"run" mapstructure:"run"`

	// Model configuration.
	Model ModelConfig `yaml:"model" mapstructure:"model"`

	// Dataset configuration.
	Dataset DatasetConfig `yaml:"dataset" mapstructure:"dataset"`

	// Optimizer configuration.
	Optimizer OptimizerConfig `yaml:"optimizer" mapstructure:"optimizer"`

	// Train configuration.
	Train TrainConfig `yaml:"train" mapstructure:"train"`

	// Metrics configuration.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// Log configuration.
	Log LogConfig `yaml:"log" mapstructure:"log"`
}

type RunConfig struct {
	// ResultsDir is the directory holding checkpoints, history and the
	// run summary of this training run.
	ResultsDir string `yaml:"resultsDir" mapstructure:"resultsDir"`

	// Project is the report project name the run is grouped under.
	Project string `yaml:"project" mapstructure:"project"`

	// Seed initializes every RNG of the run for reproducibility.
	Seed int64 `yaml:"seed" mapstructure:"seed"`

	// Report enables per-epoch history records and the run summary.
	Report bool `yaml:"report" mapstructure:"report"`
}

type ModelConfig struct {
	// Name is the model architecture name.
	Name string `yaml:"name" mapstructure:"name"`

	// BitWidthList is the comma separated list of training bit widths.
	BitWidthList string `yaml:"bitWidthList" mapstructure:"bitWidthList"`

	// BitWidths is the parsed and sorted bit width list, set by Convert.
	BitWidths []int `yaml:"-" mapstructure:"-"`
}

type DatasetConfig struct {
	// Name is the dataset name.
	Name string `yaml:"name" mapstructure:"name"`

	// Dir is the dataset directory.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// TrainSplit is the split used for training.
	TrainSplit string `yaml:"trainSplit" mapstructure:"trainSplit"`

	// Workers is the number of data loading workers.
	Workers int `yaml:"workers" mapstructure:"workers"`

	// BatchSize is the mini-batch size.
	BatchSize int `yaml:"batchSize" mapstructure:"batchSize"`
}

type OptimizerConfig struct {
	// Name is the optimizer name, sgd or adam.
	Name string `yaml:"name" mapstructure:"name"`

	// LR is the initial learning rate.
	LR float64 `yaml:"lr" mapstructure:"lr"`

	// Momentum is the SGD momentum factor.
	Momentum float64 `yaml:"momentum" mapstructure:"momentum"`

	// WeightDecay is the L2 penalty factor.
	WeightDecay float64 `yaml:"weightDecay" mapstructure:"weightDecay"`

	// LRDecay is the comma separated epoch milestones of LR decay.
	LRDecay string `yaml:"lrDecay" mapstructure:"lrDecay"`

	// Milestones is the parsed LR decay schedule, set by Convert.
	Milestones []int `yaml:"-" mapstructure:"-"`

	// Gamma is the multiplicative LR decay factor.
	Gamma float64 `yaml:"gamma" mapstructure:"gamma"`
}

type TrainConfig struct {
	// Epochs is the number of training epochs.
	Epochs int `yaml:"epochs" mapstructure:"epochs"`

	// StartEpoch is the first epoch index, usually restored from a checkpoint.
	StartEpoch int `yaml:"startEpoch" mapstructure:"startEpoch"`

	// PrintFreq is the batch logging frequency.
	PrintFreq int `yaml:"printFreq" mapstructure:"printFreq"`

	// Pretrain is the path of a full-precision checkpoint used to
	// initialize model weights only.
	Pretrain string `yaml:"pretrain" mapstructure:"pretrain"`

	// Resume is the path of a checkpoint to continue training from.
	Resume string `yaml:"resume" mapstructure:"resume"`
}

type MetricsConfig struct {
	// Enable metrics service.
	Enable bool `yaml:"enable" mapstructure:"enable"`

	// Metrics service address.
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type LogConfig struct {
	// Dir is the log directory.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// MaxSize is the maximum size in megabytes of log files before rotation.
	MaxSize int `yaml:"maxSize" mapstructure:"maxSize"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `yaml:"maxAge" mapstructure:"maxAge"`

	// MaxBackups is the maximum number of old log files to keep.
	MaxBackups int `yaml:"maxBackups" mapstructure:"maxBackups"`
}

// New default configuration.
func New() *Config {
	return &Config{
		Run: RunConfig{
			ResultsDir: DefaultResultsDir,
			Project:    DefaultProject,
			Seed:       DefaultSeed,
			Report:     false,
		},
		Model: ModelConfig{
			Name:         DefaultModelName,
			BitWidthList: DefaultBitWidthList,
		},
		Dataset: DatasetConfig{
			Name:       DefaultDatasetName,
			TrainSplit: DefaultTrainSplit,
			Workers:    DefaultWorkers,
			BatchSize:  DefaultBatchSize,
		},
		Optimizer: OptimizerConfig{
			Name:        DefaultOptimizerName,
			LR:          DefaultLR,
			Momentum:    DefaultMomentum,
			WeightDecay: DefaultWeightDecay,
			LRDecay:     DefaultLRDecay,
			Gamma:       DefaultGamma,
		},
		Train: TrainConfig{
			Epochs:    DefaultEpochs,
			PrintFreq: DefaultPrintFreq,
		},
		Metrics: MetricsConfig{
			Enable: false,
			Addr:   DefaultMetricsAddr,
		},
		Log: LogConfig{
			MaxSize:    DefaultLogRotateMaxSize,
			MaxAge:     DefaultLogRotateMaxAge,
			MaxBackups: DefaultLogRotateMaxBackups,
		},
	}
}

// Convert parses the raw comma separated fields.
func (cfg *Config) Convert() error {
	bitWidths, err := parseIntList(cfg.Model.BitWidthList)
	if err != nil {
		return fmt.Errorf("parse bitWidthList: %w", err)
	}
	sort.Ints(bitWidths)
	cfg.Model.BitWidths = bitWidths

	milestones, err := parseIntList(cfg.Optimizer.LRDecay)
	if err != nil {
		return fmt.Errorf("parse lrDecay: %w", err)
	}
	sort.Ints(milestones)
	cfg.Optimizer.Milestones = milestones

	return nil
}

// Validate config parameters.
func (cfg *Config) Validate() error {
	if cfg.Run.ResultsDir == "" {
		return errors.New("run requires parameter resultsDir")
	}

	if cfg.Run.Seed < 0 {
		return errors.New("run requires non-negative parameter seed")
	}

	if cfg.Model.Name == "" {
		return errors.New("model requires parameter name")
	}

	if len(cfg.Model.BitWidths) == 0 {
		return errors.New("model requires parameter bitWidthList")
	}

	for _, bw := range cfg.Model.BitWidths {
		if bw < 1 || bw > 32 {
			return fmt.Errorf("bit width %d out of range [1, 32]", bw)
		}
	}

	if cfg.Dataset.Name == "" {
		return errors.New("dataset requires parameter name")
	}

	if cfg.Dataset.TrainSplit == "" {
		return errors.New("dataset requires parameter trainSplit")
	}

	if cfg.Dataset.Workers <= 0 {
		return errors.New("dataset requires positive parameter workers")
	}

	if cfg.Dataset.BatchSize <= 0 {
		return errors.New("dataset requires positive parameter batchSize")
	}

	switch cfg.Optimizer.Name {
	case OptimizerSGD, OptimizerAdam:
	default:
		return fmt.Errorf("unknown optimizer %q", cfg.Optimizer.Name)
	}

	if cfg.Optimizer.LR <= 0 {
		return errors.New("optimizer requires positive parameter lr")
	}

	if cfg.Optimizer.Gamma <= 0 || cfg.Optimizer.Gamma > 1 {
		return errors.New("optimizer requires parameter gamma in (0, 1]")
	}

	if cfg.Train.Epochs <= 0 {
		return errors.New("train requires positive parameter epochs")
	}

	if cfg.Train.StartEpoch < 0 || cfg.Train.StartEpoch >= cfg.Train.Epochs {
		return errors.New("train requires parameter startEpoch in [0, epochs)")
	}

	if cfg.Train.PrintFreq <= 0 {
		return errors.New("train requires positive parameter printFreq")
	}

	if cfg.Metrics.Enable {
		if cfg.Metrics.Addr == "" {
			return errors.New("metrics requires parameter addr")
		}
	}

	return nil
}

func parseIntList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("empty list")
	}

	var out []int
	for _, field := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
