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
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfig_Load(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	expected := &Config{
		Console: true,
		Verbose: true,
		Run: RunConfig{
			ResultsDir: "./results/4_0",
			Project:    "baselines",
			Seed:       0,
			Report:     true,
		},
		Model: ModelConfig{
			Name:         "resnet20",
			BitWidthList: "4,32",
		},
		Dataset: DatasetConfig{
			Name:       "cifar10",
			Dir:        "./data/cifar10",
			TrainSplit: "train",
			Workers:    8,
			BatchSize:  64,
		},
		Optimizer: OptimizerConfig{
			Name:        "sgd",
			LR:          0.1,
			Momentum:    0.9,
			WeightDecay: 3e-4,
			LRDecay:     "100,150,180",
			Gamma:       0.1,
		},
		Train: TrainConfig{
			Epochs:     200,
			StartEpoch: 0,
			PrintFreq:  20,
		},
		Metrics: MetricsConfig{
			Enable: true,
			Addr:   ":8000",
		},
		Log: LogConfig{
			Dir:        "./logs",
			MaxSize:    512,
			MaxAge:     3,
			MaxBackups: 5,
		},
	}

	data, err := os.ReadFile("./testdata/trainer.yaml")
	require.Nil(err)

	config := &Config{}
	err = yaml.Unmarshal(data, config)
	require.Nil(err)

	assert.EqualValues(expected, config)
}

func TestConfig_Convert(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		expect func(t *testing.T, cfg *Config, err error)
	}{
		{
			name: "sorts bit widths and milestones",
			config: func() *Config {
				cfg := New()
				cfg.Model.BitWidthList = "32,2,8"
				cfg.Optimizer.LRDecay = "180,100,150"
				return cfg
			}(),
			expect: func(t *testing.T, cfg *Config, err error) {
				assert := assert.New(t)
				assert.Nil(err)
				assert.Equal([]int{2, 8, 32}, cfg.Model.BitWidths)
				assert.Equal([]int{100, 150, 180}, cfg.Optimizer.Milestones)
			},
		},
		{
			name: "tolerates whitespace",
			config: func() *Config {
				cfg := New()
				cfg.Model.BitWidthList = " 4 , 32 "
				return cfg
			}(),
			expect: func(t *testing.T, cfg *Config, err error) {
				assert := assert.New(t)
				assert.Nil(err)
				assert.Equal([]int{4, 32}, cfg.Model.BitWidths)
			},
		},
		{
			name: "rejects malformed bit width list",
			config: func() *Config {
				cfg := New()
				cfg.Model.BitWidthList = "4,foo"
				return cfg
			}(),
			expect: func(t *testing.T, cfg *Config, err error) {
				assert := assert.New(t)
				assert.Error(err)
			},
		},
		{
			name: "rejects empty bit width list",
			config: func() *Config {
				cfg := New()
				cfg.Model.BitWidthList = ""
				return cfg
			}(),
			expect: func(t *testing.T, cfg *Config, err error) {
				assert := assert.New(t)
				assert.Error(err)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.Convert()
			tc.expect(t, tc.config, err)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	mutate := func(f func(cfg *Config)) *Config {
		cfg := New()
		if err := cfg.Convert(); err != nil {
			t.Fatal(err)
		}
		f(cfg)
		return cfg
	}

	tests := []struct {
		name   string
		config *Config
		expect func(t *testing.T, err error)
	}{
		{
			name:   "default config after convert is valid",
			config: mutate(func(cfg *Config) {}),
			expect: func(t *testing.T, err error) {
				assert := assert.New(t)
				assert.Nil(err)
			},
		},
		{
			name: "results dir is required",
			config: mutate(func(cfg *Config) {
				cfg.Run.ResultsDir = ""
			}),
			expect: func(t *testing.T, err error) {
				assert := assert.New(t)
				assert.EqualError(err, "run requires parameter resultsDir")
			},
		},
		{
			name: "bit width out of range",
			config: mutate(func(cfg *Config) {
				cfg.Model.BitWidths = []int{0}
			}),
			expect: func(t *testing.T, err error) {
				assert := assert.New(t)
				assert.EqualError(err, "bit width 0 out of range [1, 32]")
			},
		},
		{
			name: "unknown optimizer",
			config: mutate(func(cfg *Config) {
				cfg.Optimizer.Name = "lbfgs"
			}),
			expect: func(t *testing.T, err error) {
				assert := assert.New(t)
				assert.EqualError(err, `unknown optimizer "lbfgs"`)
			},
		},
		{
			name: "start epoch beyond epochs",
			config: mutate(func(cfg *Config) {
				cfg.Train.StartEpoch = cfg.Train.Epochs
			}),
			expect: func(t *testing.T, err error) {
				assert := assert.New(t)
				assert.EqualError(err, "train requires parameter startEpoch in [0, epochs)")
			},
		},
		{
			name: "metrics addr required when enabled",
			config: mutate(func(cfg *Config) {
				cfg.Metrics.Enable = true
				cfg.Metrics.Addr = ""
			}),
			expect: func(t *testing.T, err error) {
				assert := assert.New(t)
				assert.EqualError(err, "metrics requires parameter addr")
			},
		},
		{
			name: "negative workers",
			config: mutate(func(cfg *Config) {
				cfg.Dataset.Workers = -1
			}),
			expect: func(t *testing.T, err error) {
				assert := assert.New(t)
				assert.EqualError(err, "dataset requires positive parameter workers")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.expect(t, tc.config.Validate())
		})
	}
}
