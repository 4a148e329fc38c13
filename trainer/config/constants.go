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

const (
	// OptimizerSGD is the name of stochastic gradient descent with momentum.
	OptimizerSGD = "sgd"

	// OptimizerAdam is the name of the Adam optimizer.
	OptimizerAdam = "adam"
)

const (
	// DefaultResultsDir is the default run directory.
	DefaultResultsDir = "./results"

	// DefaultProject is the default report project name.
	DefaultProject = "baselines"

	// DefaultSeed is the default RNG seed.
	DefaultSeed = 42
)

const (
	// DefaultModelName is the default model architecture.
	DefaultModelName = "resnet20"

	// DefaultBitWidthList is the default training bit width list.
	DefaultBitWidthList = "4"
)

const (
	// DefaultDatasetName is the default dataset.
	DefaultDatasetName = "cifar10"

	// DefaultTrainSplit is the default training split.
	DefaultTrainSplit = "train"

	// DefaultWorkers is the default number of data loading workers.
	DefaultWorkers = 4

	// DefaultBatchSize is the default mini-batch size.
	DefaultBatchSize = 128
)

const (
	// DefaultOptimizerName is the default optimizer.
	DefaultOptimizerName = OptimizerSGD

	// DefaultLR is the default initial learning rate.
	DefaultLR = 0.1

	// DefaultMomentum is the default SGD momentum factor.
	DefaultMomentum = 0.9

	// DefaultWeightDecay is the default L2 penalty factor.
	DefaultWeightDecay = 3e-4

	// DefaultLRDecay is the default LR decay schedule.
	DefaultLRDecay = "100,150,180"

	// DefaultGamma is the default LR decay factor.
	DefaultGamma = 0.1
)

const (
	// DefaultEpochs is the default number of training epochs.
	DefaultEpochs = 200

	// DefaultPrintFreq is the default batch logging frequency.
	DefaultPrintFreq = 20
)

const (
	// DefaultMetricsAddr is default address for the metrics server.
	DefaultMetricsAddr = ":8000"
)

const (
	// DefaultLogRotateMaxSize is the default maximum size in megabytes of log files before rotation.
	DefaultLogRotateMaxSize = 1024

	// DefaultLogRotateMaxAge is the default number of days to retain old log files.
	DefaultLogRotateMaxAge = 7

	// DefaultLogRotateMaxBackups is the default number of old log files to keep.
	DefaultLogRotateMaxBackups = 20
)
