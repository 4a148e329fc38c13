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

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anyprec/anyprec/cmd/dependency"
	logger "github.com/anyprec/anyprec/internal/aplog"
	"github.com/anyprec/anyprec/internal/aplog/logcore"
	"github.com/anyprec/anyprec/trainer"
	"github.com/anyprec/anyprec/version"
)

// trainCmd runs one training job in the foreground.
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "train an any-precision model",
	Long: `Train optimizes one model at every configured bit width on each batch and
writes checkpoints, history and the run summary to the results directory.`,
	Args:              cobra.NoArgs,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Convert config.
		if err := cfg.Convert(); err != nil {
			return err
		}

		// Validate config.
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Initialize paths.
		d, err := initAppath(cfg)
		if err != nil {
			return err
		}
		if cfg.Dataset.Dir == "" {
			cfg.Dataset.Dir = d.DataDir()
		}

		// Initialize logger.
		rotateConfig := logcore.LogRotateConfig{
			MaxSize:    cfg.Log.MaxSize,
			MaxAge:     cfg.Log.MaxAge,
			MaxBackups: cfg.Log.MaxBackups,
		}
		if err := logger.InitTrainer(cfg.Verbose, cfg.Console, d.LogDir(), rotateConfig); err != nil {
			return fmt.Errorf("init trainer logger: %w", err)
		}

		return runTrainer(ctx, cancel)
	},
}

func init() {
	flags := trainCmd.Flags()
	flags.StringVar(&cfg.Model.Name, "model", cfg.Model.Name, "model architecture")
	flags.StringVar(&cfg.Model.BitWidthList, "bit-width-list", cfg.Model.BitWidthList, "comma separated training bit widths")
	flags.StringVar(&cfg.Dataset.Name, "dataset", cfg.Dataset.Name, "dataset name")
	flags.StringVar(&cfg.Dataset.Dir, "data-dir", cfg.Dataset.Dir, "dataset directory")
	flags.StringVar(&cfg.Dataset.TrainSplit, "train-split", cfg.Dataset.TrainSplit, "dataset split used for training")
	flags.IntVar(&cfg.Dataset.Workers, "workers", cfg.Dataset.Workers, "number of data loading workers")
	flags.IntVar(&cfg.Dataset.BatchSize, "batch-size", cfg.Dataset.BatchSize, "mini-batch size")
	flags.StringVar(&cfg.Optimizer.Name, "optimizer", cfg.Optimizer.Name, "optimizer name")
	flags.Float64Var(&cfg.Optimizer.LR, "lr", cfg.Optimizer.LR, "initial learning rate")
	flags.Float64Var(&cfg.Optimizer.Momentum, "momentum", cfg.Optimizer.Momentum, "sgd momentum")
	flags.Float64Var(&cfg.Optimizer.WeightDecay, "weight-decay", cfg.Optimizer.WeightDecay, "weight decay")
	flags.StringVar(&cfg.Optimizer.LRDecay, "lr-decay", cfg.Optimizer.LRDecay, "comma separated lr decay epochs")
	flags.Float64Var(&cfg.Optimizer.Gamma, "gamma", cfg.Optimizer.Gamma, "lr decay factor")
	flags.IntVar(&cfg.Train.Epochs, "epochs", cfg.Train.Epochs, "number of training epochs")
	flags.IntVar(&cfg.Train.StartEpoch, "start-epoch", cfg.Train.StartEpoch, "first epoch index")
	flags.IntVar(&cfg.Train.PrintFreq, "print-freq", cfg.Train.PrintFreq, "batch logging frequency")
	flags.StringVar(&cfg.Train.Pretrain, "pretrain", cfg.Train.Pretrain, "path of a pretrain checkpoint")
	flags.StringVar(&cfg.Train.Resume, "resume", cfg.Train.Resume, "path of a checkpoint to resume from")
	flags.StringVar(&cfg.Run.ResultsDir, "results-dir", cfg.Run.ResultsDir, "run directory for checkpoints and history")
	flags.StringVar(&cfg.Run.Project, "project", cfg.Run.Project, "report project name")
	flags.Int64Var(&cfg.Run.Seed, "seed", cfg.Run.Seed, "random seed of the run")
	flags.BoolVar(&cfg.Run.Report, "report", cfg.Run.Report, "write per-epoch history and the run summary")
	flags.BoolVar(&cfg.Metrics.Enable, "metrics", cfg.Metrics.Enable, "enable the metrics server")
	flags.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "metrics server listen address")

	rootCmd.AddCommand(trainCmd)
}

func runTrainer(ctx context.Context, cancel context.CancelFunc) error {
	logger.Infof("version:\n%s", version.Version())

	svr, err := trainer.New(ctx, cfg)
	if err != nil {
		return err
	}

	dependency.SetupQuitSignalHandler(func() {
		cancel()
		svr.Stop()
	})
	return svr.Serve(ctx)
}
