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
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	logger "github.com/anyprec/anyprec/internal/aplog"
	"github.com/anyprec/anyprec/internal/aplog/logcore"
	"github.com/anyprec/anyprec/trainer/launcher"
)

var launchOpts launcher.Options

// launchCmd starts a baseline run for one bit width.
var launchCmd = &cobra.Command{
	Use:   "launch <bit-width>",
	Short: "launch a baseline training run",
	Long: `Launch creates the run directory "<bit-width>_<seed>" under the results
directory and starts the trainer with the fixed baseline hyperparameters,
training the given bit width together with the full-precision branch.`,
	Args:              cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	RunE: func(cmd *cobra.Command, args []string) error {
		bitWidth, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("parse bit width %q: %w", args[0], err)
		}
		launchOpts.BitWidth = bitWidth

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Initialize paths.
		d, err := initAppath(cfg)
		if err != nil {
			return err
		}
		if launchOpts.ResultsDir == "" {
			launchOpts.ResultsDir = d.ResultsDir()
		}
		if launchOpts.DataDir == "" {
			launchOpts.DataDir = d.DataDir()
		}

		// Initialize logger.
		rotateConfig := logcore.LogRotateConfig{
			MaxSize:    cfg.Log.MaxSize,
			MaxAge:     cfg.Log.MaxAge,
			MaxBackups: cfg.Log.MaxBackups,
		}
		if err := logger.InitLauncher(cfg.Verbose, cfg.Console, d.LogDir(), rotateConfig); err != nil {
			return fmt.Errorf("init launcher logger: %w", err)
		}

		l, err := launcher.New(launchOpts)
		if err != nil {
			return err
		}
		return l.Launch(ctx)
	},
}

func init() {
	flags := launchCmd.Flags()
	flags.Int64Var(&launchOpts.Seed, "seed", 0, "random seed of the run")
	flags.StringVar(&launchOpts.ResultsDir, "results-dir", "", "parent directory of all run directories")
	flags.StringVar(&launchOpts.DataDir, "data-dir", "", "dataset directory")
	flags.StringVar(&launchOpts.Binary, "binary", "", "trainer executable, defaults to the running binary")
	flags.StringVar(&launchOpts.Project, "project", "", "report project name")

	rootCmd.AddCommand(launchCmd)
}
