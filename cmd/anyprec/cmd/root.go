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
	"os"

	"github.com/spf13/cobra"

	"github.com/anyprec/anyprec/cmd/dependency"
	logger "github.com/anyprec/anyprec/internal/aplog"
	"github.com/anyprec/anyprec/pkg/appath"
	"github.com/anyprec/anyprec/trainer/config"
)

// cfg holds the shared configuration of all subcommands, populated
// from defaults, config file, environment and flags.
var cfg = config.New()

// rootCmd represents the anyprec command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "anyprec",
	Short: "any-precision model training",
	Long: `Anyprec trains image classifiers whose weights and activations can run at
multiple quantization bit widths, with the full-precision model supervising the
low-precision ones through recursive soft targets.`,
	Args:              cobra.NoArgs,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func init() {
	// Initialize command and config.
	dependency.InitCommandAndConfig(rootCmd, true, cfg)
}

func initAppath(cfg *config.Config) (appath.Appath, error) {
	var options []appath.Option
	if cfg.Run.ResultsDir != "" {
		options = append(options, appath.WithResultsDir(cfg.Run.ResultsDir))
	}

	if cfg.Dataset.Dir != "" {
		options = append(options, appath.WithDataDir(cfg.Dataset.Dir))
	}

	if cfg.Log.Dir != "" {
		options = append(options, appath.WithLogDir(cfg.Log.Dir))
	}

	return appath.New(options...)
}
