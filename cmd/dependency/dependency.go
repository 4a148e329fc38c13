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

// Package dependency holds the pieces shared by every command: config
// file loading, common flags and signal handling.
package dependency

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	logger "github.com/anyprec/anyprec/internal/aplog"
)

var cfgFile string

// InitCommandAndConfig binds the common flags to the command and
// registers config file loading for it.
func InitCommandAndConfig(cmd *cobra.Command, useConfigFile bool, config any) {
	rootName := cmd.Root().Name()
	cobra.OnInitialize(func() {
		initConfig(useConfigFile, rootName, config)
	})

	if !cmd.HasParent() {
		// Add common flags.
		flagSet := cmd.PersistentFlags()
		flagSet.Bool("console", false, "whether logger output records to the stdout")
		flagSet.Bool("verbose", false, "whether logger use debug level")

		if useConfigFile {
			flagSet.StringVarP(&cfgFile, "config", "f", "", fmt.Sprintf(
				"the path of configuration file with yaml extension name, it can also be set by env var: %s_CONFIG", strings.ToUpper(rootName)))
		}

		// Bind common flags.
		if err := viper.BindPFlags(flagSet); err != nil {
			panic(fmt.Errorf("bind common flags to viper: %w", err))
		}

		viper.SetEnvPrefix(rootName)
		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
		viper.AutomaticEnv()
	}

	// Add sub command.
	cmd.AddCommand(VersionCmd)
}

// initConfig reads in the config file and environment variables if set.
func initConfig(useConfigFile bool, name string, config any) {
	if useConfigFile {
		if cfgFile == "" {
			cfgFile = os.Getenv(strings.ToUpper(name) + "_CONFIG")
		}
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				panic(fmt.Errorf("viper read config: %w", err))
			}
		}
	}

	if err := viper.Unmarshal(config, initDecoderConfig); err != nil {
		panic(fmt.Errorf("unmarshal config to struct: %w", err))
	}
}

func initDecoderConfig(dc *mapstructure.DecoderConfig) {
	dc.TagName = "mapstructure"
	dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		dc.DecodeHook,
	)
}

// SetupQuitSignalHandler runs handler once on the first quit signal and
// force exits on the third.
func SetupQuitSignalHandler(handler func()) {
	signalChan := make(chan os.Signal, 10)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		var done bool
		count := 0
		for {
			sig := <-signalChan
			logger.Warnf("receive signal: %v", sig)
			count++
			if count >= 3 {
				logger.Warnf("quit forcedly")
				os.Exit(1)
			}

			if !done {
				done = true
				go func() {
					handler()
					os.Exit(0)
				}()
			}
		}
	}()
}
