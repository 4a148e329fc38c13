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

package logger

import (
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/anyprec/anyprec/internal/aplog/logcore"
	"github.com/anyprec/anyprec/pkg/types"
)

type logInitMeta struct {
	fileName             string
	stats                bool
	setSugaredLoggerFunc func(*zap.SugaredLogger)
	setLoggerFunc        func(log *zap.Logger)
}

// InitTrainer initializes loggers for the training entrypoint.
func InitTrainer(verbose, console bool, dir string, rotate logcore.LogRotateConfig) error {
	if console {
		return createConsoleLogger(verbose)
	}

	logDir := filepath.Join(dir, types.TrainerName)

	var meta = []logInitMeta{
		{
			fileName:             logcore.CoreLogFileName,
			setSugaredLoggerFunc: SetCoreLogger,
		},
		{
			fileName:      logcore.StatLogFileName,
			stats:         true,
			setLoggerFunc: SetStatLogger,
		},
	}

	return createFileLogger(verbose, meta, logDir, rotate)
}

// InitLauncher initializes loggers for the launcher entrypoint.
func InitLauncher(verbose, console bool, dir string, rotate logcore.LogRotateConfig) error {
	if console {
		return createConsoleLogger(verbose)
	}

	logDir := filepath.Join(dir, types.LauncherName)

	var meta = []logInitMeta{
		{
			fileName:             logcore.CoreLogFileName,
			setSugaredLoggerFunc: SetCoreLogger,
		},
	}

	return createFileLogger(verbose, meta, logDir, rotate)
}

func createConsoleLogger(verbose bool) error {
	levels = nil
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	log, err := config.Build(zap.AddCaller(), zap.AddStacktrace(zap.WarnLevel), zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	SetCoreLogger(log.Sugar())
	SetStatLogger(log)
	levels = append(levels, config.Level)
	return nil
}

func createFileLogger(verbose bool, meta []logInitMeta, logDir string, rotate logcore.LogRotateConfig) error {
	levels = nil

	for _, m := range meta {
		log, level, err := logcore.CreateLogger(path.Join(logDir, m.fileName), rotate, false, m.stats, verbose)
		if err != nil {
			return err
		}
		if m.setSugaredLoggerFunc != nil {
			m.setSugaredLoggerFunc(log.Sugar())
		} else {
			m.setLoggerFunc(log)
		}

		levels = append(levels, level)
	}
	return nil
}
