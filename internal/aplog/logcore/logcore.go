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

package logcore

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	CoreLogFileName = "core.log"
	StatLogFileName = "stat.log"
)

const (
	// DefaultRotateMaxSize is the maximum size in megabytes of log files before rotation.
	DefaultRotateMaxSize = 300

	// DefaultRotateMaxBackups is the maximum number of old log files to keep.
	DefaultRotateMaxBackups = 50

	// DefaultRotateMaxAge is the maximum number of days to retain old log files.
	DefaultRotateMaxAge = 7
)

const encodeTimeFormat = "2006-01-02 15:04:05.000"

// LogRotateConfig is the configuration of log file rotation.
type LogRotateConfig struct {
	// MaxSize is the maximum size in megabytes of log files before rotation.
	MaxSize int

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int

	// MaxBackups is the maximum number of old log files to keep.
	MaxBackups int
}

// CreateLogger builds a rotated file logger. Stat loggers skip caller
// annotation so that record lines stay machine parseable.
func CreateLogger(filePath string, rotate LogRotateConfig, compress, stats, verbose bool) (*zap.Logger, zap.AtomicLevel, error) {
	if rotate.MaxSize <= 0 {
		rotate.MaxSize = DefaultRotateMaxSize
	}
	if rotate.MaxAge <= 0 {
		rotate.MaxAge = DefaultRotateMaxAge
	}
	if rotate.MaxBackups <= 0 {
		rotate.MaxBackups = DefaultRotateMaxBackups
	}

	rotateConfig := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    rotate.MaxSize,
		MaxAge:     rotate.MaxAge,
		MaxBackups: rotate.MaxBackups,
		LocalTime:  true,
		Compress:   compress,
	}
	syncer := zapcore.AddSync(rotateConfig)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(encodeTimeFormat)

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		syncer,
		level,
	)

	var opts []zap.Option
	if !stats {
		opts = append(opts, zap.AddCaller(), zap.AddStacktrace(zap.WarnLevel), zap.AddCallerSkip(1))
	}

	return zap.New(core, opts...), level, nil
}
