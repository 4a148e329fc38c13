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

package appath

import (
	"io/fs"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Appath is the interface used for init project paths.
type Appath interface {
	ResultsDir() string
	ResultsDirMode() fs.FileMode
	DataDir() string
	LogDir() string
}

// appath provides init project paths function.
type appath struct {
	resultsDir     string
	resultsDirMode fs.FileMode
	dataDir        string
	logDir         string
}

// Cache of the appath.
var cache struct {
	sync.Once
	d   *appath
	err *multierror.Error
}

// Option is a functional option for configuring the appath.
type Option func(d *appath)

// WithResultsDir set the results directory.
func WithResultsDir(dir string) Option {
	return func(d *appath) {
		d.resultsDir = dir
	}
}

// WithResultsDirMode sets the results directory mode.
func WithResultsDirMode(mode fs.FileMode) Option {
	return func(d *appath) {
		d.resultsDirMode = mode
	}
}

// WithDataDir set the dataset directory.
func WithDataDir(dir string) Option {
	return func(d *appath) {
		d.dataDir = dir
	}
}

// WithLogDir set the log directory.
func WithLogDir(dir string) Option {
	return func(d *appath) {
		d.logDir = dir
	}
}

// New returns a new Appath interface.
func New(options ...Option) (Appath, error) {
	cache.Do(func() {
		d := &appath{
			resultsDir:     DefaultResultsDir,
			resultsDirMode: DefaultResultsDirMode,
			dataDir:        DefaultDataDir,
			logDir:         DefaultLogDir,
		}

		for _, opt := range options {
			opt(d)
		}

		// Create results directory.
		if err := os.MkdirAll(d.resultsDir, d.resultsDirMode); err != nil {
			cache.err = multierror.Append(cache.err, err)
		}

		// Create log directory.
		if err := os.MkdirAll(d.logDir, fs.FileMode(0700)); err != nil {
			cache.err = multierror.Append(cache.err, err)
		}

		cache.d = d
	})

	if cache.err.ErrorOrNil() != nil {
		return nil, cache.err
	}

	d := *cache.d
	return &d, nil
}

func (d *appath) ResultsDir() string {
	return d.resultsDir
}

func (d *appath) ResultsDirMode() fs.FileMode {
	return d.resultsDirMode
}

func (d *appath) DataDir() string {
	return d.dataDir
}

func (d *appath) LogDir() string {
	return d.logDir
}
