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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	base := t.TempDir()
	resultsDir := filepath.Join(base, "results")
	dataDir := filepath.Join(base, "data")
	logDir := filepath.Join(base, "logs")

	d, err := New(
		WithResultsDir(resultsDir),
		WithResultsDirMode(os.FileMode(0700)),
		WithDataDir(dataDir),
		WithLogDir(logDir),
	)
	require.NoError(t, err)

	assert := assert.New(t)
	assert.Equal(resultsDir, d.ResultsDir())
	assert.Equal(os.FileMode(0700), d.ResultsDirMode())
	assert.Equal(dataDir, d.DataDir())
	assert.Equal(logDir, d.LogDir())

	assert.DirExists(resultsDir)
	assert.DirExists(logDir)
	// The data directory is user provided and never created.
	assert.NoDirExists(dataDir)

	// Paths are cached, later options are ignored.
	d2, err := New(WithResultsDir(filepath.Join(base, "other")))
	require.NoError(t, err)
	assert.Equal(resultsDir, d2.ResultsDir())
}
