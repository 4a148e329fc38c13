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

import "os"

var (
	// DefaultResultsDir matches the historical layout of training runs,
	// one subdirectory per run under ./results.
	DefaultResultsDir     = "./results"
	DefaultResultsDirMode = os.FileMode(0755)
	DefaultDataDir        = "./data"
	DefaultLogDir         = "./logs"
)
