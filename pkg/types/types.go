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

package types

const (
	// TrainerName is the name of the training service.
	TrainerName = "trainer"

	// LauncherName is the name of the launcher service.
	LauncherName = "launcher"

	// MetricsNamespace is the namespace of prometheus metrics.
	MetricsNamespace = "anyprec"

	// TrainerMetricsName is the subsystem of trainer prometheus metrics.
	TrainerMetricsName = "trainer"
)
