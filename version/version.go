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

package version

import (
	"fmt"
	"runtime"
)

var (
	// Major is the major version number, set at build time.
	Major = "0"

	// Minor is the minor version number, set at build time.
	Minor = "1"

	// GitVersion is the semantic version, set at build time.
	GitVersion = "v0.1.0"

	// GitCommit is the git commit id, set at build time.
	GitCommit = "unknown"

	// Platform is the os/arch the binary was built for.
	Platform = runtime.GOOS + "/" + runtime.GOARCH

	// BuildTime is the build timestamp, set at build time.
	BuildTime = "unknown"

	// GoVersion is the go toolchain version the binary was built with.
	GoVersion = runtime.Version()

	// Gotags is the go build tags, set at build time.
	Gotags = "unknown"

	// Gogcflags is the go compiler flags, set at build time.
	Gogcflags = "unknown"
)

// Version returns the formatted version description.
func Version() string {
	return fmt.Sprintf("Major: %s, Minor: %s, GitVersion: %s, GitCommit: %s, Platform: %s, BuildTime: %s, GoVersion: %s, Gotags: %s, Gogcflags: %s",
		Major, Minor, GitVersion, GitCommit, Platform, BuildTime, GoVersion, Gotags, Gogcflags)
}
