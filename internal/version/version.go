/*
Copyright The Helm Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


// Package version reports the build of the chartrepo binary. Release builds
// stamp it with
//
//	-ldflags "-X helm.sh/chartrepo/internal/version.version=v0.5.0 -X helm.sh/chartrepo/internal/version.gitCommit=$(git rev-parse HEAD)"
package version // import "helm.sh/chartrepo/internal/version"

import (
	"flag"
	"runtime"
	"strings"
)

var (
	version   = "v0.4"
	metadata  = ""
	gitCommit = ""
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
	// GoVersion is empty in test binaries, so command output stays stable.
	GoVersion string `json:"go_version,omitempty"`
}

// GetVersion returns the semantic version, with build metadata if any.
func GetVersion() string {
	if metadata == "" {
		return version
	}
	return version + "+" + metadata
}

// GetUserAgent is the User-Agent header sent to remote repositories.
func GetUserAgent() string {
	return "chartrepo/" + strings.TrimPrefix(GetVersion(), "v")
}

// Get returns the build info of the binary.
func Get() BuildInfo {
	v := BuildInfo{Version: GetVersion(), GitCommit: gitCommit}
	if flag.Lookup("test.v") == nil {
		v.GoVersion = runtime.Version()
	}
	return v
}
