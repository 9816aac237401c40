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

package chart

import (
	"path"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

const (
	// PackageExtension is the file extension of a chart package.
	PackageExtension = ".tgz"
	// ProvenanceExtension is appended to a package filename to name its provenance file.
	ProvenanceExtension = ".prov"
)

// ParseFilename splits a package filename such as "mongodb-7.2.8.tgz" into
// the chart name and version.
//
// Chart names may contain hyphens, and so may prerelease versions, so the
// split is made at the first hyphen whose remainder is a semantic version.
// When no such hyphen exists the last hyphen is used.
func ParseFilename(filename string) (name, version string, err error) {
	base := strings.TrimSuffix(path.Base(filename), ProvenanceExtension)
	if !strings.HasSuffix(base, PackageExtension) {
		return "", "", errors.Errorf("%q is not a chart package filename", filename)
	}
	base = strings.TrimSuffix(base, PackageExtension)

	for i := 0; i < len(base); i++ {
		if base[i] != '-' || i == 0 {
			continue
		}
		if _, err := semver.StrictNewVersion(base[i+1:]); err == nil {
			return base[:i], base[i+1:], nil
		}
	}

	i := strings.LastIndex(base, "-")
	if i <= 0 || i == len(base)-1 {
		return "", "", errors.Errorf("%q does not contain a chart name and version", filename)
	}
	return base[:i], base[i+1:], nil
}
