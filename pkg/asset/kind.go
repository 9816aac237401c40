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

package asset

import "github.com/pkg/errors"

// Kind distinguishes the chart index from package files for routing and caching.
type Kind string

const (
	// KindIndex is the index.yaml of a repository.
	KindIndex Kind = "index"
	// KindPackage is a chart package, <name>-<version>.tgz.
	KindPackage Kind = "package"
	// KindProvenance is the provenance file signing a package.
	KindProvenance Kind = "provenance"
)

// IndexPath is the path of the index document at the root of every repository.
const IndexPath = "index.yaml"

func (k Kind) String() string { return string(k) }

// IsMetadata reports whether assets of this kind are regenerated or
// refreshed, as opposed to immutable content.
func (k Kind) IsMetadata() bool { return k == KindIndex }

// ContentType is the media type assets of this kind are served with.
func (k Kind) ContentType() string {
	switch k {
	case KindIndex:
		return "text/x-yaml"
	case KindPackage:
		return "application/x-tar"
	default:
		return "application/octet-stream"
	}
}

// ParseKind parses the string form of a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindIndex, KindPackage, KindProvenance:
		return k, nil
	}
	return "", errors.Errorf("unknown asset kind %q", s)
}
