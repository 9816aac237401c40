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

package repository

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	"helm.sh/chartrepo/pkg/asset"
)

// ErrUnsupportedPath is returned for paths that are no repository asset.
var ErrUnsupportedPath = errors.New("unsupported path")

var patterns = []struct {
	kind asset.Kind
	glob glob.Glob
}{
	{asset.KindIndex, glob.MustCompile(asset.IndexPath, '/')},
	{asset.KindProvenance, glob.MustCompile("**.tgz.prov", '/')},
	{asset.KindPackage, glob.MustCompile("**.tgz", '/')},
}

// Classify returns the kind of asset stored at a repository path. Packages
// and provenance files may be nested in directories; the index may not.
func Classify(p string) (asset.Kind, error) {
	p = strings.TrimPrefix(p, "/")
	if p == "" || strings.HasSuffix(p, "/") {
		return "", errors.Wrapf(ErrUnsupportedPath, "%q", p)
	}
	for _, pat := range patterns {
		if pat.glob.Match(p) {
			return pat.kind, nil
		}
	}
	return "", errors.Wrapf(ErrUnsupportedPath, "%q", p)
}
