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


package repo

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// ResolveURL resolves ref against base, treating base as a directory. An
// absolute ref is returned as is. The query of base is carried over.
func ResolveURL(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse %s as URL", ref)
	}
	if r.IsAbs() {
		return ref, nil
	}

	b, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse %s as URL", base)
	}
	b.RawPath = strings.TrimSuffix(b.RawPath, "/") + "/"
	b.Path = strings.TrimSuffix(b.Path, "/") + "/"

	resolved := b.ResolveReference(r)
	resolved.RawQuery = b.RawQuery
	return resolved.String(), nil
}
