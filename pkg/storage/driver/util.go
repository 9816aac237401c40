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

package driver // import "helm.sh/chartrepo/pkg/storage/driver"

import (
	"encoding/json"
	"path"
	"strings"

	"helm.sh/chartrepo/pkg/chart"
)

// checkPath rejects empty, absolute and parent relative asset paths.
func checkPath(repository, p string) error {
	if repository == "" || p == "" || strings.HasPrefix(p, "/") || path.Clean(p) != p || strings.HasPrefix(p, "../") || p == ".." {
		return &StorageDriverError{Repository: repository, Path: p, Err: ErrInvalidPath}
	}
	return nil
}

// encodeAttributes encodes chart attributes as a JSON document. Nil
// attributes encode to the empty string.
func encodeAttributes(attrs *chart.Attributes) (string, error) {
	if attrs == nil {
		return "", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeAttributes decodes the output of encodeAttributes.
func decodeAttributes(data string) (*chart.Attributes, error) {
	if data == "" {
		return nil, nil
	}
	var attrs chart.Attributes
	if err := json.Unmarshal([]byte(data), &attrs); err != nil {
		return nil, err
	}
	return &attrs, nil
}
