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
	"bytes"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"helm.sh/chartrepo/pkg/asset"
)

// ParseError indicates that an index document is not valid YAML.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "index yaml: " + e.Err.Error() }

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error { return e.Err }

// Encode writes the index as YAML. Keys are written in lexical order, so the
// top level reads apiVersion, entries, generated. The output only differs
// between runs by the generated timestamp.
func Encode(i *IndexFile) ([]byte, error) {
	return yaml.Marshal(i)
}

// EncodeContent encodes the index into a content addressed blob.
func EncodeContent(i *IndexFile) (*asset.Content, error) {
	data, err := Encode(i)
	if err != nil {
		return nil, errors.Wrap(err, "encoding index")
	}
	return asset.NewContent(data, asset.KindIndex.ContentType()), nil
}

// Decode parses an index document into a generic document, without
// interpreting it as an IndexFile. There is no partial recovery: any YAML
// error fails the whole document.
func Decode(data []byte) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Err: ErrEmptyIndexYaml}
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Err: err}
	}
	return doc, nil
}

// LoadIndex parses an index document into an IndexFile. Entries that are
// nil or fail validation are dropped.
func LoadIndex(data []byte) (*IndexFile, error) {
	i := &IndexFile{}
	if len(bytes.TrimSpace(data)) == 0 {
		return i, ErrEmptyIndexYaml
	}
	if err := yaml.Unmarshal(data, i); err != nil {
		return i, &ParseError{Err: err}
	}
	if i.APIVersion == "" {
		return i, ErrNoAPIVersion
	}

	for name, cvs := range i.Entries {
		for idx := len(cvs) - 1; idx >= 0; idx-- {
			if cvs[idx] == nil || cvs[idx].Attributes == nil || cvs[idx].Validate() != nil {
				cvs = append(cvs[:idx], cvs[idx+1:]...)
			}
		}
		i.Entries[name] = cvs
	}
	return i, nil
}
