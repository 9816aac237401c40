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

import (
	"time"

	"github.com/opencontainers/go-digest"

	"helm.sh/chartrepo/pkg/chart"
)

// Asset describes a stored file of a repository. Package assets carry the
// chart attributes extracted when they were stored, which makes them the
// components the index is built from.
type Asset struct {
	// ID is a unique identifier assigned by the storage driver.
	ID string `json:"id,omitempty"`
	// Repository is the name of the owning repository.
	Repository string `json:"repository"`
	// Path is the repository relative path, such as mongodb-7.2.8.tgz.
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
	// Attributes are set for package assets only.
	Attributes  *chart.Attributes `json:"attributes,omitempty"`
	Digest      digest.Digest     `json:"digest"`
	Size        int64             `json:"size"`
	ContentType string            `json:"contentType,omitempty"`
	// Created is when the path was first stored. It survives replacement.
	Created time.Time `json:"created"`
	// Updated is when the content was last replaced.
	Updated time.Time `json:"updated"`
}

// Age is the time elapsed since the content was last stored.
func (a *Asset) Age(now time.Time) time.Duration {
	return now.Sub(a.Updated)
}

// IsComponent reports whether the asset is a package with chart attributes.
func (a *Asset) IsComponent() bool {
	return a.Kind == KindPackage && a.Attributes != nil
}
