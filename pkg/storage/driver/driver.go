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
	"context"
	"fmt"

	"github.com/pkg/errors"

	"helm.sh/chartrepo/pkg/asset"
	"helm.sh/chartrepo/pkg/chart"
)

var (
	// ErrAssetNotFound indicates that no asset is stored at a path.
	ErrAssetNotFound = errors.New("asset: not found")
	// ErrInvalidPath indicates that an asset path is empty or escapes the repository.
	ErrInvalidPath = errors.New("asset: invalid path")
)

// StorageDriverError records an error and the asset path that caused it
type StorageDriverError struct {
	Repository string
	Path       string
	Err        error
}

func (e *StorageDriverError) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Repository, e.Path, e.Err.Error())
}

func (e *StorageDriverError) Unwrap() error { return e.Err }

func newNotFound(repository, path string) error {
	return &StorageDriverError{Repository: repository, Path: path, Err: ErrAssetNotFound}
}

// Creator is the interface that wraps the PutAsset method.
//
// PutAsset stores content at a repository path, replacing the content of an
// existing asset. A replaced asset keeps its creation time.
type Creator interface {
	PutAsset(ctx context.Context, repository, path string, content *asset.Content, kind asset.Kind, attrs *chart.Attributes) (*asset.Asset, error)
}

// Deletor is the interface that wraps the DeleteAsset method.
//
// DeleteAsset removes the asset at a path and reports whether one existed.
type Deletor interface {
	DeleteAsset(ctx context.Context, repository, path string) (bool, error)
}

// Queryor is the interface that wraps the GetAsset and
// FindComponentsAndAssets methods.
//
// GetAsset returns the content and description of the asset at a path or
// ErrAssetNotFound.
//
// FindComponentsAndAssets returns the package assets of a repository in the
// order they were first stored.
type Queryor interface {
	GetAsset(ctx context.Context, repository, path string) (*asset.Content, *asset.Asset, error)
	FindComponentsAndAssets(ctx context.Context, repository string) ([]*asset.Asset, error)
}

// Driver is the interface composed of Creator, Deletor and Queryor. It
// defines the behavior for storing, deleting and retrieving repository
// assets from some underlying storage mechanism, e.g. memory, sql.
//
// Every call is atomic on its own. Callers serialize multi-step updates.
type Driver interface {
	Creator
	Deletor
	Queryor
	Name() string
}
