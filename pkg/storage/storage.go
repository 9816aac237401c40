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

package storage // import "helm.sh/chartrepo/pkg/storage"

import (
	"context"

	"github.com/pkg/errors"

	"helm.sh/chartrepo/pkg/asset"
	"helm.sh/chartrepo/pkg/chart"
	"helm.sh/chartrepo/pkg/storage/driver"
)

// Storage represents a storage engine for repository assets.
type Storage struct {
	driver.Driver

	Log func(string, ...interface{})
}

// Init initializes a new storage backend with the driver d.
// If d is nil, the default in-memory driver is used.
func Init(d driver.Driver) *Storage {
	// default driver is in memory
	if d == nil {
		d = driver.NewMemory()
	}
	return &Storage{
		Driver: d,
		Log:    func(_ string, _ ...interface{}) {},
	}
}

// IsNotFound reports whether err means that no asset exists at a path.
func IsNotFound(err error) bool {
	return errors.Is(err, driver.ErrAssetNotFound)
}

// StorePackage stores a chart package under its canonical filename.
func (s *Storage) StorePackage(ctx context.Context, repository string, content *asset.Content, attrs *chart.Attributes) (*asset.Asset, error) {
	s.Log("storing package %s in repository %s", attrs.Filename(), repository)
	return s.PutAsset(ctx, repository, attrs.Filename(), content, asset.KindPackage, attrs)
}

// Components returns the package assets of repository that satisfy filter,
// in the order they were first stored. A nil filter selects every component.
func (s *Storage) Components(ctx context.Context, repository string, filter FilterFunc) ([]*asset.Asset, error) {
	s.Log("listing components of repository %s", repository)
	assets, err := s.FindComponentsAndAssets(ctx, repository)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return FilterFunc(IsComponent).Filter(assets), nil
	}
	return All(IsComponent, filter).Filter(assets), nil
}

// GetIndex returns the published index of repository.
func (s *Storage) GetIndex(ctx context.Context, repository string) (*asset.Content, *asset.Asset, error) {
	return s.GetAsset(ctx, repository, asset.IndexPath)
}

// PutIndex publishes content as the index of repository.
func (s *Storage) PutIndex(ctx context.Context, repository string, content *asset.Content) (*asset.Asset, error) {
	s.Log("publishing index of repository %s (%s)", repository, content.Digest)
	return s.PutAsset(ctx, repository, asset.IndexPath, content, asset.KindIndex, nil)
}

// DeleteIndex removes the published index of repository.
func (s *Storage) DeleteIndex(ctx context.Context, repository string) (bool, error) {
	s.Log("deleting index of repository %s", repository)
	return s.DeleteAsset(ctx, repository, asset.IndexPath)
}
