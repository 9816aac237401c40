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
	"helm.sh/chartrepo/pkg/asset"
)

// FilterFunc returns true if the asset object satisfies
// the predicate of the underlying filter func.
type FilterFunc func(*asset.Asset) bool

// Filter applies the filter(s) to the list of provided assets
// returning the list that satisfies the filtering predicate.
func (fn FilterFunc) Filter(assets []*asset.Asset) (res []*asset.Asset) {
	for _, a := range assets {
		if fn.Check(a) {
			res = append(res, a)
		}
	}
	return
}

// Check applies the FilterFunc to the asset object.
func (fn FilterFunc) Check(a *asset.Asset) bool {
	if a == nil {
		return false
	}
	return fn(a)
}

// Any returns a FilterFunc that filters a list of assets
// determined by the predicate 'f0 || f1 || ... || fn'.
func Any(filters ...FilterFunc) FilterFunc {
	return func(a *asset.Asset) bool {
		for _, filter := range filters {
			if filter(a) {
				return true
			}
		}
		return false
	}
}

// All returns a FilterFunc that filters a list of assets
// determined by the predicate 'f0 && f1 && ... && fn'.
func All(filters ...FilterFunc) FilterFunc {
	return func(a *asset.Asset) bool {
		for _, filter := range filters {
			if !filter(a) {
				return false
			}
		}
		return true
	}
}

// IsComponent filters package assets that carry chart attributes.
func IsComponent(a *asset.Asset) bool {
	return a.IsComponent()
}

// ChartFilter filters components by chart name, and by version when one
// is given.
func ChartFilter(name, version string) FilterFunc {
	return func(a *asset.Asset) bool {
		if !a.IsComponent() || a.Attributes.Name != name {
			return false
		}
		return version == "" || a.Attributes.Version == version
	}
}
