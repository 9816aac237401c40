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

package driver

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"helm.sh/chartrepo/pkg/asset"
	"helm.sh/chartrepo/pkg/chart"
)

var _ Driver = (*Memory)(nil)

// MemoryDriverName is the string name of this driver.
const MemoryDriverName = "Memory"

type memRecord struct {
	seq     uint64
	asset   *asset.Asset
	content *asset.Content
}

// Memory is the in-memory storage driver implementation.
type Memory struct {
	sync.RWMutex
	seq uint64
	// A map of repository names to the records of that repository, by path
	cache map[string]map[string]*memRecord
	now   func() time.Time
}

// NewMemory initializes a new memory driver.
func NewMemory() *Memory {
	return &Memory{cache: map[string]map[string]*memRecord{}, now: time.Now}
}

// Name returns the name of the driver.
func (mem *Memory) Name() string {
	return MemoryDriverName
}

// PutAsset stores content at path.
func (mem *Memory) PutAsset(_ context.Context, repository, path string, content *asset.Content, kind asset.Kind, attrs *chart.Attributes) (*asset.Asset, error) {
	if err := checkPath(repository, path); err != nil {
		return nil, err
	}
	attrs, err := attrs.Copy()
	if err != nil {
		return nil, err
	}

	defer unlock(mem.wlock())

	now := mem.now().UTC()
	recs, ok := mem.cache[repository]
	if !ok {
		recs = map[string]*memRecord{}
		mem.cache[repository] = recs
	}

	rec, ok := recs[path]
	if !ok {
		mem.seq++
		rec = &memRecord{
			seq:   mem.seq,
			asset: &asset.Asset{ID: uuid.NewString(), Repository: repository, Path: path, Created: now},
		}
		recs[path] = rec
	}
	rec.asset.Kind = kind
	rec.asset.Attributes = attrs
	rec.asset.Digest = content.Digest
	rec.asset.Size = content.Size()
	rec.asset.ContentType = content.ContentType
	rec.asset.Updated = now
	rec.content = &asset.Content{
		Data:         append([]byte(nil), content.Data...),
		ContentType:  content.ContentType,
		Digest:       content.Digest,
		LastModified: now,
	}
	return copyAsset(rec.asset)
}

// DeleteAsset removes the asset at path.
func (mem *Memory) DeleteAsset(_ context.Context, repository, path string) (bool, error) {
	defer unlock(mem.wlock())

	recs, ok := mem.cache[repository]
	if !ok {
		return false, nil
	}
	if _, ok := recs[path]; !ok {
		return false, nil
	}
	delete(recs, path)
	if len(recs) == 0 {
		delete(mem.cache, repository)
	}
	return true, nil
}

// GetAsset returns the asset at path or ErrAssetNotFound.
func (mem *Memory) GetAsset(_ context.Context, repository, path string) (*asset.Content, *asset.Asset, error) {
	defer unlock(mem.rlock())

	rec, ok := mem.cache[repository][path]
	if !ok {
		return nil, nil, newNotFound(repository, path)
	}
	a, err := copyAsset(rec.asset)
	if err != nil {
		return nil, nil, err
	}
	c := *rec.content
	return &c, a, nil
}

// FindComponentsAndAssets returns the package assets of repository in the
// order they were first stored.
func (mem *Memory) FindComponentsAndAssets(_ context.Context, repository string) ([]*asset.Asset, error) {
	defer unlock(mem.rlock())

	var recs []*memRecord
	for _, rec := range mem.cache[repository] {
		if rec.asset.Kind == asset.KindPackage {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })

	assets := make([]*asset.Asset, 0, len(recs))
	for _, rec := range recs {
		a, err := copyAsset(rec.asset)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, nil
}

// wlock locks mem for writing
func (mem *Memory) wlock() func() {
	mem.Lock()
	return func() { mem.Unlock() }
}

// rlock locks mem for reading
func (mem *Memory) rlock() func() {
	mem.RLock()
	return func() { mem.RUnlock() }
}

// unlock calls fn which reverses a mem.rlock or mem.wlock. e.g:
// ```defer unlock(mem.rlock())```, locks mem for reading at the
// call point of defer and unlocks upon exiting the block.
func unlock(fn func()) { fn() }

func copyAsset(a *asset.Asset) (*asset.Asset, error) {
	c := *a
	attrs, err := a.Attributes.Copy()
	if err != nil {
		return nil, err
	}
	c.Attributes = attrs
	return &c, nil
}
