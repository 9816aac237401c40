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

package createindex

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helm.sh/chartrepo/internal/test"
	"helm.sh/chartrepo/pkg/asset"
	"helm.sh/chartrepo/pkg/chart/loader"
	"helm.sh/chartrepo/pkg/events"
	"helm.sh/chartrepo/pkg/repo"
	"helm.sh/chartrepo/pkg/storage"
	"helm.sh/chartrepo/pkg/storage/driver"
)

const testRepository = "hosted"

// scanDriver wraps the memory driver to observe, block or break scans.
type scanDriver struct {
	*driver.Memory

	mu      sync.Mutex
	scans   int
	block   chan struct{}
	started chan struct{}
	fail    error
	panics  bool
}

func newScanDriver() *scanDriver {
	return &scanDriver{Memory: driver.NewMemory()}
}

func (d *scanDriver) FindComponentsAndAssets(ctx context.Context, repository string) ([]*asset.Asset, error) {
	d.mu.Lock()
	d.scans++
	block, started, fail, panics := d.block, d.started, d.fail, d.panics
	d.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if panics {
		panic("scan exploded")
	}
	if fail != nil {
		return nil, fail
	}
	return d.Memory.FindComponentsAndAssets(ctx, repository)
}

func (d *scanDriver) Scans() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scans
}

func storePackage(t *testing.T, s *storage.Storage, name, version string) *asset.Content {
	t.Helper()
	data := test.ChartArchive(t, name, version)
	attrs, err := loader.LoadAttributes(bytes.NewReader(data))
	require.NoError(t, err)
	content := asset.NewContent(data, asset.KindPackage.ContentType())
	_, err = s.StorePackage(context.Background(), testRepository, content, attrs)
	require.NoError(t, err)
	return content
}

func loadIndex(c *asset.Content) (*repo.IndexFile, error) {
	return repo.LoadIndex(c.Data)
}

func waitIdle(t *testing.T, c *Coordinator, rebuilds uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.State() == Idle && c.Rebuilds() >= rebuilds
	}, 5*time.Second, 5*time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "scheduled", Scheduled.String())
	assert.Equal(t, "rebuilding", Rebuilding.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestRebuildPublishesIndex(t *testing.T) {
	s := storage.Init(nil)
	mongodb := storePackage(t, s, "mongodb", "7.2.8")
	storePackage(t, s, "mongodb", "7.3.0")
	storePackage(t, s, "nginx", "1.0.0")

	c := NewCoordinator(testRepository, s, WithInterval(10*time.Millisecond))
	c.Start()
	defer c.Stop()

	c.InvalidateIndex()
	waitIdle(t, c, 1)

	content, a, err := s.GetIndex(context.Background(), testRepository)
	require.NoError(t, err)
	assert.Equal(t, asset.KindIndex, a.Kind)
	assert.Equal(t, "text/x-yaml", content.ContentType)

	index, err := loadIndex(content)
	require.NoError(t, err)
	assert.Equal(t, []string{"mongodb", "nginx"}, index.Names())
	versions := []string{}
	for _, cv := range index.Entries["mongodb"] {
		versions = append(versions, cv.Version)
	}
	assert.Equal(t, []string{"7.2.8", "7.3.0"}, versions, "versions keep scan order")

	cv, err := index.Get("mongodb", "7.2.8")
	require.NoError(t, err)
	assert.Equal(t, []string{"mongodb-7.2.8.tgz"}, cv.URLs)
	assert.Equal(t, mongodb.Digest.Encoded(), cv.Digest, "index digest matches the stored content")

	stored, _, err := s.GetAsset(context.Background(), testRepository, cv.URLs[0])
	require.NoError(t, err)
	assert.Equal(t, cv.Digest, stored.Digest.Encoded())
}

func TestEmptyRepositoryDeletesIndex(t *testing.T) {
	ctx := context.Background()
	s := storage.Init(nil)
	storePackage(t, s, "mongodb", "7.2.8")

	c := NewCoordinator(testRepository, s, WithInterval(10*time.Millisecond))
	c.Start()
	defer c.Stop()

	c.InvalidateIndex()
	waitIdle(t, c, 1)
	_, _, err := s.GetIndex(ctx, testRepository)
	require.NoError(t, err)

	_, err = s.DeleteAsset(ctx, testRepository, "mongodb-7.2.8.tgz")
	require.NoError(t, err)
	c.InvalidateIndex()
	waitIdle(t, c, 2)

	_, _, err = s.GetIndex(ctx, testRepository)
	assert.True(t, storage.IsNotFound(err), "expected the index to be gone, got %v", err)
}

func TestInvalidationsAreCoalesced(t *testing.T) {
	d := newScanDriver()
	s := storage.Init(d)
	storePackage(t, s, "mongodb", "7.2.8")

	c := NewCoordinator(testRepository, s, WithInterval(50*time.Millisecond))
	c.Start()
	defer c.Stop()

	for i := 0; i < 20; i++ {
		c.InvalidateIndex()
		assert.Equal(t, Scheduled, c.State())
	}
	waitIdle(t, c, 1)

	// give a wrongly queued second rebuild the chance to show up
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, d.Scans())
	assert.Equal(t, uint64(1), c.Rebuilds())
}

func TestInvalidationDuringRebuild(t *testing.T) {
	d := newScanDriver()
	d.block = make(chan struct{})
	d.started = make(chan struct{}, 1)
	s := storage.Init(d)
	storePackage(t, s, "mongodb", "7.2.8")

	c := NewCoordinator(testRepository, s, WithInterval(time.Millisecond))
	c.Start()
	defer c.Stop()

	c.InvalidateIndex()
	<-d.started
	assert.Equal(t, Rebuilding, c.State())

	// a package stored while the scan runs must not be lost
	storePackage(t, s, "nginx", "1.0.0")
	c.InvalidateIndex()
	c.InvalidateIndex()
	assert.Equal(t, Rebuilding, c.State())

	// release the first scan, the follow-up must not block
	d.mu.Lock()
	block := d.block
	d.block, d.started = nil, nil
	d.mu.Unlock()
	close(block)
	waitIdle(t, c, 2)

	assert.Equal(t, 2, d.Scans())
	content, _, err := s.GetIndex(context.Background(), testRepository)
	require.NoError(t, err)
	index, err := loadIndex(content)
	require.NoError(t, err)
	assert.True(t, index.Has("nginx", "1.0.0"))
}

func TestFailedRebuildReturnsToIdle(t *testing.T) {
	d := newScanDriver()
	d.fail = errors.New("connection refused")
	s := storage.Init(d)

	c := NewCoordinator(testRepository, s, WithInterval(time.Millisecond))
	c.Start()
	defer c.Stop()

	c.InvalidateIndex()
	waitIdle(t, c, 1)
	_, _, err := s.GetIndex(context.Background(), testRepository)
	assert.True(t, storage.IsNotFound(err))

	// failures are not retried, but the next invalidation works again
	d.mu.Lock()
	d.fail = nil
	d.mu.Unlock()
	storePackage(t, s, "mongodb", "7.2.8")
	c.InvalidateIndex()
	waitIdle(t, c, 2)
	_, _, err = s.GetIndex(context.Background(), testRepository)
	assert.NoError(t, err)
}

func TestPanickingRebuildReturnsToIdle(t *testing.T) {
	d := newScanDriver()
	d.panics = true
	s := storage.Init(d)

	c := NewCoordinator(testRepository, s, WithInterval(time.Millisecond))
	c.Start()
	defer c.Stop()

	c.InvalidateIndex()
	waitIdle(t, c, 1)

	c.InvalidateIndex()
	waitIdle(t, c, 2)
	assert.Equal(t, 2, d.Scans())
}

func TestStopRunsScheduledRebuild(t *testing.T) {
	s := storage.Init(nil)
	storePackage(t, s, "mongodb", "7.2.8")

	c := NewCoordinator(testRepository, s, WithInterval(time.Hour))
	c.Start()

	c.InvalidateIndex()
	c.Stop()

	assert.Equal(t, Idle, c.State())
	assert.Equal(t, uint64(1), c.Rebuilds())
	_, _, err := s.GetIndex(context.Background(), testRepository)
	assert.NoError(t, err)

	// stopped coordinators ignore invalidations
	c.InvalidateIndex()
	assert.Equal(t, Idle, c.State())
	c.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	c := NewCoordinator(testRepository, storage.Init(nil))
	c.Stop()
	c.Start()
	c.InvalidateIndex()
	assert.Equal(t, Idle, c.State())
}

func TestDeleteIndex(t *testing.T) {
	ctx := context.Background()
	s := storage.Init(nil)
	_, err := s.PutIndex(ctx, testRepository, asset.NewContent([]byte("apiVersion: v1\n"), "text/x-yaml"))
	require.NoError(t, err)

	c := NewCoordinator(testRepository, s, WithInterval(time.Hour))
	require.NoError(t, c.DeleteIndex(ctx))

	_, _, err = s.GetIndex(ctx, testRepository)
	assert.True(t, storage.IsNotFound(err))
	assert.Equal(t, Idle, c.State())

	// deleting a missing index is fine
	assert.NoError(t, c.DeleteIndex(ctx))
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	s := storage.Init(nil)
	bus := events.New()

	// not started, so scheduled rebuilds stay scheduled
	c := NewCoordinator(testRepository, s, WithInterval(time.Hour))
	unsubscribe := c.Subscribe(bus)

	bus.Publish(events.Event{Type: events.AssetStored, Repository: "other", Path: "a-1.0.0.tgz", Kind: asset.KindPackage})
	assert.Equal(t, Idle, c.State(), "events of other repositories are ignored")

	bus.Publish(events.Event{Type: events.AssetStored, Repository: testRepository, Path: "a-1.0.0.tgz.prov", Kind: asset.KindProvenance})
	assert.Equal(t, Idle, c.State(), "provenance files do not change the index")

	bus.Publish(events.Event{Type: events.AssetDeleted, Repository: testRepository, Path: "a-1.0.0.tgz", Kind: asset.KindPackage})
	assert.Equal(t, Scheduled, c.State())

	_, err := s.PutIndex(ctx, testRepository, asset.NewContent([]byte("apiVersion: v1\n"), "text/x-yaml"))
	require.NoError(t, err)
	bus.Publish(events.Event{Type: events.RepositoryDeleted, Repository: testRepository})
	_, _, err = s.GetIndex(ctx, testRepository)
	assert.True(t, storage.IsNotFound(err), "the index is deleted right away")

	unsubscribe()
	for _, typ := range []events.Type{events.RepositoryCreated, events.RepositoryDeleted, events.AssetStored, events.AssetDeleted, events.IndexInvalidated} {
		assert.Equal(t, 0, bus.Handlers(typ), string(typ))
	}
}

func TestRepositoryCreatedTriggersRebuild(t *testing.T) {
	s := storage.Init(nil)
	storePackage(t, s, "mongodb", "7.2.8")
	bus := events.New()

	c := NewCoordinator(testRepository, s, WithInterval(time.Millisecond))
	defer c.Subscribe(bus)()
	c.Start()
	defer c.Stop()

	bus.Publish(events.Event{Type: events.RepositoryCreated, Repository: testRepository})
	waitIdle(t, c, 1)

	_, _, err := s.GetIndex(context.Background(), testRepository)
	assert.NoError(t, err)
}
